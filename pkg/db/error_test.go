package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm", gorm.ErrDuplicatedKey, true},
		{"wrapped_gorm", fmt.Errorf("insert license: %w", gorm.ErrDuplicatedKey), true},
		{"pgx", &pgconn.PgError{Code: "23505"}, true},
		{"pgx_other", &pgconn.PgError{Code: "40001"}, false},
		{"pq", &pq.Error{Code: "23505"}, true},
		{"mysql", errors.New("Error 1062: Duplicate entry"), true},
		{"sqlite", errors.New("UNIQUE constraint failed: licenses.license_key"), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDuplicateKeyErr(tc.err))
		})
	}
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	assert.Error(t, err)

	_, err = Dialect(Config{Type: "sqlite"})
	assert.Error(t, err, "sqlite needs a path")

	d, err := Dialect(Config{Type: "postgres", Host: "localhost", Port: "5432"})
	assert.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())
}

func TestDialectMySQLUsesMicrosecondDatetime(t *testing.T) {
	d, err := Dialect(Config{Type: "mysql", Host: "localhost", Port: "3306", Name: "licenses"})
	require.NoError(t, err)
	my, ok := d.(*mysql.Dialector)
	require.True(t, ok)
	require.NotNil(t, my.DefaultDatetimePrecision)
	assert.Equal(t, 6, *my.DefaultDatetimePrecision)
}
