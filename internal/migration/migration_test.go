package migration

import (
	"strings"
	"sync"
	"testing"

	auditdomain "github.com/smallbiznis/hwlicense/internal/audit/domain"
	authdomain "github.com/smallbiznis/hwlicense/internal/auth/domain"
	licensedomain "github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

// MySQL cannot index a TEXT column without a key length and older servers
// reject TEXT defaults, so AutoMigrate models must avoid both.
func TestAutoMigrateModelsAreMySQLCompatible(t *testing.T) {
	models := []any{&licensedomain.License{}, &auditdomain.Event{}, &authdomain.Session{}}
	cache := &sync.Map{}

	for _, model := range models {
		sch, err := schema.Parse(model, cache, schema.NamingStrategy{})
		require.NoError(t, err)

		indexed := map[string]bool{}
		for _, idx := range sch.ParseIndexes() {
			for _, opt := range idx.Fields {
				indexed[opt.DBName] = true
			}
		}

		for _, field := range sch.Fields {
			if field.DBName == "" {
				continue
			}
			isText := strings.EqualFold(field.TagSettings["TYPE"], "text")
			if field.PrimaryKey || indexed[field.DBName] {
				assert.False(t, isText, "%s.%s is indexed but typed text", sch.Table, field.DBName)
			}
			if isText {
				assert.False(t, field.HasDefaultValue, "%s.%s has a default on a text column", sch.Table, field.DBName)
			}
		}
	}
}

func TestAutoMigrateCreatesSchema(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))
	for _, table := range []string{"licenses", "license_events", "admin_sessions"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}
