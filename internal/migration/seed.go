package migration

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/internal/license/domain"
	"github.com/smallbiznis/hwlicense/pkg/db"
	"gorm.io/gorm"
)

const (
	// TestLicenseKey is the well-known development key.
	TestLicenseKey  = "TEST-KEY-12345"
	testLicenseDays = 30
)

// EnsureTestLicense inserts the development license once. An existing key is
// left untouched.
func EnsureTestLicense(ctx context.Context, conn *gorm.DB, repo domain.Repository, genID *snowflake.Node, key string, now time.Time) (bool, error) {
	existing, err := repo.FindByKey(ctx, conn, key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	err = repo.Insert(ctx, conn, &domain.License{
		ID:         genID.Generate(),
		LicenseKey: key,
		Days:       testLicenseDays,
		Status:     domain.StatusActive,
		Note:       "development test license",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if db.IsDuplicateKeyErr(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
