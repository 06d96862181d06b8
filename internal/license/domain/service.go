package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Activate(ctx context.Context, req ActivateRequest) (ActivateResult, error)
	CheckValid(ctx context.Context, req CheckRequest) (CheckResult, error)
	Create(ctx context.Context, req CreateRequest) (*License, error)
	Revoke(ctx context.Context, id snowflake.ID) (*License, error)
	Delete(ctx context.Context, id snowflake.ID) error
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Stats(ctx context.Context) (Stats, error)
}

type ActivateRequest struct {
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid"`
}

type ActivateResult struct {
	ExpiresAt time.Time `json:"expires_at"`
	Days      int       `json:"days"`
	// FirstActivation is false for an idempotent same-hardware repeat.
	FirstActivation bool `json:"-"`
}

type CheckRequest struct {
	LicenseKey string `json:"license_key"`
	HWID       string `json:"hwid"`
}

// CheckResult is the answer to a validity check. An invalid result is not an
// error; Reason carries the outcome sentinel.
type CheckResult struct {
	Valid     bool
	Reason    error
	ExpiresAt *time.Time
	DaysLeft  int
	License   *License
}

type CreateRequest struct {
	Days int    `json:"days"`
	Note string `json:"note"`
}

type ListRequest struct {
	pagination.Pagination
	Status string `form:"status"`
}

type ListResponse struct {
	pagination.PageInfo
	Licenses []License `json:"licenses"`
}

type ListFilter struct {
	Status string
	Cursor *Cursor
	Limit  int
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

// Repository persists license records. Every mutation of an existing record
// goes through CompareAndSwap.
type Repository interface {
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*License, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*License, error)
	// Insert fails with a duplicate key error when the id or key exists.
	Insert(ctx context.Context, db *gorm.DB, l *License) error
	// CompareAndSwap writes l when the stored version equals expectedVersion
	// and bumps it. It returns ErrStale otherwise.
	CompareAndSwap(ctx context.Context, db *gorm.DB, l *License, expectedVersion int64) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*License, error)
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
}
