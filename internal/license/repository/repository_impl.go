package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/internal/license/domain"
	"gorm.io/gorm"
)

const licenseColumns = `id, license_key, hwid, days, activated_at, expires_at, status, last_check, note, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.License, error) {
	var l domain.License
	err := db.WithContext(ctx).Raw(
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = ?`,
		key,
	).Scan(&l).Error
	if err != nil {
		return nil, err
	}
	if l.ID == 0 {
		return nil, nil
	}
	return &l, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.License, error) {
	var l domain.License
	err := db.WithContext(ctx).Raw(
		`SELECT `+licenseColumns+` FROM licenses WHERE id = ?`,
		id,
	).Scan(&l).Error
	if err != nil {
		return nil, err
	}
	if l.ID == 0 {
		return nil, nil
	}
	return &l, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, l *domain.License) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO licenses (`+licenseColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID,
		l.LicenseKey,
		l.HWID,
		l.Days,
		l.ActivatedAt,
		l.ExpiresAt,
		l.Status,
		l.LastCheck,
		l.Note,
		l.Version,
		l.CreatedAt,
		l.UpdatedAt,
	).Error
}

func (r *repo) CompareAndSwap(ctx context.Context, db *gorm.DB, l *domain.License, expectedVersion int64) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE licenses
		 SET hwid = ?, activated_at = ?, expires_at = ?, status = ?, last_check = ?, note = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		l.HWID,
		l.ActivatedAt,
		l.ExpiresAt,
		l.Status,
		l.LastCheck,
		l.Note,
		expectedVersion+1,
		l.UpdatedAt,
		l.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrStale
	}
	l.Version = expectedVersion + 1
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM licenses WHERE id = ?`, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.License, error) {
	var items []*domain.License
	stmt := db.WithContext(ctx).Model(&domain.License{})

	if status := strings.TrimSpace(filter.Status); status != "" {
		stmt = stmt.Where("status = ?", status)
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (domain.Stats, error) {
	var row struct {
		Total     int64 `gorm:"column:total"`
		Active    int64 `gorm:"column:active"`
		Activated int64 `gorm:"column:activated"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN hwid IS NOT NULL THEN 1 ELSE 0 END), 0) AS activated
		 FROM licenses`,
		domain.StatusActive,
	).Scan(&row).Error
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{
		Total:     row.Total,
		Active:    row.Active,
		Activated: row.Activated,
	}, nil
}
