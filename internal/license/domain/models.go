package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

const (
	DefaultDays = 30
	MaxDays     = 3650
)

// License is a license key record. HWID, ActivatedAt and ExpiresAt are set
// together, exactly once, on first activation.
type License struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	LicenseKey  string       `gorm:"column:license_key;type:varchar(128);not null;uniqueIndex:ux_licenses_license_key" json:"license_key"`
	HWID        *string      `gorm:"column:hwid;type:varchar(256)" json:"hwid"`
	Days        int          `gorm:"column:days;not null;default:30" json:"days"`
	ActivatedAt *time.Time   `gorm:"column:activated_at" json:"activated_at"`
	ExpiresAt   *time.Time   `gorm:"column:expires_at" json:"expires_at"`
	Status      Status       `gorm:"column:status;type:varchar(16);not null;default:'active';index:ix_licenses_status" json:"status"`
	LastCheck   *time.Time   `gorm:"column:last_check" json:"last_check"`
	Note        string       `gorm:"column:note;type:text;not null" json:"note"`
	Version     int64        `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt   time.Time    `gorm:"column:created_at;not null;index:ix_licenses_created_at" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName sets the database table name.
func (License) TableName() string { return "licenses" }

func (l *License) IsActivated() bool {
	return l != nil && l.ActivatedAt != nil
}

func (l *License) BoundHWID() string {
	if l == nil || l.HWID == nil {
		return ""
	}
	return *l.HWID
}

// PastExpiry reports whether the entitlement window has elapsed at now.
func (l *License) PastExpiry(now time.Time) bool {
	return l != nil && l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// DaysLeft is the number of whole days remaining, never negative. A record
// that was never activated reports its full entitlement.
func (l *License) DaysLeft(now time.Time) int {
	if l == nil {
		return 0
	}
	if l.ExpiresAt == nil {
		return l.Days
	}
	remaining := l.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining / (24 * time.Hour))
}

// Clone returns a deep copy so a candidate transition never aliases the
// loaded record.
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	out := *l
	out.HWID = cloneString(l.HWID)
	out.ActivatedAt = cloneTime(l.ActivatedAt)
	out.ExpiresAt = cloneTime(l.ExpiresAt)
	out.LastCheck = cloneTime(l.LastCheck)
	return &out
}

type Stats struct {
	Total     int64 `json:"total_licenses"`
	Active    int64 `json:"active_licenses"`
	Activated int64 `json:"activated_licenses"`
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
