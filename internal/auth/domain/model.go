// Package domain contains core types for admin authentication.
package domain

import "time"

// Session represents a persisted admin login session. Only the sha256 of the
// bearer token is stored.
type Session struct {
	ID         string     `gorm:"primaryKey;type:varchar(26)"`
	TokenHash  string     `gorm:"column:token_hash;type:varchar(64);not null;uniqueIndex:ux_admin_sessions_token_hash"`
	Username   string     `gorm:"column:username;type:text;not null"`
	IPAddress  string     `gorm:"column:ip_address;type:text"`
	UserAgent  string     `gorm:"column:user_agent;type:text"`
	ExpiresAt  time.Time  `gorm:"column:expires_at;not null;index:ix_admin_sessions_expires_at"`
	RevokedAt  *time.Time `gorm:"column:revoked_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	LastSeenAt time.Time  `gorm:"column:last_seen_at;not null"`
}

// TableName sets the database table name.
func (Session) TableName() string { return "admin_sessions" }
