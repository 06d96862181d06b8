package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeClient ActorType = "client"
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeSystem ActorType = "system"
)

const (
	ActionCreated      = "created"
	ActionActivated    = "activated"
	ActionReactivated  = "reactivated"
	ActionChecked      = "checked"
	ActionExpired      = "expired"
	ActionRevoked      = "revoked"
	ActionDeleted      = "deleted"
	ActionDownloadLink = "download_link"
	ActionRejected     = "rejected"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Event is one append-only entry of a license's history.
type Event struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	LicenseID  *snowflake.ID     `gorm:"column:license_id;index:ix_license_events_license_created,priority:1" json:"license_id"`
	LicenseKey string            `gorm:"column:license_key;type:varchar(128);not null;default:''" json:"license_key"`
	Action     string            `gorm:"column:action;type:varchar(32);not null" json:"action"`
	Outcome    string            `gorm:"column:outcome;type:varchar(16);not null" json:"outcome"`
	Reason     *string           `gorm:"column:reason;type:text" json:"reason,omitempty"`
	ActorType  string            `gorm:"column:actor_type;type:varchar(16);not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	IPAddress  *string           `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"column:created_at;not null;index:ix_license_events_license_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (Event) TableName() string { return "license_events" }

type EventCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	LicenseID snowflake.ID
	Action    string
	Cursor    *EventCursor
	Limit     int
}
