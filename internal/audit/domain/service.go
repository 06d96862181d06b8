package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hwlicense/pkg/db/pagination"
	"gorm.io/gorm"
)

// Entry describes an event to record. Actor, client address and user agent
// are taken from the request context when not set.
type Entry struct {
	LicenseID  *snowflake.ID
	LicenseKey string
	Action     string
	Outcome    string
	Reason     string
	ActorType  ActorType
	ActorID    string
	Metadata   map[string]any
}

type ListEventsRequest struct {
	pagination.Pagination
	LicenseID snowflake.ID
	Action    string `form:"action"`
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []Event `json:"events"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Event, error)
}

var (
	ErrInvalidLicense   = errors.New("invalid_license")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
)
