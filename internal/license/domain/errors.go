package domain

import "errors"

var (
	ErrNotFound         = errors.New("not_found")
	ErrInactive         = errors.New("inactive")
	ErrHwidConflict     = errors.New("hwid_conflict")
	ErrExpired          = errors.New("expired")
	ErrInvalidKey       = errors.New("invalid_license_key")
	ErrInvalidHWID      = errors.New("invalid_hwid")
	ErrInvalidDays      = errors.New("invalid_days")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidStatus    = errors.New("invalid_status")

	// ErrStale is returned by the store when a compare-and-swap loses a race.
	ErrStale = errors.New("stale_record")
	// ErrKeySpaceExhausted means key generation kept colliding with existing keys.
	ErrKeySpaceExhausted = errors.New("key_generation_exhausted")
)

// IsOutcome reports whether err is an expected lifecycle outcome rather than
// a failure of the system.
func IsOutcome(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInactive) ||
		errors.Is(err, ErrHwidConflict) ||
		errors.Is(err, ErrExpired)
}

// Message is the client-facing text for an outcome.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "License key not found"
	case errors.Is(err, ErrInactive):
		return "License is not active"
	case errors.Is(err, ErrHwidConflict):
		return "License is already activated on another device"
	case errors.Is(err, ErrExpired):
		return "License has expired"
	default:
		return "License check failed"
	}
}
