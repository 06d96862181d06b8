package domain

import "strings"

type BindingDecision int

const (
	// BindNew means the record has no hardware bound yet.
	BindNew BindingDecision = iota
	Match
	Conflict
)

func (d BindingDecision) String() string {
	switch d {
	case BindNew:
		return "bind_new"
	case Match:
		return "match"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// BindingPolicy decides how a presented hardware id relates to a record.
// Activation, validity checks and download gating all go through it.
type BindingPolicy struct{}

func (BindingPolicy) Evaluate(l *License, hwid string) BindingDecision {
	bound := l.BoundHWID()
	if bound == "" {
		return BindNew
	}
	if bound == hwid {
		return Match
	}
	return Conflict
}

// NormalizeHWID trims surrounding whitespace. Comparison is exact otherwise.
func NormalizeHWID(hwid string) (string, error) {
	hwid = strings.TrimSpace(hwid)
	if hwid == "" || len(hwid) > 256 {
		return "", ErrInvalidHWID
	}
	return hwid, nil
}

// NormalizeKey trims and upper-cases a presented license key.
func NormalizeKey(key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" || len(key) > 128 {
		return "", ErrInvalidKey
	}
	return key, nil
}
