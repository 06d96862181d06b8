package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the time source used by the license state machine and gates.
type Clock interface {
	Now() time.Time
}

// Precision is the finest timestamp resolution every supported store keeps.
// Times that are persisted and also returned to callers are truncated to it
// so a value read back compares equal to the one handed out.
const Precision = time.Microsecond

type systemClock struct{}

// New returns a Clock backed by the wall clock, always in UTC.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
