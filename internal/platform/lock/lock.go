// Package lock serializes booking writes per practitioner.
package lock

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Locker runs fn while holding the practitioner's booking lock. Callers open
// their transaction inside fn so the lock outlives the commit.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error
}

// Mode selects the Locker implementation.
type Mode string

const (
	// ModeExclusion serializes on the practitioner row and leaves overlap
	// detection to the bookings exclusion constraint.
	ModeExclusion Mode = "exclusion"
	ModeAdvisory  Mode = "advisory"
	ModeRedis     Mode = "redis"
	ModeLocal     Mode = "local"
)

// ParseMode validates a configured lock mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeExclusion, ModeAdvisory, ModeRedis, ModeLocal:
		return m, nil
	case "":
		return ModeExclusion, nil
	default:
		return "", fmt.Errorf("unknown lock mode %q", s)
	}
}
