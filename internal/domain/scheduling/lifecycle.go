package scheduling

import (
	"strings"
	"time"

	"github.com/clinic/clinic/internal/platform/conflict"
)

var transitions = map[BookingStatus][]BookingStatus{
	StatusRequested: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted, StatusNoShow},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves b to status to. Cancellation requires a reason and stamps
// CancelledAt. Terminal statuses accept no further transitions.
func Transition(b *Booking, to BookingStatus, reason string, now time.Time) error {
	if !CanTransition(b.Status, to) {
		return conflict.New(conflict.InvalidTransition, "cannot move booking from %s to %s", b.Status, to)
	}

	if to == StatusCancelled {
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return conflict.New(conflict.Invalid, "cancellation reason is required")
		}
		at := now.UTC()
		b.CancelledAt = &at
		b.CancellationReason = &reason
	}

	b.Status = to
	b.UpdatedAt = now.UTC()
	return nil
}
