package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/clinic/internal/platform/conflict"
)

func pgErr(code string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, ConstraintName: "bookings_no_overlap"})
}

func TestPgCode(t *testing.T) {
	if got := PgCode(pgErr(CodeExclusionViolation)); got != CodeExclusionViolation {
		t.Errorf("expected %s, got %q", CodeExclusionViolation, got)
	}
	if got := PgCode(errors.New("boom")); got != "" {
		t.Errorf("expected empty code, got %q", got)
	}
	if got := ConstraintName(pgErr(CodeExclusionViolation)); got != "bookings_no_overlap" {
		t.Errorf("unexpected constraint name %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		code     string
		expected bool
	}{
		{CodeSerializationFailure, true},
		{CodeDeadlockDetected, true},
		{CodeExclusionViolation, false},
		{CodeUniqueViolation, false},
		{CodeLockNotAvailable, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(pgErr(tt.code)); got != tt.expected {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.code, got, tt.expected)
		}
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound(pgx.ErrNoRows, "booking")
	if !errors.Is(err, conflict.ErrNotFound) {
		t.Errorf("expected not-found kind, got %v", err)
	}
	other := errors.New("boom")
	if NotFound(other, "booking") != other {
		t.Error("expected other errors to pass through")
	}
}

func TestClassify(t *testing.T) {
	if !errors.Is(classify(pgErr(CodeLockNotAvailable), false), conflict.ErrLockTimeout) {
		t.Error("expected 55P03 to become a lock timeout")
	}
	if !errors.Is(classify(pgErr(CodeSerializationFailure), true), conflict.ErrUnavailable) {
		t.Error("expected exhausted retries to become unavailable")
	}
	orig := conflict.New(conflict.DoubleBooked, "taken")
	if classify(orig, true) != error(orig) {
		t.Error("expected classified errors to pass through unchanged")
	}
	if conflict.KindOf(classify(errors.New("boom"), false)) != "" {
		t.Error("expected unknown errors to stay unclassified")
	}
}
