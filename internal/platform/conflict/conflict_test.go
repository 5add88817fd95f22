package conflict

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := New(DoubleBooked, "practitioner already booked")
	if !errors.Is(err, ErrDoubleBooked) {
		t.Error("expected errors.Is to match on kind")
	}
	if errors.Is(err, ErrVersionMismatch) {
		t.Error("expected kinds to differ")
	}

	wrapped := fmt.Errorf("reserve: %w", err)
	if !errors.Is(wrapped, ErrDoubleBooked) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("x: %w", ErrNotSigned)); got != NotSigned {
		t.Errorf("expected %s, got %s", NotSigned, got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind for plain error, got %s", got)
	}
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("pg: 23P01")
	err := Wrap(DoubleBooked, cause, "slot taken")
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if Message(err) != "slot taken" {
		t.Errorf("unexpected message %q", Message(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{DoubleBooked, http.StatusConflict},
		{VersionMismatch, http.StatusConflict},
		{InvalidTransition, http.StatusConflict},
		{NoteSigned, http.StatusConflict},
		{InvalidRange, http.StatusBadRequest},
		{Invalid, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Forbidden, http.StatusForbidden},
		{LockTimeout, http.StatusConflict},
		{Unavailable, http.StatusServiceUnavailable},
		{Kind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.kind); got != tt.status {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.status)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(ErrLockTimeout) {
		t.Error("lock timeout should be retryable")
	}
	if Retryable(ErrDoubleBooked) {
		t.Error("double booking is a final answer")
	}
	if Retryable(ErrVersionMismatch) {
		t.Error("version mismatch must not be retried by the core")
	}
}
