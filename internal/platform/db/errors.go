package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinic/clinic/internal/platform/conflict"
)

// SQLSTATE codes the core reacts to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
	CodeExclusionViolation   = "23P01"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeQueryCanceled        = "57014"
)

// PgCode returns the SQLSTATE of err, or "" if err is not a server error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint of err, if any.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsExclusionViolation(err error) bool { return PgCode(err) == CodeExclusionViolation }

func IsUniqueViolation(err error) bool { return PgCode(err) == CodeUniqueViolation }

func IsForeignKeyViolation(err error) bool { return PgCode(err) == CodeForeignKeyViolation }

// IsRetryable reports whether a whole transaction may be replayed after err.
func IsRetryable(err error) bool {
	switch PgCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return true
	}
	return pgconn.SafeToRetry(err)
}

// NotFound converts pgx.ErrNoRows into a classified not-found error and
// passes every other error through.
func NotFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return conflict.New(conflict.NotFound, "%s not found", what)
	}
	return err
}

// classify turns storage failures that escaped the retry loop into the
// conflict taxonomy. Errors already classified are returned unchanged.
func classify(err error, retriesExhausted bool) error {
	if err == nil || conflict.KindOf(err) != "" {
		return err
	}
	switch PgCode(err) {
	case CodeLockNotAvailable, CodeQueryCanceled:
		return conflict.Wrap(conflict.LockTimeout, err, "resource is busy, retry the request")
	}
	if retriesExhausted {
		return conflict.Wrap(conflict.Unavailable, err, "storage temporarily unavailable")
	}
	return fmt.Errorf("transaction: %w", err)
}
