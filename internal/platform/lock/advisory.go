package lock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/db"
)

// Advisory takes pg_advisory_xact_lock on a key derived from the practitioner
// id. The lock belongs to the transaction it opens and is released by its
// commit or rollback; fn joins that transaction.
type Advisory struct {
	tx db.TxRunner
}

func NewAdvisory(tx db.TxRunner) *Advisory {
	return &Advisory{tx: tx}
}

func (a *Advisory) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	return a.tx.WithTx(ctx, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		if tx == nil {
			return errors.New("advisory lock requires a database transaction")
		}
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", AdvisoryKey(practitionerID)); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		return fn(ctx)
	})
}

// AdvisoryKey folds a UUID into the bigint keyspace of advisory locks.
func AdvisoryKey(id uuid.UUID) int64 {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return int64(hi ^ lo)
}
