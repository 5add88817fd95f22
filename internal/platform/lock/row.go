package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinic/clinic/internal/platform/db"
)

// Row locks the practitioner's row with SELECT ... FOR UPDATE. Concurrent
// booking writes for the same practitioner queue on that row until the
// holder commits, so a buffer rule the exclusion constraint cannot express
// is still checked against committed data.
type Row struct {
	tx db.TxRunner
}

func NewRow(tx db.TxRunner) *Row {
	return &Row{tx: tx}
}

func (r *Row) WithPractitionerLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	return r.tx.WithTx(ctx, func(ctx context.Context) error {
		tx := db.TxFromContext(ctx)
		if tx == nil {
			return errors.New("row lock requires a database transaction")
		}
		var one int
		err := tx.QueryRow(ctx, "SELECT 1 FROM practitioners WHERE id = $1 FOR UPDATE", practitionerID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return db.NotFound(err, "practitioner")
		}
		if err != nil {
			return fmt.Errorf("lock practitioner row: %w", err)
		}
		return fn(ctx)
	})
}
