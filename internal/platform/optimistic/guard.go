// Package optimistic applies compare-and-swap updates to versioned entities.
package optimistic

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
)

// Versioned is implemented by entities carrying a monotonically increasing
// version counter.
type Versioned interface {
	GetVersion() int
	SetVersion(v int)
}

// Store loads an entity with a row lock and persists it conditionally.
type Store[T Versioned] interface {
	LoadForUpdate(ctx context.Context, id uuid.UUID) (T, error)
	// SaveIfVersion writes entity only if the stored version still equals
	// expected, returning conflict.VersionMismatch otherwise.
	SaveIfVersion(ctx context.Context, entity T, expected int) error
}

// Guard runs compare, mutate and version bump in one transaction.
type Guard[T Versioned] struct {
	tx    db.TxRunner
	store Store[T]
}

func NewGuard[T Versioned](tx db.TxRunner, store Store[T]) *Guard[T] {
	return &Guard[T]{tx: tx, store: store}
}

// Apply loads id, rejects the call with VersionMismatch unless its version
// equals expected, then applies mutate and saves with version+1. An error
// from mutate aborts without persisting anything.
func (g *Guard[T]) Apply(ctx context.Context, id uuid.UUID, expected int, mutate func(T) error) (T, error) {
	var result T
	if expected < 1 {
		return result, conflict.New(conflict.Invalid, "version must be a positive integer")
	}

	err := g.tx.WithTx(ctx, func(ctx context.Context) error {
		entity, err := g.store.LoadForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if current := entity.GetVersion(); current != expected {
			return conflict.New(conflict.VersionMismatch,
				"version conflict: expected version %d but record is at version %d", expected, current)
		}

		if err := mutate(entity); err != nil {
			return err
		}

		entity.SetVersion(expected + 1)
		if err := g.store.SaveIfVersion(ctx, entity, expected); err != nil {
			return err
		}
		result = entity
		return nil
	})
	return result, err
}
