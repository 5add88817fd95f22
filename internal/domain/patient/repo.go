package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/optimistic"
)

type GuardianRepository interface {
	optimistic.Store[*Guardian]
	Create(ctx context.Context, g *Guardian) error
	GetByID(ctx context.Context, id uuid.UUID) (*Guardian, error)
	List(ctx context.Context, limit, offset int) ([]*Guardian, int, error)
}

type ChildRepository interface {
	optimistic.Store[*Child]
	Create(ctx context.Context, c *Child) error
	GetByID(ctx context.Context, id uuid.UUID) (*Child, error)
	ListByGuardian(ctx context.Context, guardianID uuid.UUID, limit, offset int) ([]*Child, int, error)
}
