package clinical

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/scheduling"
)

type EncounterRepository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Close(ctx context.Context, e *Encounter) error
}

// NoteRepository stores note headers. Versions go through versioning.Store.
type NoteRepository interface {
	Create(ctx context.Context, n *ClinicalNote) error
	GetByID(ctx context.Context, id uuid.UUID) (*ClinicalNote, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*ClinicalNote, error)
	Update(ctx context.Context, n *ClinicalNote) error
}

// BookingReader is the slice of the booking ledger encounters depend on.
type BookingReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*scheduling.Booking, error)
}
