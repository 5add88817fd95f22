package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/timerange"
)

type PractitionerRepository interface {
	Create(ctx context.Context, p *Practitioner) error
	GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	Update(ctx context.Context, p *Practitioner) error
	List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error)
}

type CalendarRepository interface {
	CalendarSource
	ReplaceWeekly(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) error
	AddException(ctx context.Context, e *DateException) error
	DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error
	AddBlock(ctx context.Context, b *Block) error
	DeleteBlock(ctx context.Context, practitionerID, id uuid.UUID) error
}

type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	// GetForUpdate row-locks the booking for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	// ListActive returns REQUESTED and CONFIRMED bookings of the practitioner
	// whose buffered interval overlaps window, skipping exclude when set.
	ListActive(ctx context.Context, practitionerID uuid.UUID, window timerange.Range, exclude *uuid.UUID) ([]*Booking, error)
	UpdateTimes(ctx context.Context, b *Booking) error
	UpdateStatus(ctx context.Context, b *Booking, from BookingStatus) error
	List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error)
}
