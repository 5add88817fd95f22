package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/timerange"
)

// MaxAvailabilityWindow bounds availability queries.
const MaxAvailabilityWindow = 31 * 24 * time.Hour

// Service administers practitioners and their calendars.
type Service struct {
	practitioners PractitionerRepository
	calendar      CalendarRepository
	resolver      *Resolver
	ledger        *Ledger
	tx            db.TxRunner
}

func NewService(practitioners PractitionerRepository, calendar CalendarRepository, resolver *Resolver,
	ledger *Ledger, tx db.TxRunner) *Service {
	return &Service{
		practitioners: practitioners,
		calendar:      calendar,
		resolver:      resolver,
		ledger:        ledger,
		tx:            tx,
	}
}

func validatePractitioner(p *Practitioner) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return conflict.New(conflict.Invalid, "name is required")
	}
	if p.BufferMinutes < 0 {
		return conflict.New(conflict.Invalid, "buffer_minutes must not be negative")
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return conflict.New(conflict.Invalid, "unknown timezone %q", p.Timezone)
	}
	return nil
}

func (s *Service) CreatePractitioner(ctx context.Context, p *Practitioner) error {
	if err := validatePractitioner(p); err != nil {
		return err
	}
	return s.practitioners.Create(ctx, p)
}

func (s *Service) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return s.practitioners.GetByID(ctx, id)
}

func (s *Service) UpdatePractitioner(ctx context.Context, p *Practitioner) error {
	if err := validatePractitioner(p); err != nil {
		return err
	}
	return s.practitioners.Update(ctx, p)
}

func (s *Service) ListPractitioners(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	return s.practitioners.List(ctx, limit, offset)
}

// ReplaceWeeklyAvailability swaps the practitioner's weekly pattern.
func (s *Service) ReplaceWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) error {
	for _, w := range rows {
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return conflict.New(conflict.Invalid, "day_of_week must be 0 (Sunday) through 6")
		}
		if w.StartTime >= w.EndTime || w.EndTime > EndOfDay {
			return conflict.New(conflict.InvalidRange, "start_time must be before end_time on %d", w.DayOfWeek)
		}
	}
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.practitioners.GetByID(ctx, practitionerID); err != nil {
			return err
		}
		return s.calendar.ReplaceWeekly(ctx, practitionerID, rows)
	})
}

func (s *Service) AddException(ctx context.Context, e *DateException) error {
	if (e.StartTime == nil) != (e.EndTime == nil) {
		return conflict.New(conflict.Invalid, "start_time and end_time must be given together")
	}
	if e.Timed() && (*e.StartTime >= *e.EndTime || *e.EndTime > EndOfDay) {
		return conflict.New(conflict.InvalidRange, "start_time must be before end_time")
	}
	if _, err := s.practitioners.GetByID(ctx, e.PractitionerID); err != nil {
		return err
	}
	return s.calendar.AddException(ctx, e)
}

func (s *Service) DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.calendar.DeleteException(ctx, practitionerID, id)
}

func (s *Service) AddBlock(ctx context.Context, b *Block) error {
	if _, err := timerange.New(b.StartAt, b.EndAt); err != nil {
		return conflict.New(conflict.InvalidRange, "start_at must be before end_at")
	}
	if _, err := s.practitioners.GetByID(ctx, b.PractitionerID); err != nil {
		return err
	}
	return s.calendar.AddBlock(ctx, b)
}

func (s *Service) DeleteBlock(ctx context.Context, practitionerID, id uuid.UUID) error {
	return s.calendar.DeleteBlock(ctx, practitionerID, id)
}

// Availability describes a practitioner's calendar over a queried interval.
type Availability struct {
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	Range          timerange.Range   `json:"range"`
	Available      bool              `json:"available"`
	Open           []timerange.Range `json:"open"`
	Free           []timerange.Range `json:"free"`
}

// Availability reports the open windows of r from the calendar rules and
// what remains free once active bookings and their buffers are removed.
// Available is true when all of r could be booked right now.
func (s *Service) Availability(ctx context.Context, practitionerID uuid.UUID, r timerange.Range) (*Availability, error) {
	if r.Duration() > MaxAvailabilityWindow {
		return nil, conflict.New(conflict.Invalid, "availability window must not exceed %s", MaxAvailabilityWindow)
	}
	p, err := s.practitioners.GetByID(ctx, practitionerID)
	if err != nil {
		return nil, err
	}

	out := &Availability{PractitionerID: p.ID, Range: r, Open: []timerange.Range{}, Free: []timerange.Range{}}
	if !p.Active {
		return out, nil
	}

	cal, err := s.resolver.Calendar(ctx, p, r)
	if err != nil {
		return nil, err
	}
	out.Open = cal.OpenWindows(r)

	booked, err := s.ledger.BookedWindows(ctx, p.ID, r)
	if err != nil {
		return nil, err
	}
	free := timerange.NewSet(out.Open...)
	for _, w := range booked {
		free.Subtract(w)
	}
	out.Free = free.Ranges()
	out.Available = free.Covers(r)
	return out, nil
}
