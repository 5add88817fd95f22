package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/internal/platform/telemetry"
	"github.com/clinic/clinic/pkg/timerange"
)

var tracer = telemetry.Tracer("scheduling")

// ReserveRequest carries a new booking.
type ReserveRequest struct {
	PractitionerID uuid.UUID     `json:"practitioner_id"`
	ServiceID      uuid.UUID     `json:"service_id"`
	ChildID        *uuid.UUID    `json:"child_id,omitempty"`
	GuardianID     *uuid.UUID    `json:"guardian_id,omitempty"`
	StartAt        time.Time     `json:"start_at"`
	EndAt          time.Time     `json:"end_at"`
	BufferMinutes  *int          `json:"buffer_minutes,omitempty"`
	Source         BookingSource `json:"source,omitempty"`
	Notes          string        `json:"notes,omitempty"`
	// Confirm creates the booking directly in CONFIRMED.
	Confirm bool `json:"confirm,omitempty"`
}

// Ledger owns every write to bookings. Writes for one practitioner are
// serialized by the Locker and re-checked against active bookings inside the
// transaction, so two active bookings never conflict.
type Ledger struct {
	practitioners PractitionerRepository
	bookings      BookingRepository
	resolver      *Resolver
	tx            db.TxRunner
	locker        lock.Locker
	events        events.Emitter
	logger        zerolog.Logger
	now           func() time.Time
}

func NewLedger(practitioners PractitionerRepository, bookings BookingRepository, resolver *Resolver,
	tx db.TxRunner, locker lock.Locker, emitter events.Emitter, logger zerolog.Logger) *Ledger {
	return &Ledger{
		practitioners: practitioners,
		bookings:      bookings,
		resolver:      resolver,
		tx:            tx,
		locker:        locker,
		events:        emitter,
		logger:        logger.With().Str("component", "ledger").Logger(),
		now:           time.Now,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// canAccess reports whether scope reaches booking b. Guardians see only
// their own bookings; clinicians only their own calendar.
func canAccess(scope auth.Scope, b *Booking) bool {
	if scope.GuardianID != nil {
		return b.GuardianID != nil && *b.GuardianID == *scope.GuardianID
	}
	return scope.OwnsPractitioner(b.PractitionerID)
}

// Reserve books a practitioner's time. The request is rejected with
// InvalidRange, DoctorUnavailable or DoubleBooked; on success the booking and
// its booking.created event commit together.
func (l *Ledger) Reserve(ctx context.Context, scope auth.Scope, req ReserveRequest) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Reserve", trace.WithAttributes(
		attribute.String("practitioner.id", req.PractitionerID.String())))
	defer func() { endSpan(span, err) }()

	r, err := timerange.New(req.StartAt, req.EndAt)
	if err != nil {
		return nil, conflict.New(conflict.InvalidRange, "start_at must be before end_at")
	}
	if req.PractitionerID == uuid.Nil {
		return nil, conflict.New(conflict.Invalid, "practitioner_id is required")
	}
	if req.ServiceID == uuid.Nil {
		return nil, conflict.New(conflict.Invalid, "service_id is required")
	}
	if req.BufferMinutes != nil && *req.BufferMinutes < 0 {
		return nil, conflict.New(conflict.Invalid, "buffer_minutes must not be negative")
	}

	if scope.GuardianID != nil {
		if req.GuardianID != nil && *req.GuardianID != *scope.GuardianID {
			return nil, conflict.New(conflict.Forbidden, "cannot book for another guardian")
		}
		req.GuardianID = scope.GuardianID
		req.Source = SourceOnline
		req.Confirm = false
		// Padding is the practitioner's to set.
		req.BufferMinutes = nil
	} else if !scope.OwnsPractitioner(req.PractitionerID) {
		return nil, conflict.New(conflict.Forbidden, "cannot book for another practitioner")
	}

	p, err := l.practitioners.GetByID(ctx, req.PractitionerID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, conflict.New(conflict.DoctorUnavailable, "practitioner %s is not active", p.ID)
	}

	ok, err := l.resolver.IsAvailable(ctx, p, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict.New(conflict.DoctorUnavailable, "practitioner is not available for %s", r)
	}

	now := l.now().UTC()
	b := &Booking{
		ID:             uuid.New(),
		PractitionerID: p.ID,
		ServiceID:      req.ServiceID,
		ChildID:        req.ChildID,
		GuardianID:     req.GuardianID,
		StartAt:        r.Start.UTC(),
		EndAt:          r.End.UTC(),
		BufferMinutes:  p.BufferMinutes,
		Status:         StatusRequested,
		Source:         req.Source,
		Notes:          req.Notes,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.BufferMinutes != nil {
		b.BufferMinutes = *req.BufferMinutes
	}
	if b.Source == "" {
		b.Source = SourceStaff
	}
	if req.Confirm {
		b.Status = StatusConfirmed
	}

	err = l.locker.WithPractitionerLock(ctx, p.ID, func(ctx context.Context) error {
		return l.tx.WithTx(ctx, func(ctx context.Context) error {
			if err := l.checkFree(ctx, b); err != nil {
				return err
			}
			if err := l.bookings.Create(ctx, b); err != nil {
				return err
			}
			return l.emit(ctx, events.BookingCreated, b, "")
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("practitioner_id", b.PractitionerID.String()).
		Time("start_at", b.StartAt).
		Str("status", string(b.Status)).
		Msg("booking reserved")
	return b, nil
}

// checkFree fails with DoubleBooked when an active booking other than b
// conflicts with it.
func (l *Ledger) checkFree(ctx context.Context, b *Booking) error {
	exclude := b.ID
	candidates, err := l.bookings.ListActive(ctx, b.PractitionerID, b.Effective(), &exclude)
	if err != nil {
		return err
	}
	for _, other := range candidates {
		if b.ConflictsWith(other) {
			return conflict.New(conflict.DoubleBooked, "overlaps booking %s (%s)", other.ID, other.Range())
		}
	}
	return nil
}

// Reschedule moves an active booking. Its own current interval never blocks
// the move.
func (l *Ledger) Reschedule(ctx context.Context, scope auth.Scope, id uuid.UUID, start, end time.Time) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Reschedule", trace.WithAttributes(
		attribute.String("booking.id", id.String())))
	defer func() { endSpan(span, err) }()

	r, err := timerange.New(start, end)
	if err != nil {
		return nil, conflict.New(conflict.InvalidRange, "start_at must be before end_at")
	}

	current, err := l.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(scope, current) {
		return nil, conflict.New(conflict.Forbidden, "booking %s is outside your scope", id)
	}
	if !current.Status.Occupies() {
		return nil, conflict.New(conflict.InvalidTransition, "cannot reschedule a %s booking", current.Status)
	}

	p, err := l.practitioners.GetByID(ctx, current.PractitionerID)
	if err != nil {
		return nil, err
	}
	ok, err := l.resolver.IsAvailable(ctx, p, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conflict.New(conflict.DoctorUnavailable, "practitioner is not available for %s", r)
	}

	var b *Booking
	err = l.locker.WithPractitionerLock(ctx, current.PractitionerID, func(ctx context.Context) error {
		return l.tx.WithTx(ctx, func(ctx context.Context) error {
			var err error
			b, err = l.bookings.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !b.Status.Occupies() {
				return conflict.New(conflict.InvalidTransition, "cannot reschedule a %s booking", b.Status)
			}
			b.StartAt, b.EndAt = r.Start.UTC(), r.End.UTC()
			b.UpdatedAt = l.now().UTC()
			if err := l.checkFree(ctx, b); err != nil {
				return err
			}
			if err := l.bookings.UpdateTimes(ctx, b); err != nil {
				return err
			}
			return l.emit(ctx, events.BookingRescheduled, b, "")
		})
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("booking_id", b.ID.String()).
		Time("start_at", b.StartAt).
		Msg("booking rescheduled")
	return b, nil
}

func (l *Ledger) Confirm(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Booking, error) {
	return l.transition(ctx, scope, id, StatusConfirmed, "")
}

func (l *Ledger) Cancel(ctx context.Context, scope auth.Scope, id uuid.UUID, reason string) (*Booking, error) {
	return l.transition(ctx, scope, id, StatusCancelled, reason)
}

func (l *Ledger) Complete(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Booking, error) {
	return l.transition(ctx, scope, id, StatusCompleted, "")
}

func (l *Ledger) NoShow(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Booking, error) {
	return l.transition(ctx, scope, id, StatusNoShow, "")
}

var transitionEvents = map[BookingStatus]string{
	StatusConfirmed: events.BookingConfirmed,
	StatusCancelled: events.BookingCancelled,
	StatusCompleted: events.BookingCompleted,
	StatusNoShow:    events.BookingNoShow,
}

func (l *Ledger) transition(ctx context.Context, scope auth.Scope, id uuid.UUID, to BookingStatus, reason string) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "ledger.Transition", trace.WithAttributes(
		attribute.String("booking.id", id.String()),
		attribute.String("booking.to", string(to))))
	defer func() { endSpan(span, err) }()

	if scope.GuardianID != nil && to != StatusCancelled {
		return nil, conflict.New(conflict.Forbidden, "guardians may only cancel bookings")
	}

	var b *Booking
	err = l.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = l.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !canAccess(scope, b) {
			return conflict.New(conflict.Forbidden, "booking %s is outside your scope", id)
		}
		from := b.Status
		if err := Transition(b, to, reason, l.now()); err != nil {
			return err
		}
		if err := l.bookings.UpdateStatus(ctx, b, from); err != nil {
			return err
		}
		return l.emit(ctx, transitionEvents[to], b, reason)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("status", string(b.Status)).
		Msg("booking status changed")
	return b, nil
}

// Get returns one booking within scope.
func (l *Ledger) Get(ctx context.Context, scope auth.Scope, id uuid.UUID) (*Booking, error) {
	b, err := l.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(scope, b) {
		return nil, conflict.New(conflict.Forbidden, "booking %s is outside your scope", id)
	}
	return b, nil
}

// List narrows f to scope before querying.
func (l *Ledger) List(ctx context.Context, scope auth.Scope, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	if scope.GuardianID != nil {
		f.GuardianID = scope.GuardianID
	} else if scope.PractitionerID != nil {
		f.PractitionerID = scope.PractitionerID
	}
	return l.bookings.List(ctx, f, limit, offset)
}

// BookedWindows returns the buffered intervals of active bookings that
// overlap r.
func (l *Ledger) BookedWindows(ctx context.Context, practitionerID uuid.UUID, r timerange.Range) ([]timerange.Range, error) {
	active, err := l.bookings.ListActive(ctx, practitionerID, r, nil)
	if err != nil {
		return nil, err
	}
	out := make([]timerange.Range, 0, len(active))
	for _, b := range active {
		out = append(out, b.Effective())
	}
	return out, nil
}

type bookingPayload struct {
	BookingID      uuid.UUID     `json:"booking_id"`
	PractitionerID uuid.UUID     `json:"practitioner_id"`
	GuardianID     *uuid.UUID    `json:"guardian_id,omitempty"`
	ChildID        *uuid.UUID    `json:"child_id,omitempty"`
	StartAt        time.Time     `json:"start_at"`
	EndAt          time.Time     `json:"end_at"`
	Status         BookingStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"`
}

func (l *Ledger) emit(ctx context.Context, eventType string, b *Booking, reason string) error {
	evt, err := events.New("booking", b.ID, eventType, bookingPayload{
		BookingID:      b.ID,
		PractitionerID: b.PractitionerID,
		GuardianID:     b.GuardianID,
		ChildID:        b.ChildID,
		StartAt:        b.StartAt,
		EndAt:          b.EndAt,
		Status:         b.Status,
		Reason:         reason,
	})
	if err != nil {
		return err
	}
	return l.events.Emit(ctx, evt)
}
