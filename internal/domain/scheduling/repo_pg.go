package scheduling

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/pkg/timerange"
)

// =========== Practitioner Repository ===========

type practitionerRepoPG struct{ pool *pgxpool.Pool }

func NewPractitionerRepoPG(pool *pgxpool.Pool) PractitionerRepository {
	return &practitionerRepoPG{pool: pool}
}

func (r *practitionerRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const practitionerCols = `id, name, specialization, buffer_minutes, timezone, active, created_at, updated_at`

func (r *practitionerRepoPG) scanPractitioner(row pgx.Row) (*Practitioner, error) {
	var p Practitioner
	err := row.Scan(&p.ID, &p.Name, &p.Specialization, &p.BufferMinutes, &p.Timezone,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, "practitioner")
	}
	return &p, nil
}

func (r *practitionerRepoPG) Create(ctx context.Context, p *Practitioner) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO practitioners (id, name, specialization, buffer_minutes, timezone, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Specialization, p.BufferMinutes, p.Timezone, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *practitionerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	return r.scanPractitioner(r.conn(ctx).QueryRow(ctx,
		`SELECT `+practitionerCols+` FROM practitioners WHERE id = $1`, id))
}

func (r *practitionerRepoPG) Update(ctx context.Context, p *Practitioner) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE practitioners SET name=$2, specialization=$3, buffer_minutes=$4, timezone=$5,
			active=$6, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.Name, p.Specialization, p.BufferMinutes, p.Timezone, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.NotFound, "practitioner %s not found", p.ID)
	}
	return nil
}

func (r *practitionerRepoPG) List(ctx context.Context, limit, offset int) ([]*Practitioner, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM practitioners`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+practitionerCols+` FROM practitioners ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Practitioner
	for rows.Next() {
		p, err := r.scanPractitioner(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Calendar Repository ===========

type calendarRepoPG struct{ pool *pgxpool.Pool }

func NewCalendarRepoPG(pool *pgxpool.Pool) CalendarRepository {
	return &calendarRepoPG{pool: pool}
}

func (r *calendarRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *calendarRepoPG) ListWeekly(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, practitioner_id, day_of_week, start_minute, end_minute, active
		FROM weekly_availability WHERE practitioner_id = $1
		ORDER BY day_of_week, start_minute`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WeeklyAvailability
	for rows.Next() {
		var w WeeklyAvailability
		var start, end int
		if err := rows.Scan(&w.ID, &w.PractitionerID, &w.DayOfWeek, &start, &end, &w.Active); err != nil {
			return nil, err
		}
		w.StartTime, w.EndTime = TimeOfDay(start), TimeOfDay(end)
		items = append(items, w)
	}
	return items, rows.Err()
}

// ReplaceWeekly swaps the whole weekly pattern; callers run it in a
// transaction.
func (r *calendarRepoPG) ReplaceWeekly(ctx context.Context, practitionerID uuid.UUID, items []WeeklyAvailability) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM weekly_availability WHERE practitioner_id = $1`, practitionerID); err != nil {
		return err
	}
	for i := range items {
		w := &items[i]
		if w.ID == uuid.Nil {
			w.ID = uuid.New()
		}
		w.PractitionerID = practitionerID
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO weekly_availability (id, practitioner_id, day_of_week, start_minute, end_minute, active)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			w.ID, w.PractitionerID, w.DayOfWeek, int(w.StartTime), int(w.EndTime), w.Active)
		if err != nil {
			return err
		}
	}
	return nil
}

func minutesPtr(t *TimeOfDay) *int {
	if t == nil {
		return nil
	}
	v := int(*t)
	return &v
}

func timeOfDayPtr(v *int) *TimeOfDay {
	if v == nil {
		return nil
	}
	t := TimeOfDay(*v)
	return &t
}

func (r *calendarRepoPG) ListExceptions(ctx context.Context, practitionerID uuid.UUID, from, to Date) ([]DateException, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, practitioner_id, to_char(exception_date, 'YYYY-MM-DD'), start_minute, end_minute,
			is_available, reason
		FROM date_exceptions
		WHERE practitioner_id = $1 AND exception_date BETWEEN $2::date AND $3::date
		ORDER BY exception_date, start_minute NULLS FIRST`,
		practitionerID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DateException
	for rows.Next() {
		var e DateException
		var date string
		var start, end *int
		if err := rows.Scan(&e.ID, &e.PractitionerID, &date, &start, &end, &e.IsAvailable, &e.Reason); err != nil {
			return nil, err
		}
		if e.Date, err = ParseDate(date); err != nil {
			return nil, err
		}
		e.StartTime, e.EndTime = timeOfDayPtr(start), timeOfDayPtr(end)
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *calendarRepoPG) AddException(ctx context.Context, e *DateException) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO date_exceptions (id, practitioner_id, exception_date, start_minute, end_minute,
			is_available, reason)
		VALUES ($1,$2,$3::date,$4,$5,$6,$7)`,
		e.ID, e.PractitionerID, e.Date.String(), minutesPtr(e.StartTime), minutesPtr(e.EndTime),
		e.IsAvailable, e.Reason)
	return err
}

func (r *calendarRepoPG) DeleteException(ctx context.Context, practitionerID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM date_exceptions WHERE id = $1 AND practitioner_id = $2`, id, practitionerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.NotFound, "date exception %s not found", id)
	}
	return nil
}

func (r *calendarRepoPG) ListBlocks(ctx context.Context, practitionerID uuid.UUID, window timerange.Range) ([]Block, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, practitioner_id, start_at, end_at, reason, created_at
		FROM blocks
		WHERE practitioner_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at`, practitionerID, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Block
	for rows.Next() {
		var b Block
		if err := rows.Scan(&b.ID, &b.PractitionerID, &b.StartAt, &b.EndAt, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *calendarRepoPG) AddBlock(ctx context.Context, b *Block) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO blocks (id, practitioner_id, start_at, end_at, reason)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		b.ID, b.PractitionerID, b.StartAt, b.EndAt, b.Reason).Scan(&b.CreatedAt)
}

func (r *calendarRepoPG) DeleteBlock(ctx context.Context, practitionerID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM blocks WHERE id = $1 AND practitioner_id = $2`, id, practitionerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.NotFound, "block %s not found", id)
	}
	return nil
}

// =========== Booking Repository ===========

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

func (r *bookingRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const bookingCols = `id, practitioner_id, service_id, child_id, guardian_id, start_at, end_at,
	buffer_minutes, status, source, notes, cancelled_at, cancellation_reason, created_at, updated_at`

func (r *bookingRepoPG) scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status, source string
	err := row.Scan(&b.ID, &b.PractitionerID, &b.ServiceID, &b.ChildID, &b.GuardianID,
		&b.StartAt, &b.EndAt, &b.BufferMinutes, &status, &source, &b.Notes,
		&b.CancelledAt, &b.CancellationReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, db.NotFound(err, "booking")
	}
	b.Status, b.Source = BookingStatus(status), BookingSource(source)
	return &b, nil
}

// mapWriteErr turns the exclusion constraint into DoubleBooked.
func mapWriteErr(err error) error {
	if db.IsExclusionViolation(err) {
		return conflict.Wrap(conflict.DoubleBooked, err, "practitioner already booked for this time")
	}
	return err
}

// Create inserts b. The occupied column, [start, end + buffer), backs the
// exclusion constraint that catches writes racing past the ledger lock.
func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bookings (id, practitioner_id, service_id, child_id, guardian_id, start_at, end_at,
			buffer_minutes, status, source, notes, occupied)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
			tstzrange($6, $7 + make_interval(mins => $8::int), '[)'))
		RETURNING created_at, updated_at`,
		b.ID, b.PractitionerID, b.ServiceID, b.ChildID, b.GuardianID, b.StartAt, b.EndAt,
		b.BufferMinutes, string(b.Status), string(b.Source), b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return mapWriteErr(err)
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
}

func (r *bookingRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.scanBooking(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (r *bookingRepoPG) ListActive(ctx context.Context, practitionerID uuid.UUID, window timerange.Range, exclude *uuid.UUID) ([]*Booking, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+` FROM bookings
		WHERE practitioner_id = $1
			AND status IN ('REQUESTED', 'CONFIRMED')
			AND start_at - make_interval(mins => buffer_minutes) < $3
			AND end_at + make_interval(mins => buffer_minutes) > $2
			AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY start_at`,
		practitionerID, window.Start, window.End, exclude)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *bookingRepoPG) UpdateTimes(ctx context.Context, b *Booking) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bookings SET start_at=$2, end_at=$3,
			occupied=tstzrange($2, $3 + make_interval(mins => buffer_minutes), '[)'),
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`, b.ID, b.StartAt, b.EndAt).Scan(&b.UpdatedAt)
	if err != nil {
		return db.NotFound(mapWriteErr(err), "booking")
	}
	return nil
}

// UpdateStatus persists a lifecycle transition only if the stored status is
// still from.
func (r *bookingRepoPG) UpdateStatus(ctx context.Context, b *Booking, from BookingStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bookings SET status=$2, cancelled_at=$3, cancellation_reason=$4, updated_at=$5
		WHERE id = $1 AND status = $6`,
		b.ID, string(b.Status), b.CancelledAt, b.CancellationReason, b.UpdatedAt, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return conflict.New(conflict.InvalidTransition, "booking %s is no longer %s", b.ID, from)
	}
	return nil
}

func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	add := func(clause string, v interface{}) {
		where += fmt.Sprintf(clause, idx)
		args = append(args, v)
		idx++
	}

	if f.PractitionerID != nil {
		add(` AND practitioner_id = $%d`, *f.PractitionerID)
	}
	if f.GuardianID != nil {
		add(` AND guardian_id = $%d`, *f.GuardianID)
	}
	if f.ChildID != nil {
		add(` AND child_id = $%d`, *f.ChildID)
	}
	if f.Status != nil {
		add(` AND status = $%d`, string(*f.Status))
	}
	if f.From != nil {
		add(` AND end_at > $%d`, *f.From)
	}
	if f.To != nil {
		add(` AND start_at < $%d`, *f.To)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bookings`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + bookingCols + ` FROM bookings` + where +
		fmt.Sprintf(` ORDER BY start_at, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

