package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/timerange"
)

// Practitioner is a doctor or therapist who owns a bookable calendar.
type Practitioner struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	BufferMinutes  int       `json:"buffer_minutes"`
	Timezone       string    `json:"timezone"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Location resolves the practitioner's IANA time zone.
func (p *Practitioner) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("practitioner %s: invalid timezone %q: %w", p.ID, p.Timezone, err)
	}
	return loc, nil
}

// TimeOfDay is minutes since local midnight, 0 through 1440 ("24:00").
type TimeOfDay int

const EndOfDay TimeOfDay = 24 * 60

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil || len(s) != 5 {
		return 0, fmt.Errorf("time of day must be HH:MM, got %q", s)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day out of range: %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Date is a calendar date with no time zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("date must be YYYY-MM-DD, got %q", s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// At returns the instant at time-of-day tod on d in loc. "24:00" is the
// following midnight.
func (d Date) At(tod TimeOfDay, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(tod)/60, int(tod)%60, 0, 0, loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// WeeklyAvailability opens [StartTime, EndTime) on every DayOfWeek in the
// practitioner's zone. DayOfWeek follows time.Weekday: 0 is Sunday.
type WeeklyAvailability struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	DayOfWeek      int       `json:"day_of_week"`
	StartTime      TimeOfDay `json:"start_time"`
	EndTime        TimeOfDay `json:"end_time"`
	Active         bool      `json:"active"`
}

// DateException overrides the weekly pattern on one date. Without times it
// closes the whole date (when IsAvailable is false); with times it opens or
// closes exactly that window.
type DateException struct {
	ID             uuid.UUID  `json:"id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Date           Date       `json:"date"`
	StartTime      *TimeOfDay `json:"start_time,omitempty"`
	EndTime        *TimeOfDay `json:"end_time,omitempty"`
	IsAvailable    bool       `json:"is_available"`
	Reason         string     `json:"reason,omitempty"`
}

// Timed reports whether the exception carries a window.
func (e *DateException) Timed() bool {
	return e.StartTime != nil && e.EndTime != nil
}

// Block is an absolute interval during which the practitioner cannot be
// booked, regardless of any availability rule.
type Block struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (b *Block) Range() timerange.Range {
	return timerange.Range{Start: b.StartAt, End: b.EndAt}
}

type BookingStatus string

const (
	StatusRequested BookingStatus = "REQUESTED"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusCompleted BookingStatus = "COMPLETED"
	StatusNoShow    BookingStatus = "NO_SHOW"
)

// Occupies reports whether bookings in this status hold their slot.
func (s BookingStatus) Occupies() bool {
	return s == StatusRequested || s == StatusConfirmed
}

func ParseStatus(s string) (BookingStatus, error) {
	switch st := BookingStatus(s); st {
	case StatusRequested, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return st, nil
	}
	return "", fmt.Errorf("unknown booking status %q", s)
}

type BookingSource string

const (
	SourceOnline BookingSource = "ONLINE"
	SourceStaff  BookingSource = "STAFF"
)

// Booking is a reservation of a practitioner's time. Bookings are never
// deleted; cancelled and finished ones stay as history.
type Booking struct {
	ID                 uuid.UUID     `json:"id"`
	PractitionerID     uuid.UUID     `json:"practitioner_id"`
	ServiceID          uuid.UUID     `json:"service_id"`
	ChildID            *uuid.UUID    `json:"child_id,omitempty"`
	GuardianID         *uuid.UUID    `json:"guardian_id,omitempty"`
	StartAt            time.Time     `json:"start_at"`
	EndAt              time.Time     `json:"end_at"`
	BufferMinutes      int           `json:"buffer_minutes"`
	Status             BookingStatus `json:"status"`
	Source             BookingSource `json:"source"`
	Notes              string        `json:"notes,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason *string       `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (b *Booking) Range() timerange.Range {
	return timerange.Range{Start: b.StartAt, End: b.EndAt}
}

func (b *Booking) Buffer() time.Duration {
	return time.Duration(b.BufferMinutes) * time.Minute
}

// Effective is the booked interval padded by the buffer on both sides.
func (b *Booking) Effective() timerange.Range {
	return b.Range().Expand(b.Buffer())
}

// ConflictsWith reports whether b and o cannot both be active. Each booking's
// buffer keeps the other's raw interval out of its padding; the paddings
// themselves may overlap.
func (b *Booking) ConflictsWith(o *Booking) bool {
	return b.Range().Overlaps(o.Effective()) || o.Range().Overlaps(b.Effective())
}

// BookingFilter narrows List.
type BookingFilter struct {
	PractitionerID *uuid.UUID
	GuardianID     *uuid.UUID
	ChildID        *uuid.UUID
	Status         *BookingStatus
	From           *time.Time
	To             *time.Time
}
