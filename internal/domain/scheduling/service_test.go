package scheduling

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/events"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/pkg/timerange"
)

// -- Mock Repositories --

type mockPractitionerRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Practitioner
}

func newMockPractitionerRepo() *mockPractitionerRepo {
	return &mockPractitionerRepo{items: make(map[uuid.UUID]*Practitioner)}
}

func (m *mockPractitionerRepo) Create(_ context.Context, p *Practitioner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPractitionerRepo) GetByID(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok {
		return nil, conflict.New(conflict.NotFound, "practitioner not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPractitionerRepo) Update(_ context.Context, p *Practitioner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[p.ID]; !ok {
		return conflict.New(conflict.NotFound, "practitioner not found")
	}
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPractitionerRepo) List(_ context.Context, limit, offset int) ([]*Practitioner, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Practitioner
	for _, p := range m.items {
		cp := *p
		result = append(result, &cp)
	}
	return result, len(result), nil
}

type mockCalendarRepo struct {
	mu         sync.Mutex
	weekly     map[uuid.UUID][]WeeklyAvailability
	exceptions []DateException
	blocks     []Block
}

func newMockCalendarRepo() *mockCalendarRepo {
	return &mockCalendarRepo{weekly: make(map[uuid.UUID][]WeeklyAvailability)}
}

func (m *mockCalendarRepo) ListWeekly(_ context.Context, pid uuid.UUID) ([]WeeklyAvailability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WeeklyAvailability(nil), m.weekly[pid]...), nil
}

func (m *mockCalendarRepo) ListExceptions(_ context.Context, pid uuid.UUID, from, to Date) ([]DateException, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DateException
	for _, e := range m.exceptions {
		if e.PractitionerID == pid && !e.Date.Before(from) && !to.Before(e.Date) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockCalendarRepo) ListBlocks(_ context.Context, pid uuid.UUID, r timerange.Range) ([]Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Block
	for _, b := range m.blocks {
		if b.PractitionerID == pid && b.Range().Overlaps(r) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockCalendarRepo) ReplaceWeekly(_ context.Context, pid uuid.UUID, rows []WeeklyAvailability) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range rows {
		rows[i].ID = uuid.New()
		rows[i].PractitionerID = pid
	}
	m.weekly[pid] = append([]WeeklyAvailability(nil), rows...)
	return nil
}

func (m *mockCalendarRepo) AddException(_ context.Context, e *DateException) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	m.exceptions = append(m.exceptions, *e)
	return nil
}

func (m *mockCalendarRepo) DeleteException(_ context.Context, pid, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.exceptions {
		if e.ID == id && e.PractitionerID == pid {
			m.exceptions = append(m.exceptions[:i], m.exceptions[i+1:]...)
			return nil
		}
	}
	return conflict.New(conflict.NotFound, "date exception not found")
}

func (m *mockCalendarRepo) AddBlock(_ context.Context, b *Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	m.blocks = append(m.blocks, *b)
	return nil
}

func (m *mockCalendarRepo) DeleteBlock(_ context.Context, pid, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.blocks {
		if b.ID == id && b.PractitionerID == pid {
			m.blocks = append(m.blocks[:i], m.blocks[i+1:]...)
			return nil
		}
	}
	return conflict.New(conflict.NotFound, "block not found")
}

type mockBookingRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Booking
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{items: make(map[uuid.UUID]*Booking)}
}

func (m *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.items[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	if !ok {
		return nil, conflict.New(conflict.NotFound, "booking not found")
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return m.GetByID(ctx, id)
}

func (m *mockBookingRepo) ListActive(_ context.Context, pid uuid.UUID, window timerange.Range, exclude *uuid.UUID) ([]*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.items {
		if b.PractitionerID != pid || !b.Status.Occupies() {
			continue
		}
		if exclude != nil && b.ID == *exclude {
			continue
		}
		if b.Effective().Overlaps(window) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

func (m *mockBookingRepo) UpdateTimes(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[b.ID]
	if !ok {
		return conflict.New(conflict.NotFound, "booking not found")
	}
	stored.StartAt, stored.EndAt, stored.UpdatedAt = b.StartAt, b.EndAt, b.UpdatedAt
	return nil
}

func (m *mockBookingRepo) UpdateStatus(_ context.Context, b *Booking, from BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.items[b.ID]
	if !ok || stored.Status != from {
		return conflict.New(conflict.InvalidTransition, "booking is no longer %s", from)
	}
	cp := *b
	m.items[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) List(_ context.Context, f BookingFilter, limit, offset int) ([]*Booking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.items {
		if f.PractitionerID != nil && b.PractitionerID != *f.PractitionerID {
			continue
		}
		if f.GuardianID != nil && (b.GuardianID == nil || *b.GuardianID != *f.GuardianID) {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockBookingRepo) active() []*Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Booking
	for _, b := range m.items {
		if b.Status.Occupies() {
			out = append(out, b)
		}
	}
	return out
}

// directTx runs fn without a database.
type directTx struct{}

func (directTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// -- Fixtures --

type testEnv struct {
	practitioners *mockPractitionerRepo
	calendar      *mockCalendarRepo
	bookings      *mockBookingRepo
	emitter       *recordingEmitter
	ledger        *Ledger
	svc           *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		practitioners: newMockPractitionerRepo(),
		calendar:      newMockCalendarRepo(),
		bookings:      newMockBookingRepo(),
		emitter:       &recordingEmitter{},
	}
	resolver := NewResolver(env.calendar)
	env.ledger = NewLedger(env.practitioners, env.bookings, resolver, directTx{}, lock.NewLocal(),
		env.emitter, zerolog.Nop())
	env.svc = NewService(env.practitioners, env.calendar, resolver, env.ledger, directTx{})
	return env
}

func tod(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func weekly(day time.Weekday, start, end string) WeeklyAvailability {
	return WeeklyAvailability{DayOfWeek: int(day), StartTime: tod(start), EndTime: tod(end), Active: true}
}

// addPractitioner creates an active UTC practitioner open Monday 08:00-18:00
// unless other rows are given.
func (env *testEnv) addPractitioner(t *testing.T, buffer int, rows ...WeeklyAvailability) *Practitioner {
	t.Helper()
	p := &Practitioner{Name: "Dr. Test", BufferMinutes: buffer, Timezone: "UTC", Active: true}
	if err := env.svc.CreatePractitioner(context.Background(), p); err != nil {
		t.Fatalf("create practitioner: %v", err)
	}
	if len(rows) == 0 {
		rows = []WeeklyAvailability{weekly(time.Monday, "08:00", "18:00")}
	}
	if err := env.svc.ReplaceWeeklyAvailability(context.Background(), p.ID, rows); err != nil {
		t.Fatalf("replace weekly: %v", err)
	}
	return p
}

// mon returns HH:MM on Monday 2025-06-16 UTC.
func mon(hhmm string) time.Time {
	t, err := time.Parse(time.RFC3339, "2025-06-16T"+hhmm+":00Z")
	if err != nil {
		panic(err)
	}
	return t
}

// -- Service Tests --

func TestService_CreatePractitioner_Defaults(t *testing.T) {
	env := newTestEnv()
	p := &Practitioner{Name: "  Dr. Ada  "}
	if err := env.svc.CreatePractitioner(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name != "Dr. Ada" {
		t.Errorf("expected trimmed name, got %q", p.Name)
	}
	if p.Timezone != "UTC" {
		t.Errorf("expected UTC default, got %q", p.Timezone)
	}
}

func TestService_CreatePractitioner_Invalid(t *testing.T) {
	env := newTestEnv()
	cases := []Practitioner{
		{Name: ""},
		{Name: "Dr. X", BufferMinutes: -5},
		{Name: "Dr. X", Timezone: "Mars/Olympus"},
	}
	for _, p := range cases {
		p := p
		err := env.svc.CreatePractitioner(context.Background(), &p)
		if conflict.KindOf(err) != conflict.Invalid {
			t.Errorf("%+v: expected Invalid, got %v", p, err)
		}
	}
}

func TestService_ReplaceWeekly_Validation(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)

	err := env.svc.ReplaceWeeklyAvailability(context.Background(), p.ID,
		[]WeeklyAvailability{{DayOfWeek: 7, StartTime: tod("08:00"), EndTime: tod("09:00")}})
	if conflict.KindOf(err) != conflict.Invalid {
		t.Errorf("expected Invalid for day 7, got %v", err)
	}

	err = env.svc.ReplaceWeeklyAvailability(context.Background(), p.ID,
		[]WeeklyAvailability{weekly(time.Monday, "10:00", "09:00")})
	if conflict.KindOf(err) != conflict.InvalidRange {
		t.Errorf("expected InvalidRange, got %v", err)
	}

	err = env.svc.ReplaceWeeklyAvailability(context.Background(), uuid.New(),
		[]WeeklyAvailability{weekly(time.Monday, "08:00", "09:00")})
	if conflict.KindOf(err) != conflict.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestService_AddException_TimesTogether(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	start := tod("09:00")
	err := env.svc.AddException(context.Background(), &DateException{
		PractitionerID: p.ID,
		Date:           Date{2025, time.June, 16},
		StartTime:      &start,
	})
	if conflict.KindOf(err) != conflict.Invalid {
		t.Errorf("expected Invalid, got %v", err)
	}
}

func TestService_AddBlock_InvalidRange(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	err := env.svc.AddBlock(context.Background(), &Block{PractitionerID: p.ID, StartAt: mon("10:00"), EndAt: mon("10:00")})
	if conflict.KindOf(err) != conflict.InvalidRange {
		t.Errorf("expected InvalidRange, got %v", err)
	}
}

func TestService_Availability(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	p := env.addPractitioner(t, 10)

	if err := env.svc.AddBlock(ctx, &Block{PractitionerID: p.ID, StartAt: mon("12:00"), EndAt: mon("13:00")}); err != nil {
		t.Fatalf("add block: %v", err)
	}
	if _, err := env.ledger.Reserve(ctx, adminScope(), ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("10:00"),
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	day := timerange.Range{Start: mon("00:00"), End: mon("00:00").Add(24 * time.Hour)}
	out, err := env.svc.Availability(ctx, p.ID, day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Available {
		t.Error("whole day must not be available")
	}
	wantOpen := []timerange.Range{
		{Start: mon("08:00"), End: mon("12:00")},
		{Start: mon("13:00"), End: mon("18:00")},
	}
	if len(out.Open) != len(wantOpen) {
		t.Fatalf("open = %v, want %v", out.Open, wantOpen)
	}
	for i := range wantOpen {
		if !out.Open[i].Start.Equal(wantOpen[i].Start) || !out.Open[i].End.Equal(wantOpen[i].End) {
			t.Errorf("open[%d] = %v, want %v", i, out.Open[i], wantOpen[i])
		}
	}
	wantFree := []timerange.Range{
		{Start: mon("08:00"), End: mon("08:50")},
		{Start: mon("10:10"), End: mon("12:00")},
		{Start: mon("13:00"), End: mon("18:00")},
	}
	if len(out.Free) != len(wantFree) {
		t.Fatalf("free = %v, want %v", out.Free, wantFree)
	}
	for i := range wantFree {
		if !out.Free[i].Start.Equal(wantFree[i].Start) || !out.Free[i].End.Equal(wantFree[i].End) {
			t.Errorf("free[%d] = %v, want %v", i, out.Free[i], wantFree[i])
		}
	}

	slot := timerange.Range{Start: mon("14:00"), End: mon("15:00")}
	out, err = env.svc.Availability(ctx, p.ID, slot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Available {
		t.Error("expected 14:00-15:00 to be available")
	}
}

func TestService_Availability_WindowTooLarge(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	r := timerange.Range{Start: mon("00:00"), End: mon("00:00").Add(40 * 24 * time.Hour)}
	_, err := env.svc.Availability(context.Background(), p.ID, r)
	if conflict.KindOf(err) != conflict.Invalid {
		t.Errorf("expected Invalid, got %v", err)
	}
}
