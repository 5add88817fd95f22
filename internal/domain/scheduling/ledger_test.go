package scheduling

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/conflict"
	"github.com/clinic/clinic/internal/platform/events"
)

func adminScope() auth.Scope { return auth.Scope{} }

func reserve(env *testEnv, p *Practitioner, start, end string) (*Booking, error) {
	return env.ledger.Reserve(context.Background(), adminScope(), ReserveRequest{
		PractitionerID: p.ID,
		ServiceID:      uuid.New(),
		StartAt:        mon(start),
		EndAt:          mon(end),
	})
}

func TestLedger_Reserve(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 10)

	b, err := reserve(env, p, "09:00", "09:50")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Status != StatusRequested {
		t.Errorf("status = %s", b.Status)
	}
	if b.BufferMinutes != 10 {
		t.Errorf("buffer = %d, want practitioner default 10", b.BufferMinutes)
	}
	if b.Source != SourceStaff {
		t.Errorf("source = %s", b.Source)
	}
	if got := env.emitter.types(); len(got) != 1 || got[0] != events.BookingCreated {
		t.Errorf("events = %v", got)
	}
}

func TestLedger_Reserve_Rejections(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()
	negative := -1

	inactive := env.addPractitioner(t, 0)
	inactive.Active = false
	if err := env.practitioners.Update(ctx, inactive); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  ReserveRequest
		want conflict.Kind
	}{
		{"inverted", ReserveRequest{PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("10:00"), EndAt: mon("09:00")}, conflict.InvalidRange},
		{"empty", ReserveRequest{PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("10:00"), EndAt: mon("10:00")}, conflict.InvalidRange},
		{"negative buffer", ReserveRequest{PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("10:00"), BufferMinutes: &negative}, conflict.Invalid},
		{"missing service", ReserveRequest{PractitionerID: p.ID, StartAt: mon("09:00"), EndAt: mon("10:00")}, conflict.Invalid},
		{"unknown practitioner", ReserveRequest{PractitionerID: uuid.New(), ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("10:00")}, conflict.NotFound},
		{"inactive practitioner", ReserveRequest{PractitionerID: inactive.ID, ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("10:00")}, conflict.DoctorUnavailable},
		{"outside hours", ReserveRequest{PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("17:30"), EndAt: mon("18:30")}, conflict.DoctorUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.ledger.Reserve(ctx, adminScope(), tc.req)
			if conflict.KindOf(err) != tc.want {
				t.Errorf("expected %s, got %v", tc.want, err)
			}
		})
	}
	if n := len(env.bookings.active()); n != 0 {
		t.Errorf("rejected requests stored %d bookings", n)
	}
}

func TestLedger_Reserve_Blocked(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	if err := env.svc.AddBlock(context.Background(), &Block{PractitionerID: p.ID, StartAt: mon("11:00"), EndAt: mon("12:00")}); err != nil {
		t.Fatal(err)
	}
	if _, err := reserve(env, p, "11:30", "12:30"); conflict.KindOf(err) != conflict.DoctorUnavailable {
		t.Errorf("expected DoctorUnavailable, got %v", err)
	}
}

func TestLedger_Reserve_BufferRule(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 10)

	if _, err := reserve(env, p, "09:00", "09:50"); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := reserve(env, p, "09:55", "10:30"); conflict.KindOf(err) != conflict.DoubleBooked {
		t.Errorf("09:55 is inside the buffer, expected DoubleBooked, got %v", err)
	}
	if _, err := reserve(env, p, "10:05", "10:30"); err != nil {
		t.Errorf("10:05 is past the buffer, unexpected error: %v", err)
	}
}

func TestLedger_Reserve_BufferEdgeAccepted(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 10)
	if _, err := reserve(env, p, "09:00", "09:50"); err != nil {
		t.Fatal(err)
	}
	if _, err := reserve(env, p, "10:00", "10:30"); err != nil {
		t.Errorf("gap equal to the buffer must be accepted: %v", err)
	}
	if _, err := reserve(env, p, "08:00", "08:50"); err != nil {
		t.Errorf("gap equal to the buffer before must be accepted: %v", err)
	}
}

func TestLedger_Reserve_OverrideBuffer(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	if _, err := reserve(env, p, "09:00", "09:50"); err != nil {
		t.Fatal(err)
	}
	wide := 20
	_, err := env.ledger.Reserve(context.Background(), adminScope(), ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("10:00"), EndAt: mon("10:30"), BufferMinutes: &wide,
	})
	if conflict.KindOf(err) != conflict.DoubleBooked {
		t.Errorf("the new booking's own buffer must keep its neighbour away, got %v", err)
	}
}

func TestLedger_Reserve_OtherPractitionerIndependent(t *testing.T) {
	env := newTestEnv()
	a := env.addPractitioner(t, 0)
	b := env.addPractitioner(t, 0)
	if _, err := reserve(env, a, "09:00", "10:00"); err != nil {
		t.Fatal(err)
	}
	if _, err := reserve(env, b, "09:00", "10:00"); err != nil {
		t.Errorf("another practitioner's calendar must not conflict: %v", err)
	}
}

func TestLedger_CancelFreesSlot(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()

	first, err := reserve(env, p, "09:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Cancel(ctx, adminScope(), first.ID, "parent request"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := reserve(env, p, "09:00", "10:00"); err != nil {
		t.Errorf("cancelled slot must be bookable again: %v", err)
	}

	stored, err := env.ledger.Get(ctx, adminScope(), first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusCancelled || stored.CancellationReason == nil {
		t.Errorf("cancelled booking must be kept as history: %+v", stored)
	}
}

func TestLedger_Lifecycle(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()

	b, err := reserve(env, p, "09:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Complete(ctx, adminScope(), b.ID); conflict.KindOf(err) != conflict.InvalidTransition {
		t.Errorf("REQUESTED -> COMPLETED: expected InvalidTransition, got %v", err)
	}
	if _, err := env.ledger.Confirm(ctx, adminScope(), b.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.ledger.Cancel(ctx, adminScope(), b.ID, ""); conflict.KindOf(err) != conflict.Invalid {
		t.Errorf("cancel without reason: expected Invalid, got %v", err)
	}
	done, err := env.ledger.Complete(ctx, adminScope(), b.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s", done.Status)
	}
	if _, err := env.ledger.NoShow(ctx, adminScope(), b.ID); conflict.KindOf(err) != conflict.InvalidTransition {
		t.Errorf("COMPLETED -> NO_SHOW: expected InvalidTransition, got %v", err)
	}

	want := []string{events.BookingCreated, events.BookingConfirmed, events.BookingCompleted}
	got := env.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLedger_NoShowFreesSlot(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()
	b, err := reserve(env, p, "09:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Confirm(ctx, adminScope(), b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.NoShow(ctx, adminScope(), b.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := reserve(env, p, "09:00", "10:00"); err != nil {
		t.Errorf("NO_SHOW booking must not hold its slot: %v", err)
	}
}

func TestLedger_Reschedule(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()

	b, err := reserve(env, p, "09:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}
	moved, err := env.ledger.Reschedule(ctx, adminScope(), b.ID, mon("09:30"), mon("10:30"))
	if err != nil {
		t.Fatalf("overlapping its own old slot must be allowed: %v", err)
	}
	if !moved.StartAt.Equal(mon("09:30")) || !moved.EndAt.Equal(mon("10:30")) {
		t.Errorf("moved = %v-%v", moved.StartAt, moved.EndAt)
	}

	other, err := reserve(env, p, "11:00", "12:00")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Reschedule(ctx, adminScope(), other.ID, mon("10:00"), mon("11:00")); conflict.KindOf(err) != conflict.DoubleBooked {
		t.Errorf("expected DoubleBooked, got %v", err)
	}
	if _, err := env.ledger.Reschedule(ctx, adminScope(), other.ID, mon("17:30"), mon("18:30")); conflict.KindOf(err) != conflict.DoctorUnavailable {
		t.Errorf("expected DoctorUnavailable, got %v", err)
	}
	if _, err := env.ledger.Reschedule(ctx, adminScope(), other.ID, mon("12:00"), mon("11:00")); conflict.KindOf(err) != conflict.InvalidRange {
		t.Errorf("expected InvalidRange, got %v", err)
	}

	if _, err := env.ledger.Cancel(ctx, adminScope(), other.ID, "moved clinic"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Reschedule(ctx, adminScope(), other.ID, mon("13:00"), mon("14:00")); conflict.KindOf(err) != conflict.InvalidTransition {
		t.Errorf("cancelled booking: expected InvalidTransition, got %v", err)
	}
}

func TestLedger_GuardianScope(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()
	guardian := uuid.New()
	own := auth.Scope{GuardianID: &guardian}

	b, err := env.ledger.Reserve(ctx, own, ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("10:00"), Confirm: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.GuardianID == nil || *b.GuardianID != guardian {
		t.Errorf("guardian id must come from scope, got %v", b.GuardianID)
	}
	if b.Status != StatusRequested || b.Source != SourceOnline {
		t.Errorf("guardian bookings start REQUESTED and ONLINE, got %s %s", b.Status, b.Source)
	}

	someoneElse := uuid.New()
	_, err = env.ledger.Reserve(ctx, own, ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), GuardianID: &someoneElse, StartAt: mon("11:00"), EndAt: mon("12:00"),
	})
	if conflict.KindOf(err) != conflict.Forbidden {
		t.Errorf("expected Forbidden, got %v", err)
	}

	if _, err := env.ledger.Confirm(ctx, own, b.ID); conflict.KindOf(err) != conflict.Forbidden {
		t.Errorf("guardian confirm: expected Forbidden, got %v", err)
	}
	other := auth.Scope{GuardianID: &someoneElse}
	if _, err := env.ledger.Get(ctx, other, b.ID); conflict.KindOf(err) != conflict.Forbidden {
		t.Errorf("foreign guardian read: expected Forbidden, got %v", err)
	}
	if _, err := env.ledger.Cancel(ctx, own, b.ID, "cannot come"); err != nil {
		t.Errorf("guardian cancelling own booking: %v", err)
	}
}

func TestLedger_GuardianCannotChooseBuffer(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 10)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()
	zero, huge := 0, 600

	b, err := env.ledger.Reserve(ctx, auth.Scope{GuardianID: &first}, ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("09:00"), EndAt: mon("09:30"), BufferMinutes: &zero,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.BufferMinutes != 10 {
		t.Errorf("buffer = %d, want the practitioner's 10", b.BufferMinutes)
	}

	_, err = env.ledger.Reserve(ctx, auth.Scope{GuardianID: &second}, ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("09:30"), EndAt: mon("10:00"), BufferMinutes: &zero,
	})
	if conflict.KindOf(err) != conflict.DoubleBooked {
		t.Errorf("back-to-back guardian booking: expected DoubleBooked, got %v", err)
	}

	wide, err := env.ledger.Reserve(ctx, auth.Scope{GuardianID: &second}, ReserveRequest{
		PractitionerID: p.ID, ServiceID: uuid.New(), StartAt: mon("12:00"), EndAt: mon("12:30"), BufferMinutes: &huge,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wide.BufferMinutes != 10 {
		t.Errorf("buffer = %d, want the practitioner's 10", wide.BufferMinutes)
	}
	if _, err := reserve(env, p, "14:00", "14:30"); err != nil {
		t.Errorf("staff booking later in the day: %v", err)
	}
}

func TestLedger_ClinicianScope(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)
	ctx := context.Background()
	b, err := reserve(env, p, "09:00", "10:00")
	if err != nil {
		t.Fatal(err)
	}

	otherDoctor := uuid.New()
	if _, err := env.ledger.Confirm(ctx, auth.Scope{PractitionerID: &otherDoctor}, b.ID); conflict.KindOf(err) != conflict.Forbidden {
		t.Errorf("expected Forbidden, got %v", err)
	}
	if _, err := env.ledger.Confirm(ctx, auth.Scope{PractitionerID: &p.ID}, b.ID); err != nil {
		t.Errorf("own practitioner confirm: %v", err)
	}

	items, total, err := env.ledger.List(ctx, auth.Scope{PractitionerID: &otherDoctor}, BookingFilter{}, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("foreign clinician must not list bookings, got %d", total)
	}
}

func TestLedger_ConcurrentReserve(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 0)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		doubles   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := reserve(env, p, "09:00", "10:00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case conflict.KindOf(err) == conflict.DoubleBooked:
				doubles++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
	if doubles != workers-1 {
		t.Errorf("expected %d DoubleBooked, got %d", workers-1, doubles)
	}
}

func TestLedger_RandomRequestsNeverConflict(t *testing.T) {
	env := newTestEnv()
	p := env.addPractitioner(t, 5)
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		startMin := 8*60 + rng.Intn(9*60)
		length := 15 + 5*rng.Intn(16)
		buffer := rng.Intn(16)
		start := mon("00:00").Add(time.Duration(startMin) * time.Minute)
		req := ReserveRequest{
			PractitionerID: p.ID,
			ServiceID:      uuid.New(),
			StartAt:        start,
			EndAt:          start.Add(time.Duration(length) * time.Minute),
			BufferMinutes:  &buffer,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.ledger.Reserve(ctx, adminScope(), req)
		}()
	}
	wg.Wait()

	active := env.bookings.active()
	if len(active) == 0 {
		t.Fatal("expected some bookings to succeed")
	}
	for i := range active {
		for j := i + 1; j < len(active); j++ {
			if active[i].ConflictsWith(active[j]) {
				t.Errorf("conflicting active bookings: %v and %v", active[i].Range(), active[j].Range())
			}
		}
	}
}
