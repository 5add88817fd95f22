package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/clinic/clinic/internal/domain/patient"
	"github.com/clinic/clinic/internal/platform/conflict"
)

func strPtr(s string) *string { return &s }

func TestGuardian_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, advisory)

	g := &patient.Guardian{FirstName: "Maria", LastName: "Kowalska", Email: "maria@example.com"}
	if err := e.profiles.CreateGuardian(ctx, staff, g); err != nil {
		t.Fatalf("create guardian: %v", err)
	}
	for i, phone := range []string{"+48 500 000 001", "+48 500 000 002"} {
		if _, err := e.profiles.UpdateGuardian(ctx, staff, g.ID, i+1, patient.GuardianPatch{Phone: strPtr(phone)}); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	// Both writers hold version 3; exactly one may win.
	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.profiles.UpdateGuardian(ctx, staff, g.ID, 3, patient.GuardianPatch{Address: strPtr("Street " + string(rune('A'+i)))})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case conflict.KindOf(err) == conflict.VersionMismatch:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
	stored, err := e.profiles.GetGuardian(ctx, staff, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Version != 4 {
		t.Errorf("version = %d, want 4", stored.Version)
	}
}

func TestChild_ArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, advisory)

	g := &patient.Guardian{FirstName: "Jan", LastName: "Nowak"}
	if err := e.profiles.CreateGuardian(ctx, staff, g); err != nil {
		t.Fatal(err)
	}
	c := &patient.Child{GuardianID: g.ID, FirstName: "Zosia", LastName: "Nowak", BirthDate: "2018-09-30"}
	if err := e.profiles.CreateChild(ctx, staff, c); err != nil {
		t.Fatal(err)
	}

	archived, err := e.profiles.ArchiveChild(ctx, staff, c.ID, 1)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != patient.ChildArchived || archived.Version != 2 {
		t.Errorf("unexpected child: %+v", archived)
	}

	stored, err := e.profiles.GetChild(ctx, staff, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.BirthDate != "2018-09-30" || stored.ArchivedAt == nil {
		t.Errorf("round trip lost data: %+v", stored)
	}
	if _, err := e.profiles.UpdateChild(ctx, staff, c.ID, 2, patient.ChildPatch{Notes: strPtr("x")}); conflict.KindOf(err) != conflict.InvalidTransition {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
}
