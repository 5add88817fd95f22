package timerange

import (
	"testing"
)

func TestSet_AddMergesTouchingRanges(t *testing.T) {
	s := NewSet(
		mustRange(t, "12:00", "15:00"),
		mustRange(t, "09:00", "12:00"),
		mustRange(t, "16:00", "17:00"),
	)

	got := s.Ranges()
	if len(got) != 2 {
		t.Fatalf("expected 2 merged ranges, got %d: %v", len(got), got)
	}
	if !got[0].Start.Equal(at("09:00")) || !got[0].End.Equal(at("15:00")) {
		t.Errorf("unexpected first member %s", got[0])
	}
	if !s.Covers(mustRange(t, "11:00", "13:00")) {
		t.Error("expected coverage across the merged seam")
	}
}

func TestSet_Subtract(t *testing.T) {
	s := NewSet(mustRange(t, "09:00", "17:00"))
	s.Subtract(mustRange(t, "12:00", "13:00"))

	if s.Covers(mustRange(t, "11:30", "12:30")) {
		t.Error("subtracted window must not be covered")
	}
	if !s.Covers(mustRange(t, "09:00", "12:00")) {
		t.Error("morning should remain covered")
	}
	if !s.Covers(mustRange(t, "13:00", "17:00")) {
		t.Error("afternoon should remain covered")
	}
	if len(s.Ranges()) != 2 {
		t.Errorf("expected split into 2 members, got %d", len(s.Ranges()))
	}
}

func TestSet_SubtractEverything(t *testing.T) {
	s := NewSet(mustRange(t, "09:00", "10:00"))
	s.Subtract(mustRange(t, "08:00", "11:00"))
	if !s.Empty() {
		t.Errorf("expected empty set, got %v", s.Ranges())
	}
}

func TestSet_CoversRequiresSingleMember(t *testing.T) {
	s := NewSet(mustRange(t, "09:00", "10:00"), mustRange(t, "10:30", "11:00"))
	if s.Covers(mustRange(t, "09:30", "10:45")) {
		t.Error("a gap inside the interval must prevent coverage")
	}
}

func TestSet_IgnoresEmptyRanges(t *testing.T) {
	s := NewSet()
	s.Add(Range{Start: at("10:00"), End: at("10:00")})
	if !s.Empty() {
		t.Error("expected empty range to be ignored")
	}
}
