package timerange

import (
	"sort"
)

// Set is a union of ranges kept sorted and merged: members never overlap
// and never touch.
type Set struct {
	ranges []Range
}

// NewSet builds a Set from arbitrary, possibly overlapping, ranges.
func NewSet(rs ...Range) *Set {
	s := &Set{}
	for _, r := range rs {
		s.Add(r)
	}
	return s
}

// Ranges returns a copy of the normalized members.
func (s *Set) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Empty reports whether the set covers nothing.
func (s *Set) Empty() bool {
	return len(s.ranges) == 0
}

// Clear removes every member.
func (s *Set) Clear() {
	s.ranges = s.ranges[:0]
}

// Add unions r into the set. Empty ranges are ignored.
func (s *Set) Add(r Range) {
	if !r.End.After(r.Start) {
		return
	}
	merged := make([]Range, 0, len(s.ranges)+1)
	for _, cur := range s.ranges {
		// touching ranges are merged too
		if cur.End.Before(r.Start) || r.End.Before(cur.Start) {
			merged = append(merged, cur)
			continue
		}
		if cur.Start.Before(r.Start) {
			r.Start = cur.Start
		}
		if cur.End.After(r.End) {
			r.End = cur.End
		}
	}
	merged = append(merged, r)
	sort.Slice(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })
	s.ranges = merged
}

// Subtract removes r from the set.
func (s *Set) Subtract(r Range) {
	if !r.End.After(r.Start) {
		return
	}
	out := make([]Range, 0, len(s.ranges)+1)
	for _, cur := range s.ranges {
		if !cur.Overlaps(r) {
			out = append(out, cur)
			continue
		}
		if cur.Start.Before(r.Start) {
			out = append(out, Range{Start: cur.Start, End: r.Start})
		}
		if cur.End.After(r.End) {
			out = append(out, Range{Start: r.End, End: cur.End})
		}
	}
	s.ranges = out
}

// Covers reports whether every instant of r is in the set.
func (s *Set) Covers(r Range) bool {
	for _, cur := range s.ranges {
		if cur.Contains(r) {
			return true
		}
	}
	return false
}

// Overlaps reports whether any member shares an instant with r.
func (s *Set) Overlaps(r Range) bool {
	for _, cur := range s.ranges {
		if cur.Overlaps(r) {
			return true
		}
	}
	return false
}
