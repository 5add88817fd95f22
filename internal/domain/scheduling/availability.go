package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/pkg/timerange"
)

// Calendar is everything that decides when a practitioner can be booked.
type Calendar struct {
	Location   *time.Location
	Weekly     []WeeklyAvailability
	Exceptions []DateException
	Blocks     []Block
}

// DaySet returns the open set of one local date, applied in precedence
// order: weekly rows, whole-day closures, timed openings, timed closures,
// then blocks.
func (c *Calendar) DaySet(day Date) *timerange.Set {
	set := timerange.NewSet()
	weekday := int(day.At(0, c.Location).Weekday())

	for _, w := range c.Weekly {
		if w.Active && w.DayOfWeek == weekday {
			set.Add(timerange.Range{Start: day.At(w.StartTime, c.Location), End: day.At(w.EndTime, c.Location)})
		}
	}

	var opens, closes []timerange.Range
	for _, ex := range c.Exceptions {
		if ex.Date != day {
			continue
		}
		if !ex.Timed() {
			if !ex.IsAvailable {
				set.Clear()
			}
			continue
		}
		window := timerange.Range{Start: day.At(*ex.StartTime, c.Location), End: day.At(*ex.EndTime, c.Location)}
		if ex.IsAvailable {
			opens = append(opens, window)
		} else {
			closes = append(closes, window)
		}
	}
	for _, w := range opens {
		set.Add(w)
	}
	for _, w := range closes {
		set.Subtract(w)
	}

	for _, b := range c.Blocks {
		set.Subtract(b.Range())
	}
	return set
}

// Covers reports whether every instant of r is open. r is split at local
// midnight and each piece must be covered by its own date.
func (c *Calendar) Covers(r timerange.Range) bool {
	for _, piece := range splitDays(r, c.Location) {
		if !c.DaySet(piece.day).Covers(piece.r) {
			return false
		}
	}
	return true
}

// OpenWindows returns the open parts of r.
func (c *Calendar) OpenWindows(r timerange.Range) []timerange.Range {
	var out []timerange.Range
	for _, piece := range splitDays(r, c.Location) {
		for _, w := range c.DaySet(piece.day).Ranges() {
			if x, ok := w.Intersect(piece.r); ok {
				out = append(out, x)
			}
		}
	}
	return timerange.NewSet(out...).Ranges()
}

type dayPiece struct {
	day Date
	r   timerange.Range
}

func splitDays(r timerange.Range, loc *time.Location) []dayPiece {
	var pieces []dayPiece
	cursor := r.Start
	for cursor.Before(r.End) {
		day := DateOf(cursor.In(loc))
		next := day.At(EndOfDay, loc)
		end := r.End
		if next.Before(end) {
			end = next
		}
		pieces = append(pieces, dayPiece{day: day, r: timerange.Range{Start: cursor, End: end}})
		cursor = end
	}
	return pieces
}

// CalendarSource loads the rules relevant to an interval.
type CalendarSource interface {
	ListWeekly(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error)
	ListExceptions(ctx context.Context, practitionerID uuid.UUID, from, to Date) ([]DateException, error)
	ListBlocks(ctx context.Context, practitionerID uuid.UUID, r timerange.Range) ([]Block, error)
}

// Resolver answers availability questions for practitioners.
type Resolver struct {
	source CalendarSource
}

func NewResolver(source CalendarSource) *Resolver {
	return &Resolver{source: source}
}

// Calendar loads p's rules for the local dates touched by r.
func (res *Resolver) Calendar(ctx context.Context, p *Practitioner, r timerange.Range) (*Calendar, error) {
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}

	weekly, err := res.source.ListWeekly(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("load weekly availability: %w", err)
	}
	from, to := DateOf(r.Start.In(loc)), DateOf(r.End.In(loc))
	exceptions, err := res.source.ListExceptions(ctx, p.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load date exceptions: %w", err)
	}
	blocks, err := res.source.ListBlocks(ctx, p.ID, r)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}

	return &Calendar{Location: loc, Weekly: weekly, Exceptions: exceptions, Blocks: blocks}, nil
}

// IsAvailable reports whether p can be booked for all of r. Inactive
// practitioners are never available.
func (res *Resolver) IsAvailable(ctx context.Context, p *Practitioner, r timerange.Range) (bool, error) {
	if !p.Active {
		return false, nil
	}
	cal, err := res.Calendar(ctx, p, r)
	if err != nil {
		return false, err
	}
	return cal.Covers(r), nil
}
