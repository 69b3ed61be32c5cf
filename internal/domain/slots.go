package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CandidateSlot is a bookable interval computed on demand. It is never stored.
type CandidateSlot struct {
	Start           time.Time
	End             time.Time
	AppointmentType string
	DurationMinutes int
	Price           decimal.Decimal
}

type SlotQuery struct {
	// RangeStart and RangeEnd are calendar dates; only their date part in
	// Location is used. Both ends are inclusive.
	RangeStart time.Time
	RangeEnd   time.Time
	Location   *time.Location

	Weekly        WeeklyAvailability
	Types         []AppointmentType
	BufferMinutes int
	Bookings      []Booking
	Now           time.Time
}

// GenerateSlots returns the free slots of every appointment type on every open
// day of the range, ordered by day, then catalog order, then start time.
//
// The cursor always advances by duration plus buffer, whether or not the
// candidate was kept, so spacing stays even around existing bookings.
func GenerateSlots(q SlotQuery) []CandidateSlot {
	out := make([]CandidateSlot, 0)
	if len(q.Types) == 0 {
		return out
	}

	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	buffer := time.Duration(max(q.BufferMinutes, 0)) * time.Minute

	occupied := make([]Booking, 0, len(q.Bookings))
	for _, b := range q.Bookings {
		if b.Occupies() {
			occupied = append(occupied, b)
		}
	}

	last := dateIn(q.RangeEnd, loc)
	for day := dateIn(q.RangeStart, loc); !day.After(last); day = day.AddDate(0, 0, 1) {
		rule, ok := q.Weekly[day.Weekday()]
		if !ok || !rule.Enabled {
			continue
		}
		dayStart, dayEnd := ParseDayWindow(rule.Start, rule.End).On(day)

		for _, t := range q.Types {
			if t.DurationMinutes <= 0 {
				continue
			}
			d := t.Duration()
			for cursor := dayStart; !cursor.Add(d).After(dayEnd); cursor = cursor.Add(d + buffer) {
				end := cursor.Add(d)
				if !cursor.After(q.Now) || overlapsAny(cursor, end, occupied) {
					continue
				}
				out = append(out, CandidateSlot{
					Start:           cursor,
					End:             end,
					AppointmentType: t.Label,
					DurationMinutes: t.DurationMinutes,
					Price:           t.Price,
				})
			}
		}
	}

	return out
}

// Overlaps is the closed-open interval test: intervals that only touch do
// not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func overlapsAny(start, end time.Time, bookings []Booking) bool {
	for _, b := range bookings {
		if Overlaps(start, end, b.StartAt, b.EndAt) {
			return true
		}
	}
	return false
}

func dateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
