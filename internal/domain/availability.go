package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DayAvailability is the opening rule for one day of the week. Start and End
// are wall-clock times in "HH:MM" form.
type DayAvailability struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// Validate reports whether an enabled rule carries a well-formed window.
// Disabled rules are always valid.
func (d DayAvailability) Validate() error {
	if !d.Enabled {
		return nil
	}
	start, ok := parseClock(d.Start)
	if !ok {
		return fmt.Errorf("invalid start time %q", d.Start)
	}
	end, ok := parseClock(d.End)
	if !ok {
		return fmt.Errorf("invalid end time %q", d.End)
	}
	if start >= end {
		return errors.New("start must be before end")
	}
	return nil
}

// WeeklyAvailability maps a weekday (Sunday=0 .. Saturday=6) to its rule.
type WeeklyAvailability map[time.Weekday]DayAvailability

func (w WeeklyAvailability) Validate() error {
	for day, rule := range w {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("invalid weekday %d", day)
		}
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("%s: %w", day, err)
		}
	}
	return nil
}

// AnyEnabled reports whether at least one day is open.
func (w WeeklyAvailability) AnyEnabled() bool {
	for _, rule := range w {
		if rule.Enabled {
			return true
		}
	}
	return false
}

type AppointmentType struct {
	ID              string          `json:"id"`
	Label           string          `json:"label"`
	DurationMinutes int             `json:"durationMinutes"`
	Price           decimal.Decimal `json:"price"`
	Location        string          `json:"location,omitempty"`
}

func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// DayWindow is an opening window expressed in minutes since local midnight.
// The zero value is not useful; build one with ParseDayWindow.
type DayWindow struct {
	start int
	end   int
}

// DefaultDayWindow is used whenever a configured window cannot be parsed.
var DefaultDayWindow = DayWindow{start: 9 * 60, end: 18 * 60}

// ParseDayWindow never fails: malformed input, or a start that is not before
// the end, yields DefaultDayWindow.
func ParseDayWindow(start, end string) DayWindow {
	s, ok := parseClock(start)
	if !ok {
		return DefaultDayWindow
	}
	e, ok := parseClock(end)
	if !ok {
		return DefaultDayWindow
	}
	if s >= e {
		return DefaultDayWindow
	}
	return DayWindow{start: s, end: e}
}

// On places the window on the calendar date of day, in day's location.
func (w DayWindow) On(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	loc := day.Location()
	return time.Date(y, m, d, w.start/60, w.start%60, 0, 0, loc),
		time.Date(y, m, d, w.end/60, w.end%60, 0, 0, loc)
}

func (w DayWindow) String() string {
	return formatClock(w.start) + "-" + formatClock(w.end)
}

// parseClock accepts "H:MM" or "HH:MM" in 24h form; "24:00" is allowed as an
// end-of-day marker.
func parseClock(v string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok || len(h) < 1 || len(h) > 2 || len(m) != 2 || !digits(h) || !digits(m) {
		return 0, false
	}
	hh, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	mm, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	if mm > 59 {
		return 0, false
	}
	if hh > 23 && !(hh == 24 && mm == 0) {
		return 0, false
	}
	return hh*60 + mm, true
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
