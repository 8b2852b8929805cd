package admission

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // calendars must resolve zones on hosts without zoneinfo

	"autotrade-core/pkg/broker"
)

// ErrNoCalendar means the heuristic has no rules for the segment.
var ErrNoCalendar = errors.New("no trading calendar for segment")

// Hours are the regular session of one segment in its local timezone.
// A zero Lunch window means the segment trades through midday.
type Hours struct {
	Location   *time.Location
	Open       time.Duration // offset from local midnight
	Close      time.Duration
	LunchStart time.Duration
	LunchEnd   time.Duration
	// Holidays are local dates (YYYY-MM-DD) with no trading.
	Holidays map[string]bool
}

// HoursSpec is the textual form of Hours, as found in configuration.
type HoursSpec struct {
	Timezone   string
	Open       string // HH:MM
	Close      string
	LunchStart string // optional
	LunchEnd   string
	Holidays   []string
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Build resolves the timezone and clock strings.
func (s HoursSpec) Build() (Hours, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Hours{}, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	h := Hours{Location: loc, Holidays: map[string]bool{}}
	if h.Open, err = ParseClock(s.Open); err != nil {
		return Hours{}, err
	}
	if h.Close, err = ParseClock(s.Close); err != nil {
		return Hours{}, err
	}
	if h.Close <= h.Open {
		return Hours{}, fmt.Errorf("close %s must be after open %s", s.Close, s.Open)
	}
	if s.LunchStart != "" && s.LunchEnd != "" {
		if h.LunchStart, err = ParseClock(s.LunchStart); err != nil {
			return Hours{}, err
		}
		if h.LunchEnd, err = ParseClock(s.LunchEnd); err != nil {
			return Hours{}, err
		}
		if h.LunchEnd <= h.LunchStart {
			return Hours{}, fmt.Errorf("lunch end %s must be after start %s", s.LunchEnd, s.LunchStart)
		}
	}
	for _, d := range s.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", d, loc); err != nil {
			return Hours{}, fmt.Errorf("invalid holiday %q: %w", d, err)
		}
		h.Holidays[d] = true
	}
	return h, nil
}

// Calendar is the local trading-calendar heuristic.
type Calendar struct {
	segments map[broker.Segment]Hours
}

// NewCalendar builds a calendar from per-segment hours.
func NewCalendar(segments map[broker.Segment]Hours) *Calendar {
	return &Calendar{segments: segments}
}

// IsOpen applies the weekday, holiday, session and lunch rules at t.
func (c *Calendar) IsOpen(segment broker.Segment, t time.Time) (bool, error) {
	if c == nil {
		return false, ErrNoCalendar
	}
	h, ok := c.segments[segment]
	if !ok || h.Location == nil {
		return false, fmt.Errorf("%w: %s", ErrNoCalendar, segment)
	}

	local := t.In(h.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	if h.Holidays[local.Format("2006-01-02")] {
		return false, nil
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.Location)
	offset := local.Sub(midnight)
	if offset < h.Open || offset >= h.Close {
		return false, nil
	}
	if h.LunchEnd > h.LunchStart && offset >= h.LunchStart && offset < h.LunchEnd {
		return false, nil
	}
	return true, nil
}
