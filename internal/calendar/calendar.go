// Package calendar provides market-hours awareness for a single exchange,
// evaluated in the exchange's own time zone so that daylight-saving
// transitions are handled by the time package rather than by fixed UTC
// offsets.
//
// The session times, holidays and early closes are configuration data,
// loaded from YAML (an NYSE default is embedded) and optionally refreshed
// from the Alpaca trading calendar.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

var ErrInvalidCalendar = errors.New("calendar: invalid calendar")

// Clock supplies the current instant. Injected so tests can simulate any
// moment.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// TimeOfDay is a wall-clock time within a trading day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: time of day %q", ErrInvalidCalendar, s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Calendar answers whether the exchange is open at a given instant.
type Calendar struct {
	name        string
	loc         *time.Location
	open        TimeOfDay
	close       TimeOfDay
	tradingDays map[time.Weekday]bool
	holidays    map[string]bool
	earlyCloses map[string]TimeOfDay
	// listedThrough is the latest date with a listed holiday, early close
	// or synced session.
	listedThrough time.Time
}

// New creates a calendar for the given zone and regular session, trading
// Monday through Friday with no holidays.
func New(name string, loc *time.Location, open, close TimeOfDay) (*Calendar, error) {
	if loc == nil {
		return nil, fmt.Errorf("%w: nil location", ErrInvalidCalendar)
	}
	if close.minutes() <= open.minutes() {
		return nil, fmt.Errorf("%w: close %s is not after open %s", ErrInvalidCalendar, close, open)
	}
	return &Calendar{
		name:  name,
		loc:   loc,
		open:  open,
		close: close,
		tradingDays: map[time.Weekday]bool{
			time.Monday: true, time.Tuesday: true, time.Wednesday: true,
			time.Thursday: true, time.Friday: true,
		},
		holidays:    make(map[string]bool),
		earlyCloses: make(map[string]TimeOfDay),
	}, nil
}

// Name returns the exchange identifier.
func (c *Calendar) Name() string { return c.name }

// Location returns the exchange time zone.
func (c *Calendar) Location() *time.Location { return c.loc }

// AddHoliday marks a full-day closure. date is YYYY-MM-DD in exchange time.
func (c *Calendar) AddHoliday(date string) error {
	day, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return fmt.Errorf("%w: holiday %q", ErrInvalidCalendar, date)
	}
	c.holidays[date] = true
	c.extend(day)
	return nil
}

// AddEarlyClose shortens the session on date.
func (c *Calendar) AddEarlyClose(date string, close TimeOfDay) error {
	day, err := time.ParseInLocation(dateLayout, date, c.loc)
	if err != nil {
		return fmt.Errorf("%w: early close %q", ErrInvalidCalendar, date)
	}
	if close.minutes() <= c.open.minutes() {
		return fmt.Errorf("%w: early close %s on %s is not after open", ErrInvalidCalendar, close, date)
	}
	c.earlyCloses[date] = close
	c.extend(day)
	return nil
}

// Covers reports whether the listed holidays reach the calendar year of t.
// Past that year every regular weekday is treated as a session.
func (c *Calendar) Covers(t time.Time) bool {
	return !c.listedThrough.IsZero() && t.In(c.loc).Year() <= c.listedThrough.Year()
}

func (c *Calendar) extend(day time.Time) {
	if day.After(c.listedThrough) {
		c.listedThrough = day
	}
}

// IsTradingDay reports whether the exchange holds a session on the
// calendar date of t (in exchange time).
func (c *Calendar) IsTradingDay(t time.Time) bool {
	local := t.In(c.loc)
	if !c.tradingDays[local.Weekday()] {
		return false
	}
	return !c.holidays[local.Format(dateLayout)]
}

// IsOpen reports whether t falls inside a regular session: open inclusive,
// close exclusive.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	local := t.In(c.loc)
	m := local.Hour()*60 + local.Minute()
	return m >= c.open.minutes() && m < c.sessionClose(local).minutes()
}

// NextOpen returns the next session open strictly after t, searching up to
// two weeks ahead. The zero time is returned if none is found.
func (c *Calendar) NextOpen(t time.Time) time.Time {
	local := t.In(c.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 14; i++ {
		candidate := c.at(day, c.open)
		if candidate.After(t) && c.IsTradingDay(candidate) {
			return candidate
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}
}

func (c *Calendar) sessionClose(local time.Time) TimeOfDay {
	if early, ok := c.earlyCloses[local.Format(dateLayout)]; ok {
		return early
	}
	return c.close
}

func (c *Calendar) at(day time.Time, tod TimeOfDay) time.Time {
	day = day.In(c.loc)
	return time.Date(day.Year(), day.Month(), day.Day(), tod.Hour, tod.Minute, 0, 0, c.loc)
}
