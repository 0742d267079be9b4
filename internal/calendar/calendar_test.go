package calendar

import (
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyse(t *testing.T) *Calendar {
	t.Helper()
	cal, err := Default()
	require.NoError(t, err)
	return cal
}

func et(t *testing.T, year int, month time.Month, day, hour, min int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return time.Date(year, month, day, hour, min, 0, 0, loc)
}

func TestIsOpen_RegularSession(t *testing.T) {
	cal := nyse(t)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"tuesday midday", et(t, 2026, time.October, 20, 12, 0), true},
		{"at open", et(t, 2026, time.October, 20, 9, 30), true},
		{"one minute before open", et(t, 2026, time.October, 20, 9, 29), false},
		{"at close", et(t, 2026, time.October, 20, 16, 0), false},
		{"one minute before close", et(t, 2026, time.October, 20, 15, 59), true},
		{"saturday", et(t, 2026, time.October, 24, 12, 0), false},
		{"sunday", et(t, 2026, time.October, 25, 12, 0), false},
		{"thanksgiving", et(t, 2026, time.November, 26, 12, 0), false},
		{"day after thanksgiving before early close", et(t, 2026, time.November, 27, 12, 30), true},
		{"day after thanksgiving after early close", et(t, 2026, time.November, 27, 13, 30), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsOpen(tt.at))
		})
	}
}

func TestIsOpen_AcrossDaylightSaving(t *testing.T) {
	cal := nyse(t)

	// 2026-03-09 is the first Monday of EDT (UTC-4). 13:45 UTC is 09:45
	// local; a fixed UTC-5 offset would wrongly place it before the open.
	summer := time.Date(2026, time.March, 9, 13, 45, 0, 0, time.UTC)
	assert.True(t, cal.IsOpen(summer))

	// 2026-11-02 is the first Monday of EST (UTC-5). 14:15 UTC is 09:15
	// local, before the open; a fixed UTC-4 offset would call it open.
	winter := time.Date(2026, time.November, 2, 14, 15, 0, 0, time.UTC)
	assert.False(t, cal.IsOpen(winter))

	// 20:30 UTC in winter is 15:30 local, still open.
	assert.True(t, cal.IsOpen(time.Date(2026, time.November, 2, 20, 30, 0, 0, time.UTC)))
}

func TestNextOpen(t *testing.T) {
	cal := nyse(t)

	// Friday after close rolls to Monday.
	got := cal.NextOpen(et(t, 2026, time.October, 23, 17, 0))
	assert.Equal(t, et(t, 2026, time.October, 26, 9, 30), got)

	// Wednesday before Thanksgiving after close skips the holiday.
	got = cal.NextOpen(et(t, 2026, time.November, 25, 18, 0))
	assert.Equal(t, et(t, 2026, time.November, 27, 9, 30), got)

	// Same-day open when before the bell.
	got = cal.NextOpen(et(t, 2026, time.October, 20, 8, 0))
	assert.Equal(t, et(t, 2026, time.October, 20, 9, 30), got)
}

func TestCovers(t *testing.T) {
	cal := nyse(t)
	assert.True(t, cal.Covers(et(t, 2027, time.June, 1, 12, 0)))
	assert.False(t, cal.Covers(et(t, 2028, time.January, 3, 12, 0)))

	// A synced window extends coverage to its last day.
	src := fakeCalendarSource{days: []alpaca.CalendarDay{
		{Date: "2028-01-03", Open: "09:30", Close: "16:00"},
	}}
	start := et(t, 2028, time.January, 3, 0, 0)
	require.NoError(t, SyncFromAlpaca(src, cal, start, start))
	assert.True(t, cal.Covers(et(t, 2028, time.January, 3, 12, 0)))

	bare, err := New("XTEST", time.UTC, TimeOfDay{9, 0}, TimeOfDay{17, 0})
	require.NoError(t, err)
	assert.False(t, bare.Covers(time.Now()))
}

func TestDefault_EmbeddedZone(t *testing.T) {
	cal := nyse(t)
	assert.Equal(t, "America/New_York", cal.Location().String())
	_, offset := et(t, 2026, time.July, 1, 12, 0).Zone()
	assert.Equal(t, -4*3600, offset)
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing timezone":  "open: \"09:30\"\nclose: \"16:00\"\n",
		"unknown timezone":  "timezone: Mars/Olympus\nopen: \"09:30\"\nclose: \"16:00\"\n",
		"close before open": "timezone: UTC\nopen: \"16:00\"\nclose: \"09:30\"\n",
		"bad holiday":       "timezone: UTC\nopen: \"09:30\"\nclose: \"16:00\"\nholidays: [\"2026-13-01\"]\n",
		"bad time":          "timezone: UTC\nopen: \"9.30\"\nclose: \"16:00\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.True(t, errors.Is(err, ErrInvalidCalendar), "got %v", err)
		})
	}
}

func TestParse_CustomExchange(t *testing.T) {
	cal, err := Parse([]byte(`
name: LSE
timezone: Europe/London
open: "08:00"
close: "16:30"
holidays: ["2026-12-25"]
`))
	require.NoError(t, err)
	assert.Equal(t, "LSE", cal.Name())

	london := cal.Location()
	assert.True(t, cal.IsOpen(time.Date(2026, time.July, 1, 16, 15, 0, 0, london)))
	assert.False(t, cal.IsOpen(time.Date(2026, time.December, 25, 10, 0, 0, 0, london)))
}

type fakeCalendarSource struct {
	days []alpaca.CalendarDay
	err  error
}

func (f fakeCalendarSource) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	return f.days, f.err
}

func TestSyncFromAlpaca(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal, err := New("NYSE", loc, TimeOfDay{9, 30}, TimeOfDay{16, 0})
	require.NoError(t, err)

	// Week of 2026-10-19: Wednesday missing (unscheduled closure), Friday
	// closes early.
	src := fakeCalendarSource{days: []alpaca.CalendarDay{
		{Date: "2026-10-19", Open: "09:30", Close: "16:00"},
		{Date: "2026-10-20", Open: "09:30", Close: "16:00"},
		{Date: "2026-10-22", Open: "09:30", Close: "16:00"},
		{Date: "2026-10-23", Open: "09:30", Close: "13:00"},
	}}
	start := et(t, 2026, time.October, 19, 0, 0)
	end := et(t, 2026, time.October, 25, 0, 0)
	require.NoError(t, SyncFromAlpaca(src, cal, start, end))

	assert.True(t, cal.IsOpen(et(t, 2026, time.October, 20, 11, 0)))
	assert.False(t, cal.IsOpen(et(t, 2026, time.October, 21, 11, 0)))
	assert.True(t, cal.IsOpen(et(t, 2026, time.October, 23, 12, 0)))
	assert.False(t, cal.IsOpen(et(t, 2026, time.October, 23, 14, 0)))
}

func TestSyncFromAlpaca_Empty(t *testing.T) {
	cal := nyse(t)
	err := SyncFromAlpaca(fakeCalendarSource{}, cal, time.Now(), time.Now())
	assert.Error(t, err)
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, at, FixedClock(at).Now())
}
