package calendar

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// CalendarSource is the subset of the Alpaca trading client used to fetch
// session days.
type CalendarSource interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// SyncFromAlpaca fetches the exchange sessions in [start, end] and applies
// them to c. Must be called before c is shared with other goroutines.
func SyncFromAlpaca(src CalendarSource, c *Calendar, start, end time.Time) error {
	days, err := src.GetCalendar(alpaca.GetCalendarRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return fmt.Errorf("GetCalendar: %w", err)
	}
	if len(days) == 0 {
		return fmt.Errorf("no trading days returned from calendar")
	}
	return c.ApplySessions(days, start, end)
}

// ApplySessions treats days as the authoritative session list for
// [start, end]: every regular trading weekday in the window without a
// session becomes a holiday, and sessions closing before the regular close
// become early closes.
func (c *Calendar) ApplySessions(days []alpaca.CalendarDay, start, end time.Time) error {
	sessions := make(map[string]alpaca.CalendarDay, len(days))
	for _, d := range days {
		sessions[d.Date] = d
	}

	day := time.Date(start.In(c.loc).Year(), start.In(c.loc).Month(), start.In(c.loc).Day(), 0, 0, 0, 0, c.loc)
	last := end.In(c.loc)
	for !day.After(last) {
		date := day.Format(dateLayout)
		session, ok := sessions[date]
		switch {
		case !c.tradingDays[day.Weekday()]:
		case !ok:
			c.holidays[date] = true
		default:
			delete(c.holidays, date)
			closeAt, err := ParseTimeOfDay(session.Close)
			if err != nil {
				return err
			}
			if closeAt.minutes() < c.close.minutes() {
				if err := c.AddEarlyClose(date, closeAt); err != nil {
					return err
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	c.extend(time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, c.loc))
	return nil
}
