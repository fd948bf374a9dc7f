// Package clock implements the Clock & Session component (spec §4.1):
// trading-hours and trading-day predicates for a configurable exchange
// calendar, generalized from a single fixed-zone market into a
// per-exchange Session so the engine can run against more than one
// market without code changes.
package clock

import (
	"fmt"
	"time"
)

// Session describes one exchange's trading calendar: timezone, daily
// open/close, a "golden" entry-confirmation sub-window measured from
// open, and a holiday calendar.
type Session struct {
	Location *time.Location

	OpenHour    int
	OpenMinute  int
	CloseHour   int
	CloseMinute int

	// GoldenWindow is how long after open the golden entry-confirmation
	// window lasts (spec §4.5.3: entries are only confirmed within this
	// window on the admission day).
	GoldenWindow time.Duration

	holidays map[string]bool
}

// NewSession builds a Session. holidays is a set of "2006-01-02" dates
// (in loc) on which the exchange does not trade.
func NewSession(loc *time.Location, openH, openM, closeH, closeM int, goldenWindow time.Duration, holidays []time.Time) *Session {
	set := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		set[h.In(loc).Format("2006-01-02")] = true
	}
	return &Session{
		Location:     loc,
		OpenHour:     openH,
		OpenMinute:   openM,
		CloseHour:    closeH,
		CloseMinute:  closeM,
		GoldenWindow: goldenWindow,
		holidays:     set,
	}
}

// IsHoliday reports whether the date (in the session's location) is a
// configured holiday.
func (s *Session) IsHoliday(t time.Time) bool {
	return s.holidays[t.In(s.Location).Format("2006-01-02")]
}

// IsWeekday reports whether t falls Mon–Fri in the session's location.
func (s *Session) IsWeekday(t time.Time) bool {
	wd := t.In(s.Location).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports whether t is a weekday and not a holiday.
func (s *Session) IsTradingDay(t time.Time) bool {
	local := t.In(s.Location)
	return s.IsWeekday(local) && !s.IsHoliday(local)
}

// IsMarketOpen reports whether t falls within the trading window on a
// trading day.
func (s *Session) IsMarketOpen(t time.Time) bool {
	local := t.In(s.Location)
	if !s.IsTradingDay(local) {
		return false
	}
	hm := local.Hour()*60 + local.Minute()
	return hm >= s.OpenHour*60+s.OpenMinute && hm < s.CloseHour*60+s.CloseMinute
}

// TodayOpen returns the session's open time on t's calendar date.
func (s *Session) TodayOpen(t time.Time) time.Time {
	local := t.In(s.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), s.OpenHour, s.OpenMinute, 0, 0, s.Location)
}

// TodayClose returns the session's close time on t's calendar date.
func (s *Session) TodayClose(t time.Time) time.Time {
	local := t.In(s.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), s.CloseHour, s.CloseMinute, 0, 0, s.Location)
}

// IsWithinGoldenEntryWindow reports whether t falls within GoldenWindow
// of today's open, on a trading day. Entry confirmation outside this
// window is rejected even if every other gate passes (spec §4.5.3).
func (s *Session) IsWithinGoldenEntryWindow(t time.Time) bool {
	local := t.In(s.Location)
	if !s.IsTradingDay(local) {
		return false
	}
	open := s.TodayOpen(local)
	return !local.Before(open) && local.Before(open.Add(s.GoldenWindow))
}

// NextOpen returns the next trading-day open at or after t.
func (s *Session) NextOpen(t time.Time) time.Time {
	local := t.In(s.Location)
	todayOpen := s.TodayOpen(local)
	if local.Before(todayOpen) && s.IsTradingDay(local) {
		return todayOpen
	}
	d := local.AddDate(0, 0, 1)
	for i := 0; i < 14; i++ {
		if s.IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), s.OpenHour, s.OpenMinute, 0, 0, s.Location)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(local.Year(), local.Month(), local.Day()+1, s.OpenHour, s.OpenMinute, 0, 0, s.Location)
}

// TimeUntilClose returns the duration until today's close, or 0 if the
// market has already closed.
func (s *Session) TimeUntilClose(t time.Time) time.Duration {
	d := s.TodayClose(t).Sub(t.In(s.Location))
	if d < 0 {
		return 0
	}
	return d
}

// TimeUntilOpen returns the duration until the next market open.
func (s *Session) TimeUntilOpen(t time.Time) time.Duration {
	return s.NextOpen(t).Sub(t.In(s.Location))
}

// StatusString returns a human-readable market status, mirroring the
// teacher's operator-facing status line.
func (s *Session) StatusString(t time.Time) string {
	if s.IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(s.TimeUntilClose(t)))
	}
	next := s.NextOpen(t)
	d := next.Sub(t)
	local := next.In(s.Location)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		local.Weekday().String()[:3], local.Format("15:04"), fmtDur(d))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
