package clock

import "time"

// NSEHolidays2026 is the default NSE (India) holiday calendar for 2026,
// carried over from the original fixed-zone calendar and passed to
// NewSession as the holidays argument when running against NSE.
func NSEHolidays2026(loc *time.Location) []time.Time {
	days := []struct {
		month time.Month
		day   int
	}{
		{time.January, 26},
		{time.February, 17},
		{time.March, 14},
		{time.March, 31},
		{time.April, 2},
		{time.April, 6},
		{time.April, 10},
		{time.April, 14},
		{time.May, 1},
		{time.June, 7},
		{time.July, 6},
		{time.August, 15},
		{time.August, 16},
		{time.September, 5},
		{time.October, 2},
		{time.October, 20},
		{time.October, 21},
		{time.November, 5},
		{time.November, 6},
		{time.November, 7},
		{time.November, 19},
		{time.December, 25},
	}
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		out = append(out, time.Date(2026, d.month, d.day, 0, 0, 0, 0, loc))
	}
	return out
}

// IST is the Indian Standard Time location (UTC+5:30), retained as the
// default market timezone for NewNSESession.
var IST = time.FixedZone("IST", 5*3600+30*60)

// NewNSESession builds the NSE trading session: 9:15–15:30 IST, a
// 15-minute golden entry-confirmation window after open, 2026 holidays.
func NewNSESession() *Session {
	return NewSession(IST, 9, 15, 15, 30, 15*time.Minute, NSEHolidays2026(IST))
}
