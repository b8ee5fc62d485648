// Package anchor decides where VWAP anchor periods begin. It owns the
// calendar rules (session, ISO week, month) so the band engine only sees a
// boolean oracle.
package anchor

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Session open in IST.
const (
	OpenHour   = 9
	OpenMinute = 15
)

// Bar timeframes, in seconds, that coincide with an anchor granularity.
const (
	DayTF   = 86400
	WeekTF  = 7 * DayTF
	MonthTF = 30 * DayTF
)

// Calendar maps timestamps to trading sessions. A session runs from
// SessionOpen on its date until SessionOpen on the next calendar day, so
// bars before the open belong to the previous session.
type Calendar struct {
	Location    *time.Location
	SessionOpen time.Duration // offset from local midnight
}

// DefaultCalendar returns the NSE calendar: IST, session open 09:15.
func DefaultCalendar() Calendar {
	return Calendar{
		Location:    IST,
		SessionOpen: OpenHour*time.Hour + OpenMinute*time.Minute,
	}
}

// SessionDate returns local midnight of the session containing t.
func (c Calendar) SessionDate(t time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc).Add(-c.SessionOpen)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// IsNewSession reports whether cur falls in a later session than prev.
func (c Calendar) IsNewSession(prev, cur time.Time) bool {
	return c.SessionDate(cur).After(c.SessionDate(prev))
}

// IsNewWeek reports whether cur's session is in a later ISO week than prev's.
func (c Calendar) IsNewWeek(prev, cur time.Time) bool {
	py, pw := c.SessionDate(prev).ISOWeek()
	cy, cw := c.SessionDate(cur).ISOWeek()
	return cy > py || (cy == py && cw > pw)
}

// IsNewMonth reports whether cur's session is in a later month than prev's.
func (c Calendar) IsNewMonth(prev, cur time.Time) bool {
	p, n := c.SessionDate(prev), c.SessionDate(cur)
	return n.Year() > p.Year() || (n.Year() == p.Year() && n.Month() > p.Month())
}
