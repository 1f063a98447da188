// Package markethours is the NSE session oracle: trading-hours and holiday
// awareness for the exit monitor, plus the end-of-session forced-flatten
// window.
package markethours

import (
	"fmt"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// Market hours in IST.
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30

	// Forced-flatten window: intraday positions are closed ahead of the
	// 15:30 cash close so broker auto-square-off never races us.
	FlattenHour   = 15
	FlattenMinute = 15
)

// Session is the clock and market-session authority handed to the monitor.
// The zero-argument constructor uses the wall clock; tests inject their own.
type Session struct {
	clock func() time.Time
}

// NewSession returns a wall-clock session oracle.
func NewSession() *Session {
	return &Session{clock: time.Now}
}

// NewSessionAt returns a session oracle on a fixed injected clock.
func NewSessionAt(clock func() time.Time) *Session {
	return &Session{clock: clock}
}

// Now returns the current time in IST.
func (s *Session) Now() time.Time {
	return s.clock().In(IST)
}

// MarketClosed reports whether the market is closed at the given instant.
func (s *Session) MarketClosed(at time.Time) bool {
	return !IsMarketOpen(at)
}

// IsMarketOpen returns true if t falls within NSE trading hours
// (9:15 AM – 3:30 PM IST, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	ist := t.In(IST)
	wd := ist.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	if IsHoliday(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// InFlattenWindow reports whether t is inside the forced-flatten window
// (15:15–15:30 IST on a trading day).
func InFlattenWindow(t time.Time) bool {
	ist := t.In(IST)
	if !IsTradingDay(ist) {
		return false
	}
	hm := ist.Hour()*60 + ist.Minute()
	return hm >= FlattenHour*60+FlattenMinute && hm < CloseHour*60+CloseMinute
}

// NextOpen returns the next market open time (9:15 AM IST on the next
// trading day). If t is before today's open on a trading day, returns
// today's open.
func NextOpen(t time.Time) time.Time {
	ist := t.In(IST)

	todayOpen := time.Date(ist.Year(), ist.Month(), ist.Day(), OpenHour, OpenMinute, 0, 0, IST)
	if ist.Before(todayOpen) && IsTradingDay(ist) {
		return todayOpen
	}

	d := ist.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(ist.Year(), ist.Month(), ist.Day()+1, OpenHour, OpenMinute, 0, 0, IST)
}

// TodayClose returns today's market close time (3:30 PM IST).
func TodayClose(t time.Time) time.Time {
	ist := t.In(IST)
	return time.Date(ist.Year(), ist.Month(), ist.Day(), CloseHour, CloseMinute, 0, 0, IST)
}

// TimeUntilClose returns the duration until today's close, 0 if already
// closed.
func TimeUntilClose(t time.Time) time.Duration {
	d := TodayClose(t).Sub(t.In(IST))
	if d < 0 {
		return 0
	}
	return d
}

// StatusString returns a human-readable market status for startup logs.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(TimeUntilClose(t)))
	}
	next := NextOpen(t)
	ist := next.In(IST)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		ist.Weekday().String()[:3], ist.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
