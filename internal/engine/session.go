package engine

import (
	"time"

	"github.com/arjunmehta14/options-engine/internal/config"
)

// Calendar answers the wall-clock questions both loops ask at the top of
// every iteration. Session boundaries are time-of-day checks, not timers.
type Calendar struct {
	cfg config.Session
	loc *time.Location
}

// NewCalendar loads the exchange timezone (UTC on failure, which only
// matters for tests running without tzdata).
func NewCalendar(cfg config.Session) *Calendar {
	cfg = cfg.Normalize()
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Calendar{cfg: cfg, loc: loc}
}

// Local converts to exchange time.
func (c *Calendar) Local(t time.Time) time.Time { return t.In(c.loc) }

// MinuteOfDay is minutes from midnight, exchange time.
func (c *Calendar) MinuteOfDay(t time.Time) int {
	lt := t.In(c.loc)
	return lt.Hour()*60 + lt.Minute()
}

// TradingDay reports whether t is a weekday (exchange holidays are handled
// operationally, not here).
func (c *Calendar) TradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen reports whether the session window contains t.
func (c *Calendar) IsOpen(t time.Time) bool {
	if !c.TradingDay(t) {
		return false
	}
	m := c.MinuteOfDay(t)
	return m >= c.cfg.OpenMin && m < c.cfg.CloseMin
}

// PastSquareOff reports whether the forced square-off time has passed.
func (c *Calendar) PastSquareOff(t time.Time) bool {
	return c.MinuteOfDay(t) >= c.cfg.SquareOffMin
}

// SessionStart returns the session open on t's date, exchange time.
func (c *Calendar) SessionStart(t time.Time) time.Time {
	lt := t.In(c.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.cfg.OpenMin/60, c.cfg.OpenMin%60, 0, 0, c.loc)
}

// DateKey is the trading-day bucket (YYYY-MM-DD, exchange time).
func (c *Calendar) DateKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}
