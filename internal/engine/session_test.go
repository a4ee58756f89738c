package engine

import (
	"testing"
	"time"

	"github.com/arjunmehta14/options-engine/internal/config"
)

func ist(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestCalendarSessionWindow(t *testing.T) {
	cal := NewCalendar(config.Session{})
	loc := ist(t)
	day := func(h, m int) time.Time {
		return time.Date(2026, 8, 31, h, m, 0, 0, loc) // a Monday
	}

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"before open", day(9, 0), false},
		{"at open", day(9, 15), true},
		{"midday", day(12, 30), true},
		{"last minute", day(15, 29), true},
		{"at close", day(15, 30), false},
		{"evening", day(18, 0), false},
	}
	for _, tc := range cases {
		if got := cal.IsOpen(tc.at); got != tc.open {
			t.Fatalf("%s: IsOpen want %v got %v", tc.name, tc.open, got)
		}
	}
}

func TestCalendarWeekendClosed(t *testing.T) {
	cal := NewCalendar(config.Session{})
	loc := ist(t)
	saturday := time.Date(2026, 8, 29, 12, 0, 0, 0, loc)
	if cal.IsOpen(saturday) {
		t.Fatal("Saturday must be closed")
	}
}

func TestCalendarSquareOff(t *testing.T) {
	cal := NewCalendar(config.Session{})
	loc := ist(t)
	if cal.PastSquareOff(time.Date(2026, 8, 31, 15, 10, 0, 0, loc)) {
		t.Fatal("15:10 is before square-off")
	}
	if !cal.PastSquareOff(time.Date(2026, 8, 31, 15, 15, 0, 0, loc)) {
		t.Fatal("15:15 is square-off time")
	}
}

func TestCalendarSessionStartAndDateKey(t *testing.T) {
	cal := NewCalendar(config.Session{})
	loc := ist(t)
	at := time.Date(2026, 8, 31, 13, 42, 11, 0, loc)

	start := cal.SessionStart(at)
	if start.Hour() != 9 || start.Minute() != 15 {
		t.Fatalf("session start want 09:15, got %v", start)
	}
	if key := cal.DateKey(at); key != "2026-08-31" {
		t.Fatalf("date key want 2026-08-31, got %s", key)
	}
	// UTC instants bucket to the exchange day.
	utc := at.UTC()
	if key := cal.DateKey(utc); key != "2026-08-31" {
		t.Fatalf("UTC instant should map to the same exchange day, got %s", key)
	}
}
