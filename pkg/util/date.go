package util

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DayLayout is the calendar date format used for market data.
const DayLayout = "2006-01-02"

// RunIDLayout is the UTC timestamp prefix of a run id.
const RunIDLayout = "20060102_150405"

// NewRunID returns the UTC second of t followed by 8 random hex characters.
func NewRunID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return t.UTC().Format(RunIDLayout) + "-" + suffix
}

// RunIDTime recovers the timestamp prefix of a run id.
func RunIDTime(id string) (time.Time, bool) {
	if len(id) < len(RunIDLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(RunIDLayout, id[:len(RunIDLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ParseDay parses YYYY-MM-DD as a UTC midnight.
func ParseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// BusinessDays returns the n weekdays ending at or before end, oldest first.
func BusinessDays(end time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	days := make([]time.Time, n)
	d := Day(end)
	for i := n - 1; i >= 0; {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days[i] = d
			i--
		}
		d = d.AddDate(0, 0, -1)
	}
	return days
}
