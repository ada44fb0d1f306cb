package appointment

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts the timestamp shapes produced by the scheduling
// export and by the preprocessor itself.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (last error: %v)", s, lastErr)
}

// FormatTimestamp is the canonical textual form written to cleaned files.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// DaysBetween floors the difference to whole days, so a same-day visit booked
// in the afternoon for midnight yields -1. Negative values are kept.
func DaysBetween(scheduled, appointment time.Time) int {
	return int(math.Floor(appointment.Sub(scheduled).Hours() / 24))
}

// Weekday numbers days Monday=0 through Sunday=6.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
