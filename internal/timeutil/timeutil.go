// Package timeutil converts between wall-clock instants, epoch-second
// timestamps and human durations.
//
// Epoch seconds are the only durable time representation. Anything rendered
// as an ISO string is display/debug output and is never parsed back.
package timeutil

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Now returns the current instant as epoch seconds.
func Now() int64 {
	return time.Now().Unix()
}

// FromUnix returns the instant for ts in loc.
func FromUnix(ts int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(ts, 0).In(loc)
}

// ISO formats ts as RFC 3339 in loc. Display only.
func ISO(ts int64, loc *time.Location) string {
	return FromUnix(ts, loc).Format(time.RFC3339)
}

// Hours converts seconds to hours rounded to two decimal places.
func Hours(secs int64) float64 {
	return math.Round(float64(secs)/36) / 100
}

// FormatHours renders secs as hours with two decimals.
func FormatHours(secs int64) string {
	return fmt.Sprintf("%.2f", Hours(secs))
}

// ParseClock parses a "HH:MM" (or "H:MM") time of day and returns the
// offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		s = "0" + s
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseDate parses a "YYYY-MM-DD" calendar date at midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

// Combine returns the instant for the calendar date of day at the given
// time-of-day offset in loc. Daylight-saving transitions are resolved by
// time.Date.
func Combine(day time.Time, clock time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = day.Location()
	}
	y, m, d := day.In(loc).Date()
	h := int(clock / time.Hour)
	min := int((clock % time.Hour) / time.Minute)
	return time.Date(y, m, d, h, min, 0, 0, loc)
}

// CombineString parses date ("YYYY-MM-DD") and clock ("HH:MM") in loc and
// returns the resulting epoch seconds.
func CombineString(date, clock string, loc *time.Location) (int64, error) {
	d, err := ParseDate(date, loc)
	if err != nil {
		return 0, err
	}
	c, err := ParseClock(clock)
	if err != nil {
		return 0, err
	}
	return Combine(d, c, loc).Unix(), nil
}

// StartOfDay truncates t to local midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	var out string
	switch {
	case h > 0:
		out = fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		out = fmt.Sprintf("%dm %ds", m, s)
	default:
		out = fmt.Sprintf("%ds", s)
	}
	if neg {
		return "-" + out
	}
	return out
}

// FormatSeconds is FormatDuration for an epoch-second delta.
func FormatSeconds(secs int64) string {
	return FormatDuration(time.Duration(secs) * time.Second)
}
