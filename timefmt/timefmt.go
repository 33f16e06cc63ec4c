// Package timefmt renders update timestamps for people reading the feed.
//
// Every function is pure: the same timestamp, reference time and location always
// produce the same label.
package timefmt

import (
	"fmt"
	"time"
)

const (
	dayLayout   = "Jan 2"
	clockLayout = "3:04 PM"
	fullLayout  = "Jan 2, 2006 at 3:04 PM"
)

// ResolveLocation returns the named IANA location. An empty name resolves to the
// local zone of the process, which honours the TZ environment variable.
func ResolveLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// RelativeLabel describes how long ago ts happened relative to now.
// Anything older than a day falls back to the month and day in loc.
func RelativeLabel(ts time.Time, now time.Time, loc *time.Location) string {
	if ts.IsZero() {
		return ""
	}

	minutes := int64(now.Sub(ts) / time.Minute)
	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%dm ago", minutes)
	case minutes < 24*60:
		return fmt.Sprintf("%dh ago", minutes/60)
	}
	return ts.In(location(loc)).Format(dayLayout)
}

// ClockLabel renders the hour and minute of ts, e.g. "3:45 PM"
func ClockLabel(ts time.Time, loc *time.Location) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(location(loc)).Format(clockLayout)
}

// FullLabel renders date and time of ts, e.g. "Mar 4, 2025 at 3:45 PM"
func FullLabel(ts time.Time, loc *time.Location) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(location(loc)).Format(fullLayout)
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
