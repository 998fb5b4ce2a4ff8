package respawn

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock anchor (server-local), independent of date.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// ParseBaseTime parses "HH:MM" or "HH:MM:SS".
//
// Seconds default to 0 when omitted. Any other field count, a non-numeric
// field, or an out-of-range value is rejected.
func ParseBaseTime(raw string) (TimeOfDay, error) {
	s := strings.TrimSpace(raw)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid base time %q, expected HH:MM or HH:MM:SS", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", raw)
	}
	sec := 0
	if len(parts) == 3 {
		sec, err = strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("invalid second in %q", raw)
		}
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

// NextAligned returns the next fire instant strictly after now for a repeating
// period anchored to base, with the fire pulled lead ahead of the aligned tick.
//
// The grid is anchored to the same wall-clock time-of-day regardless of
// calendar date, so the 10m and 2h periods sharing one anchor stay consistent.
func NextAligned(now time.Time, base TimeOfDay, period, lead time.Duration) time.Time {
	anchor := time.Date(now.Year(), now.Month(), now.Day(),
		base.Hour, base.Minute, base.Second, 0, now.Location())
	// Guarantee a baseline at or before now so elapsed-period math is valid.
	if anchor.After(now) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	elapsed := now.Sub(anchor)
	periods := elapsed / period
	next := anchor.Add((periods + 1) * period)
	fire := next.Add(-lead)
	// A large lead relative to the period can land the fire at or before now.
	if !fire.After(now) {
		fire = fire.Add(period)
	}
	return fire
}
