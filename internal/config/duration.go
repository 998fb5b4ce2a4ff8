package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-string config field (sync.interval,
// respawn.min_sleep, ...). Empty means unset and resolves to 0; the caller
// decides whether 0 is "disabled" or "use the default". path is the dotted
// field name used in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField for fields that must end up
// positive, like the HTTP server timeouts.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
