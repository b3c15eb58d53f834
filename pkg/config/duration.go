package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var unitPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDuration parses a duration string with support for days (d)
// Supports: s (seconds), m (minutes), h (hours), d (days)
// Examples: "30s", "5m", "1h", "7d"
func ParseDuration(s string) (time.Duration, error) {
	matches := unitPattern.FindStringSubmatch(strings.TrimSpace(s))
	if matches == nil {
		// Fall back to standard Go duration parsing
		return time.ParseDuration(strings.TrimSpace(s))
	}

	value, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", matches[1])
	}

	switch matches[2] {
	case "s":
		return time.Duration(value) * time.Second, nil
	case "m":
		return time.Duration(value) * time.Minute, nil
	case "h":
		return time.Duration(value) * time.Hour, nil
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time unit: %s", matches[2])
	}
}

// ParseInterval parses a scan interval. A bare number is taken as seconds,
// which is how SCAN_INTERVAL has always been expressed.
func ParseInterval(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if seconds, err := strconv.Atoi(trimmed); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return ParseDuration(trimmed)
}
