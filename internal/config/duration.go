package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

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

// DurationValue accepts either a Go duration string ("5s", "1m30s") or a
// plain number of seconds, as both show up in hand-written schedule files.
func DurationValue(path string, v any) (time.Duration, error) {
	switch x := v.(type) {
	case string:
		return ParseDurationField(path, x)
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", path)
		}
		if x > math.MaxInt64/int64(time.Second) {
			return 0, fmt.Errorf("%s: duration %d out of range", path, x)
		}
		return time.Duration(x) * time.Second, nil
	case float64:
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) || x*float64(time.Second) >= math.MaxInt64 {
			return 0, fmt.Errorf("%s: invalid duration %v", path, x)
		}
		return time.Duration(x * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("%s: expected duration, got %s", path, Describe(v))
	}
}
