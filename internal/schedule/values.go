package schedule

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gqrxsched/internal/config"
)

func toString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %s", config.Describe(v))
	}
	return s, nil
}

func toStrings(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for i, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %s", i, config.Describe(e))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %s", config.Describe(v))
	}
}

// toCommands is toStrings for command lists. The wire protocol is one command
// per line, so a line break inside a command is rejected.
func toCommands(v any) ([]string, error) {
	cmds, err := toStrings(v)
	if err != nil {
		return nil, err
	}
	for i, c := range cmds {
		if strings.ContainsAny(c, "\r\n") {
			return nil, fmt.Errorf("element %d: command %q contains a line break", i, c)
		}
	}
	return cmds, nil
}

func toUint(v any) (uint64, error) {
	switch x := v.(type) {
	case uint64:
		return x, nil
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("must be >= 0, got %d", x)
		}
		return uint64(x), nil
	case int:
		if x < 0 {
			return 0, fmt.Errorf("must be >= 0, got %d", x)
		}
		return uint64(x), nil
	case float64:
		if x < 0 || x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("expected non-negative integer, got %v", x)
		}
		return uint64(x), nil
	default:
		return 0, fmt.Errorf("expected non-negative integer, got %s", config.Describe(v))
	}
}

// toCronField accepts a number or an expression such as "*/5" or "mon-fri".
func toCronField(v any) (string, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return "", fmt.Errorf("empty cron field")
		}
		return s, nil
	case int64, uint64, int, float64:
		n, err := toUint(x)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n, 10), nil
	default:
		return "", fmt.Errorf("expected cron field, got %s", config.Describe(v))
	}
}

var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999 -0700",
}

func toTimestamp(v any) (Timestamp, error) {
	switch x := v.(type) {
	case Timestamp:
		return x, nil
	case time.Time:
		return Timestamp{Time: x}, nil
	case config.LocalTime:
		return Timestamp{Time: x.Wall, Naive: true}, nil
	case string:
		return ParseTimestamp(x)
	default:
		return Timestamp{}, fmt.Errorf("expected timestamp, got %s", config.Describe(v))
	}
}

// ParseTimestamp parses RFC 3339 or one of the zone-less layouts
// "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02".
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return Timestamp{Time: t, Naive: true}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("invalid timestamp %q", s)
}
