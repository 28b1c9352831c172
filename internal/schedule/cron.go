package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// set by robfig/cron when a field is "*" or "?"
	cronStarBit = 1 << 63

	minYear = 1970
	maxYear = 9999
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronDefaults are the values taken by fields less significant than the
// least significant supplied field. More significant ones are wildcards.
var cronDefaults = map[string]string{
	"year":        "*",
	"month":       "1",
	"day":         "1",
	"day_of_week": "*",
	"hour":        "0",
	"minute":      "0",
	"second":      "0",
}

// Expressions returns every cron field with defaults applied, keyed by
// property name.
func (t *CronTrigger) Expressions() map[string]string {
	fields := t.fields()
	last := -1
	for i, f := range fields {
		if *f.ptr != nil {
			last = i
		}
	}
	out := make(map[string]string, len(fields))
	for i, f := range fields {
		switch {
		case *f.ptr != nil:
			out[f.key] = **f.ptr
		case i > last && last >= 0:
			out[f.key] = cronDefaults[f.key]
		default:
			out[f.key] = "*"
		}
	}
	return out
}

// CronSchedule is a robfig/cron SpecSchedule extended with a year filter and
// strict day matching: when both day and day_of_week are restricted a time
// must satisfy both.
type CronSchedule struct {
	Spec  *cron.SpecSchedule
	Years []YearRange
}

// YearRange matches Lo..Hi (inclusive) every Step years.
type YearRange struct {
	Lo, Hi, Step int
}

func (r YearRange) match(y int) bool {
	return y >= r.Lo && y <= r.Hi && (y-r.Lo)%r.Step == 0
}

// next returns the smallest matching year >= y, or 0.
func (r YearRange) next(y int) int {
	if y < r.Lo {
		return r.Lo
	}
	if y > r.Hi {
		return 0
	}
	n := r.Lo + ((y-r.Lo+r.Step-1)/r.Step)*r.Step
	if n > r.Hi {
		return 0
	}
	return n
}

// Schedule compiles the trigger's fields.
func (t *CronTrigger) Schedule() (*CronSchedule, error) {
	loc, err := t.Location()
	if err != nil {
		return nil, err
	}
	ex := t.Expressions()

	years, err := parseYears(ex["year"])
	if err != nil {
		return nil, fmt.Errorf("year: %w", err)
	}

	dow, err := parseDayOfWeek(ex["day_of_week"])
	if err != nil {
		return nil, fmt.Errorf("day_of_week: %w", err)
	}

	expr := strings.Join([]string{ex["second"], ex["minute"], ex["hour"], ex["day"], ex["month"], "*"}, " ")
	parsed, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron fields %q: %w", expr, err)
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("cron fields %q: unexpected schedule %T", expr, parsed)
	}
	spec.Dow = dow
	spec.Location = loc
	return &CronSchedule{Spec: spec, Years: years}, nil
}

// Next implements cron.Schedule.
func (s *CronSchedule) Next(t time.Time) time.Time {
	loc := s.Spec.Location
	if loc == nil {
		loc = time.Local
	}
	for i := 0; i < 1000; i++ {
		n := s.Spec.Next(t)
		if n.IsZero() {
			// robfig gives up after five years without a match; keep
			// searching only when a later year may still match.
			if len(s.Years) == 0 {
				return n
			}
			y := s.nextYear(t.In(loc).Year() + 5)
			if y == 0 {
				return time.Time{}
			}
			t = time.Date(y, time.January, 1, 0, 0, 0, 0, loc).Add(-time.Second)
			continue
		}
		local := n.In(loc)
		if len(s.Years) > 0 && !s.matchYear(local.Year()) {
			y := s.nextYear(local.Year())
			if y == 0 {
				return time.Time{}
			}
			t = time.Date(y, time.January, 1, 0, 0, 0, 0, loc).Add(-time.Second)
			continue
		}
		if !s.dayMatches(local) {
			t = n
			continue
		}
		return n
	}
	return time.Time{}
}

func (s *CronSchedule) matchYear(y int) bool {
	for _, r := range s.Years {
		if r.match(y) {
			return true
		}
	}
	return false
}

func (s *CronSchedule) nextYear(y int) int {
	best := 0
	for _, r := range s.Years {
		if n := r.next(y); n != 0 && (best == 0 || n < best) {
			best = n
		}
	}
	return best
}

// dayMatches re-checks day and weekday together; robfig accepts either one
// when both are restricted.
func (s *CronSchedule) dayMatches(t time.Time) bool {
	if s.Spec.Dom&cronStarBit != 0 || s.Spec.Dow&cronStarBit != 0 {
		return true
	}
	return s.Spec.Dom&(1<<uint(t.Day())) != 0 && s.Spec.Dow&(1<<uint(t.Weekday())) != 0
}

var weekdayNames = strings.NewReplacer(
	"mon", "0", "tue", "1", "wed", "2", "thu", "3", "fri", "4", "sat", "5", "sun", "6",
)

// parseDayOfWeek reads a day_of_week expression numbered 0=Monday..6=Sunday
// and returns a robfig Dow bitmask (0=Sunday).
func parseDayOfWeek(expr string) (uint64, error) {
	expr = weekdayNames.Replace(strings.ToLower(strings.TrimSpace(expr)))
	parsed, err := cronParser.Parse("0 0 0 * * " + expr)
	if err != nil {
		return 0, err
	}
	spec, ok := parsed.(*cron.SpecSchedule)
	if !ok {
		return 0, fmt.Errorf("unexpected schedule %T", parsed)
	}
	mondayFirst := spec.Dow
	out := mondayFirst & cronStarBit
	for i := 0; i < 7; i++ {
		if mondayFirst&(1<<uint(i)) != 0 {
			out |= 1 << uint((i+1)%7)
		}
	}
	return out, nil
}

// parseYears reads "*", "2025", "2025-2027", "*/2" or comma lists of those.
// A nil result matches every year.
func parseYears(expr string) ([]YearRange, error) {
	expr = strings.TrimSpace(expr)
	if expr == "*" || expr == "" {
		return nil, nil
	}
	var out []YearRange
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		r := YearRange{Lo: minYear, Hi: maxYear, Step: 1}
		rng, step, hasStep := strings.Cut(part, "/")
		if hasStep {
			n, err := strconv.Atoi(step)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid step %q", step)
			}
			r.Step = n
		}
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			lo, hi, _ := strings.Cut(rng, "-")
			a, err1 := strconv.Atoi(lo)
			b, err2 := strconv.Atoi(hi)
			if err1 != nil || err2 != nil || a > b {
				return nil, fmt.Errorf("invalid range %q", rng)
			}
			r.Lo, r.Hi = a, b
		default:
			a, err := strconv.Atoi(rng)
			if err != nil {
				return nil, fmt.Errorf("invalid year %q", rng)
			}
			r.Lo = a
			if !hasStep {
				r.Hi = a
			}
		}
		if r.Lo < minYear || r.Hi > maxYear {
			return nil, fmt.Errorf("year %q out of range %d-%d", part, minYear, maxYear)
		}
		out = append(out, r)
	}
	return out, nil
}
