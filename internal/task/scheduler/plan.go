package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gqrxsched/internal/schedule"
)

// Compile turns a trigger into a Plan. now is the registration time; it is
// the default start of interval triggers.
func Compile(t schedule.Trigger, now time.Time) (Plan, error) {
	switch tr := t.(type) {
	case *schedule.DateTrigger:
		loc, err := tr.Location()
		if err != nil {
			return Plan{}, err
		}
		if tr.RunDate == nil {
			return Plan{}, fmt.Errorf("date trigger without run_date")
		}
		at := tr.RunDate.Resolve(loc)
		return Plan{
			Schedule: onceSchedule{at: at},
			Desc:     "date " + at.Format(time.RFC3339),
		}, nil

	case *schedule.IntervalTrigger:
		loc, err := tr.Location()
		if err != nil {
			return Plan{}, err
		}
		period := tr.Period()
		if period <= 0 {
			return Plan{}, fmt.Errorf("interval period must be > 0")
		}
		start := now
		if tr.Start != nil {
			start = tr.Start.Resolve(loc)
		}
		var end time.Time
		if tr.End != nil {
			end = tr.End.Resolve(loc)
		}
		return Plan{
			Schedule: intervalSchedule{start: start, period: period, end: end},
			Jitter:   tr.JitterDuration(),
			Desc:     "every " + period.String(),
		}, nil

	case *schedule.CronTrigger:
		loc, err := tr.Location()
		if err != nil {
			return Plan{}, err
		}
		cs, err := tr.Schedule()
		if err != nil {
			return Plan{}, err
		}
		b := boundedSchedule{inner: cs}
		if tr.Start != nil {
			b.start = tr.Start.Resolve(loc)
		}
		if tr.End != nil {
			b.end = tr.End.Resolve(loc)
		}
		return Plan{
			Schedule: b,
			Jitter:   tr.JitterDuration(),
			Desc:     "cron " + describeCron(tr),
		}, nil

	default:
		return Plan{}, fmt.Errorf("unsupported trigger %T", t)
	}
}

func describeCron(t *schedule.CronTrigger) string {
	ex := t.Expressions()
	parts := make([]string, 0, len(schedule.CronProps))
	for _, k := range []string{"year", "month", "day", "day_of_week", "hour", "minute", "second"} {
		parts = append(parts, k+"="+ex[k])
	}
	return strings.Join(parts, " ")
}

// onceSchedule fires a single time.
type onceSchedule struct {
	at time.Time
}

func (s onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

// intervalSchedule fires at start + k*period for k >= 0, never after end.
type intervalSchedule struct {
	start  time.Time
	period time.Duration
	end    time.Time
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	var n time.Time
	if t.Before(s.start) {
		n = s.start
	} else {
		k := t.Sub(s.start)/s.period + 1
		n = s.start.Add(k * s.period)
	}
	if !s.end.IsZero() && n.After(s.end) {
		return time.Time{}
	}
	return n
}

// boundedSchedule limits an inner schedule to [start, end].
type boundedSchedule struct {
	inner cron.Schedule
	start time.Time
	end   time.Time
}

func (s boundedSchedule) Next(t time.Time) time.Time {
	if !s.start.IsZero() && t.Before(s.start) {
		// robfig rounds up to the next whole second, so start itself is
		// still eligible.
		t = s.start.Add(-time.Nanosecond)
	}
	n := s.inner.Next(t)
	if n.IsZero() {
		return n
	}
	if !s.end.IsZero() && n.After(s.end) {
		return time.Time{}
	}
	return n
}
