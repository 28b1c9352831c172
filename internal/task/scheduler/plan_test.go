package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gqrxsched/internal/schedule"
)

func u64(v uint64) *uint64 { return &v }
func str(s string) *string { return &s }

func TestIntervalScheduleNext(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s := intervalSchedule{start: start, period: 5 * time.Second, end: start.Add(20 * time.Second)}

	require.Equal(t, start, s.Next(start.Add(-time.Hour)))
	require.Equal(t, start.Add(5*time.Second), s.Next(start))
	require.Equal(t, start.Add(10*time.Second), s.Next(start.Add(7*time.Second)))
	require.Equal(t, start.Add(20*time.Second), s.Next(start.Add(15*time.Second)))
	require.True(t, s.Next(start.Add(20*time.Second)).IsZero(), "no fire after end")
}

func TestCompileIntervalDefaultsStartToRegistration(t *testing.T) {
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	plan, err := Compile(&schedule.IntervalTrigger{Seconds: u64(5)}, now)
	require.NoError(t, err)
	require.Equal(t, now.Add(5*time.Second), plan.Schedule.Next(now))
	require.Zero(t, plan.Jitter)

	plan, err = Compile(&schedule.IntervalTrigger{
		Minutes: u64(1),
		Seconds: u64(30),
		Window:  schedule.Window{Jitter: u64(3)},
	}, now)
	require.NoError(t, err)
	require.Equal(t, now.Add(90*time.Second), plan.Schedule.Next(now))
	require.Equal(t, 3*time.Second, plan.Jitter)
}

func TestCompileIntervalStartInTimezone(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	start := schedule.Timestamp{Time: time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC), Naive: true}
	plan, err := Compile(&schedule.IntervalTrigger{
		Hours:  u64(1),
		Window: schedule.Window{Start: &start, Timezone: str("Europe/Berlin")},
	}, now)
	require.NoError(t, err)
	got := plan.Schedule.Next(now)
	require.True(t, time.Date(2030, 1, 1, 7, 0, 0, 0, time.UTC).Equal(got), "got %v", got)
}

func TestCompileDate(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	future := schedule.Timestamp{Time: now.Add(time.Hour)}
	plan, err := Compile(&schedule.DateTrigger{RunDate: &future}, now)
	require.NoError(t, err)
	require.Equal(t, future.Time, plan.Schedule.Next(now))
	require.True(t, plan.Schedule.Next(future.Time).IsZero(), "fires once")

	past := schedule.Timestamp{Time: now.Add(-time.Hour)}
	plan, err = Compile(&schedule.DateTrigger{RunDate: &past}, now)
	require.NoError(t, err)
	require.True(t, plan.Schedule.Next(now).IsZero())
}

func TestCompileCronWithBounds(t *testing.T) {
	start := schedule.Timestamp{Time: time.Date(2030, 1, 1, 10, 0, 5, 0, time.UTC)}
	end := schedule.Timestamp{Time: time.Date(2030, 1, 1, 10, 0, 30, 0, time.UTC)}
	plan, err := Compile(&schedule.CronTrigger{
		Second: str("*/10"),
		Window: schedule.Window{Start: &start, End: &end, Timezone: str("UTC")},
	}, start.Time.Add(-time.Hour))
	require.NoError(t, err)

	n := plan.Schedule.Next(time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC))
	require.True(t, time.Date(2030, 1, 1, 10, 0, 10, 0, time.UTC).Equal(n), "got %v", n)
	n = plan.Schedule.Next(n)
	require.True(t, time.Date(2030, 1, 1, 10, 0, 20, 0, time.UTC).Equal(n), "got %v", n)
	n = plan.Schedule.Next(n)
	require.True(t, time.Date(2030, 1, 1, 10, 0, 30, 0, time.UTC).Equal(n), "end is inclusive, got %v", n)
	require.True(t, plan.Schedule.Next(n).IsZero())
	require.Contains(t, plan.Desc, "second=*/10")
}

func TestBoundedScheduleStartIsInclusive(t *testing.T) {
	start := time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)
	tr := &schedule.CronTrigger{Second: str("0"), Window: schedule.Window{Timezone: str("UTC")}}
	cs, err := tr.Schedule()
	require.NoError(t, err)
	b := boundedSchedule{inner: cs, start: start}
	got := b.Next(start.Add(-time.Hour))
	require.True(t, start.Equal(got), "got %v", got)
}

func TestJitterStaysWithinBound(t *testing.T) {
	j := newJitterSource(42, "test")
	bound := 3 * time.Second
	var sawNonZero bool
	for i := 0; i < 2000; i++ {
		d := j.draw(bound)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.Less(t, d, bound)
		if d > 0 {
			sawNonZero = true
		}
	}
	require.True(t, sawNonZero)
	require.Zero(t, j.draw(0))
}

func TestJitteredScheduleKeepsPendingFire(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	var exhausted int
	js := &jitteredSchedule{
		base:   intervalSchedule{start: start, period: time.Minute, end: start.Add(2 * time.Minute)},
		max:    10 * time.Second,
		src:    newJitterSource(1, "test"),
		onDone: func() { exhausted++ },
	}

	first := js.Next(start)
	require.False(t, first.Before(start.Add(time.Minute)))
	require.True(t, first.Before(start.Add(time.Minute+10*time.Second)))
	require.Equal(t, first, js.Next(start.Add(time.Second)), "pending fire is stable")

	second := js.Next(first)
	require.False(t, second.Before(start.Add(2*time.Minute)))

	require.True(t, js.Next(second).IsZero())
	require.True(t, js.Next(second.Add(time.Hour)).IsZero())
	require.Equal(t, 1, exhausted)
	_, done := js.peek()
	require.True(t, done)
}

func TestJitteredScheduleSkipsMissedTimes(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	js := &jitteredSchedule{base: intervalSchedule{start: start, period: time.Minute}, src: newJitterSource(1, "test")}
	require.Equal(t, start.Add(time.Minute), js.Next(start))
	// The runner woke up late; the fires in between are not replayed.
	require.Equal(t, start.Add(11*time.Minute), js.Next(start.Add(10*time.Minute+time.Second)))
}
