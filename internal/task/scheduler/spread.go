package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var spreadSeq uint64

// jitteredSchedule wraps a plan schedule and delays every base fire time by
// a random offset in [0, max). The pending fire time is remembered, so asking
// again before it has passed returns the same time.
type jitteredSchedule struct {
	base cron.Schedule
	max  time.Duration
	src  *jitterSource

	mu      sync.Mutex
	pending time.Time
	done    bool
	// onDone runs once, when base has no further fire time.
	onDone func()
}

func (s *jitteredSchedule) Next(t time.Time) time.Time {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return time.Time{}
	}
	if !s.pending.IsZero() && s.pending.After(t) {
		p := s.pending
		s.mu.Unlock()
		return p
	}
	// Later fires follow the base schedule from t, so missed times are skipped.
	b := s.base.Next(t)
	if b.IsZero() {
		s.pending = time.Time{}
		s.done = true
		cb := s.onDone
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
		return time.Time{}
	}
	s.pending = b.Add(s.src.draw(s.max))
	p := s.pending
	s.mu.Unlock()
	return p
}

// peek returns the pending fire time and whether the schedule is exhausted.
func (s *jitteredSchedule) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.done
}

// jitterSource draws fire-time offsets uniformly from [0, max).
type jitterSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newJitterSource(seed int64, tag string) *jitterSource {
	if seed == 0 {
		seed = time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	}
	return &jitterSource{rng: rand.New(rand.NewSource(seed))}
}

func (j *jitterSource) draw(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rng.Int63n(int64(max)))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
