package scheduler

import (
	"time"

	logx "gqrxsched/pkg/logx"
)

const skipWarnThrottle = 5 * time.Second

// reportSkip logs an overlap skip. Skips of a slow task can be bursty, so
// the warning is throttled per schedule.
func (s *Service) reportSkip(name string, scheduled time.Time) {
	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.skipMu.Unlock()
		s.log.Debug("fire skipped", logx.String("name", name), logx.Time("scheduled", scheduled))
		return
	}
	s.lastSkipWarn[name] = now
	s.skipMu.Unlock()

	s.log.Warn("fire skipped: previous run still in progress",
		logx.String("name", name), logx.Time("scheduled", scheduled))
}
