package scheduler

import "sort"

// Snapshot returns the state of every registered entry ordered by next fire
// time, retired entries last.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.started && !s.stopped
	items := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		it := EntryInfo{
			ID:      e.id,
			Name:    e.name,
			Desc:    e.plan.Desc,
			State:   StateWaiting,
			Prev:    e.prev,
			Fires:   e.fires,
			Skipped: e.skipped,
			Failed:  e.failed,
			LastErr: e.lastErr,
		}
		next, done := e.sched.peek()
		if done {
			it.State = StateRetired
		} else {
			it.Next = next
		}
		if e.running.Load() {
			it.State = StateFiring
		}
		items = append(items, it)
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Next.IsZero() != b.Next.IsZero() {
			return !a.Next.IsZero()
		}
		return a.Next.Before(b.Next)
	})
	return Snapshot{Running: running, Entries: items}
}
