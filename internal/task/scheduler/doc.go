// Package scheduler decides when each task fires.
//
// Triggers are compiled into robfig/cron Schedule values (one-shot date,
// fixed interval, cron fields), wrapped with per-entry jitter and handed to a
// cron.Cron runner. Each job is wrapped with cron.Recover and
// cron.SkipIfStillRunning:
//   - fires of different tasks run concurrently
//   - a fire arriving while the same task is still running is skipped
//   - missed fire times are skipped, not replayed
//   - an entry whose schedule has no next time is retired
package scheduler
