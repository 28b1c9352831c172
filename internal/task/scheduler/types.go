package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrStopped   = errors.New("scheduler stopped")
	ErrEmptyName = errors.New("schedule name required")
)

// Config controls the scheduler service.
type Config struct {
	// Seed makes jitter reproducible. Zero seeds from the clock.
	Seed int64
	// Now is the registration clock. Defaults to time.Now.
	Now func() time.Time
}

// Job is the work run on each fire.
type Job func(ctx context.Context) error

// Plan is a compiled trigger.
type Plan struct {
	Schedule cron.Schedule
	// Jitter is the exclusive upper bound of the random delay added to
	// every fire time.
	Jitter time.Duration
	// Desc is a human readable summary for logs and snapshots.
	Desc string
}

// State is the lifecycle state of an entry.
type State string

const (
	StateWaiting State = "waiting"
	StateFiring  State = "firing"
	StateRetired State = "retired"
)

// entry is one registered schedule. Counters are guarded by Service.mu.
type entry struct {
	id     string
	cronID cron.EntryID
	name   string
	plan   Plan
	job    Job
	sched  *jitteredSchedule

	running atomic.Bool
	prev    time.Time

	fires   uint64
	skipped uint64
	failed  uint64
	lastErr string
}

// EntryInfo is the exported view of an entry.
type EntryInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Desc    string    `json:"desc"`
	State   State     `json:"state"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
	Fires   uint64    `json:"fires"`
	Skipped uint64    `json:"skipped"`
	Failed  uint64    `json:"failed"`
	LastErr string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Running bool        `json:"running"`
	Entries []EntryInfo `json:"entries"`
}

// FireEvent is published on the event bus for fire lifecycle events.
type FireEvent struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	At        time.Time     `json:"at"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}
