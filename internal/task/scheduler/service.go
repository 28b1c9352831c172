package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"gqrxsched/internal/eventbus"
	"gqrxsched/internal/schedule"
	logx "gqrxsched/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time
	jitter *jitterSource

	c       *cron.Cron
	seq     uint64
	entries []*entry

	runCtx    context.Context
	cancelRun context.CancelFunc
	started   bool
	stopped   bool

	// Skip warnings are throttled per entry name.
	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log = log.With(logx.String("comp", "scheduler"))
	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		now:          now,
		jitter:       newJitterSource(cfg.Seed, "scheduler"),
		c:            cron.New(cron.WithLogger(cronLogger{log: log})),
		runCtx:       runCtx,
		cancelRun:    cancel,
		lastSkipWarn: map[string]time.Time{},
	}
}

// Add compiles trigger and registers job under name.
func (s *Service) Add(name string, trigger schedule.Trigger, job Job) (string, error) {
	plan, err := Compile(trigger, s.now())
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.AddPlan(name, plan, job)
}

// AddPlan registers a compiled plan. A plan without any future fire time is
// registered as retired and never handed to the cron runner.
func (s *Service) AddPlan(name string, plan Plan, job Job) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if plan.Schedule == nil || job == nil {
		return "", fmt.Errorf("schedule %s: plan and job required", name)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", ErrStopped
	}
	s.seq++
	e := &entry{
		id:    fmt.Sprintf("sched:%d", s.seq),
		name:  name,
		plan:  plan,
		job:   job,
		sched: &jitteredSchedule{base: plan.Schedule, max: plan.Jitter, src: s.jitter},
	}
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	next := e.sched.Next(s.now())
	if next.IsZero() {
		s.log.Warn("schedule has no future fire time; retired",
			logx.String("name", name), logx.String("plan", plan.Desc))
		s.publish(eventbus.TypeTaskRetired, e, time.Time{}, 0, "")
		return e.id, nil
	}
	e.sched.onDone = func() { s.retire(e) }

	cl := cronLogger{log: s.log, onSkip: func() { s.skip(e) }}
	wrapped := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() { s.run(e) }))
	id := s.c.Schedule(e.sched, wrapped)

	s.mu.Lock()
	e.cronID = id
	s.mu.Unlock()

	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("id", e.id),
		logx.String("plan", plan.Desc),
		logx.Time("next", next))
	return e.id, nil
}

// Start starts the cron runner. Fires receive a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.cancelRun()
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	s.started = true
	s.c.Start()
	s.log.Info("service started", logx.Int("schedules", len(s.entries)))
}

// Stop stops new fires and waits for in-flight fires until ctx is done.
// Fires still running at that point are abandoned: their context is canceled.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	cancel := s.cancelRun
	s.mu.Unlock()

	if !started {
		cancel()
		return nil
	}
	s.log.Info("stop requested")

	select {
	case <-s.c.Stop().Done():
		cancel()
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		cancel()
		s.log.Warn("in-flight fires abandoned", logx.Duration("took", time.Since(start)))
		return ctx.Err()
	}
}

// run executes one fire. cron.SkipIfStillRunning keeps fires of one entry
// from overlapping and cron.Recover catches panics.
func (s *Service) run(e *entry) {
	at := time.Now()
	s.mu.Lock()
	ctx := s.runCtx
	e.fires++
	e.prev = at
	s.mu.Unlock()

	e.running.Store(true)
	defer e.running.Store(false)

	s.publish(eventbus.TypeTaskFired, e, at, 0, "")
	s.log.Debug("fire", logx.String("name", e.name))

	if err := e.job(ctx); err != nil {
		s.mu.Lock()
		e.failed++
		e.lastErr = err.Error()
		s.mu.Unlock()
		s.log.Warn("fire failed", logx.String("name", e.name), logx.Err(err))
		s.publish(eventbus.TypeTaskFailed, e, at, time.Since(at), err.Error())
	}
}

func (s *Service) skip(e *entry) {
	at := time.Now()
	s.mu.Lock()
	e.skipped++
	s.mu.Unlock()
	s.reportSkip(e.name, at)
	s.publish(eventbus.TypeTaskSkipped, e, at, 0, "previous run still in progress")
}

// retire is called from the cron runner once an entry's schedule is exhausted.
func (s *Service) retire(e *entry) {
	s.mu.Lock()
	id := e.cronID
	s.mu.Unlock()
	if id != 0 {
		// Remove goes through the runner's loop, which is the caller here.
		go s.c.Remove(id)
	}
	s.log.Info("schedule retired", logx.String("name", e.name))
	s.publish(eventbus.TypeTaskRetired, e, time.Now(), 0, "")
}

func (s *Service) publish(typ string, e *entry, at time.Time, took time.Duration, errText string) {
	s.bus.Publish(eventbus.Event{
		Type: typ,
		Data: FireEvent{ID: e.id, Name: e.name, At: at, Duration: took, Error: errText},
	})
}
