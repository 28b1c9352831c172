package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gqrxsched/internal/config"
	"gqrxsched/internal/dispatch"
	"gqrxsched/internal/eventbus"
	"gqrxsched/internal/runtime/supervisor"
	"gqrxsched/internal/schedule"
	"gqrxsched/internal/task/runner"
	"gqrxsched/internal/task/scheduler"
	"gqrxsched/internal/transport"
	logx "gqrxsched/pkg/logx"
	"gqrxsched/pkg/systemd"
)

// ErrConnectionLost is returned by Err after the connection broke at runtime.
var ErrConnectionLost = errors.New("connection lost")

// Options are the process level knobs that do not live in the schedule file.
type Options struct {
	// LogLevel overrides logging.level when non-empty.
	LogLevel string
	// Watch logs a warning when the schedule file changes on disk.
	Watch bool
	// PrintJobs logs the job table at this interval. Zero disables it.
	PrintJobs time.Duration
	// Out receives the exchange log lines. Defaults to stdout.
	Out io.Writer
	// HistorySize bounds the dispatcher's exchange history.
	HistorySize int
	// Seed makes scheduling jitter reproducible.
	Seed int64
}

type App struct {
	path  string
	opts  Options
	sched *schedule.Schedule

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	conn    *transport.Conn
	disp    *dispatch.Dispatcher
	engine  *scheduler.Service
	runners []*runner.Runner

	sup      *supervisor.Supervisor
	stopOnce sync.Once
}

// New loads the schedule at path and wires every component. Nothing touches
// the network until Start.
func New(path string, opts Options) (*App, error) {
	sched, err := schedule.Load(path)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(sched.Logging, opts.LogLevel))
	bus := eventbus.New()

	conn := transport.New(mapTransportConfig(sched.Connection))
	disp := dispatch.New(conn, mapDispatchConfig(sched.Connection, opts), log, bus)
	engine := scheduler.New(scheduler.Config{Seed: opts.Seed}, log, bus)

	runners := make([]*runner.Runner, 0, len(sched.Tasks))
	for _, t := range sched.Tasks {
		runners = append(runners, runner.New(t, disp, log.With(logx.String("comp", "runner"))))
	}

	return &App{
		path:    path,
		opts:    opts,
		sched:   sched,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		conn:    conn,
		disp:    disp,
		engine:  engine,
		runners: runners,
	}, nil
}

// Schedule returns the parsed schedule.
func (a *App) Schedule() *schedule.Schedule { return a.sched }

// Runners returns one runner per task, in file order.
func (a *App) Runners() []*runner.Runner { return a.runners }

// Jobs returns the scheduler's job table.
func (a *App) Jobs() scheduler.Snapshot { return a.engine.Snapshot() }

// History returns the recent exchanges.
func (a *App) History() []dispatch.Exchange { return a.disp.History() }

// Done is closed when the app supervisor context is canceled (connection lost or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start connects, sends the setup commands, registers every task and starts
// the scheduler. ctx bounds startup only: once running, fires are drained by
// Stop, not by ctx. Any error leaves the app not running; call Stop to release
// what was acquired.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(context.WithoutCancel(ctx), supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.conn.Connect(ctx); err != nil {
		return err
	}
	a.log.Info("connected", logx.String("addr", a.conn.Addr()))

	if len(a.sched.SetupCommands) > 0 {
		a.log.Debug("initial setup", logx.Strs("commands", a.sched.SetupCommands))
		ok, err := a.disp.SendAll(ctx, a.sched.SetupCommands)
		if err != nil {
			return fmt.Errorf("initial setup: %w", err)
		}
		if !ok {
			a.log.Warn("initial setup: some commands were rejected", logx.Int("commands", len(a.sched.SetupCommands)))
		}
	}

	for _, r := range a.runners {
		t := r.Task()
		if _, err := a.engine.Add(r.Name(), t.Trigger, r.Fire); err != nil {
			return fmt.Errorf("task %d: %w", t.Index+1, err)
		}
	}
	a.engine.Start(a.sup.Context())

	a.sup.Go("dispatch.watch", func(c context.Context) error {
		select {
		case <-c.Done():
			return nil
		case <-a.disp.Broken():
			return fmt.Errorf("%w: %v", ErrConnectionLost, a.disp.Err())
		}
	})

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	if a.opts.Watch {
		w := config.NewWatcher(a.path, a.log.With(logx.String("comp", "config")), a.onScheduleChange)
		a.sup.GoRestart("config.watch", w.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if a.opts.PrintJobs > 0 {
		a.sup.Go0("jobs.print", func(c context.Context) {
			t := time.NewTicker(a.opts.PrintJobs)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					a.printJobs()
				}
			}
		})
	}

	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	}
	_, _ = systemd.Status("%d tasks scheduled on %s", len(a.runners), a.conn.Addr())

	a.log.Info("app started",
		logx.Int("tasks", len(a.runners)),
		logx.Int("setup_commands", len(a.sched.SetupCommands)))
	return nil
}

// Stop stops firing, waits for in-flight fires and closes the connection.
// It is safe to call more than once.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) error {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		err := fn(stepCtx)
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	}

	// The scheduler goes first so in-flight fires can still reach the wire.
	engErr := step("scheduler", 0, a.engine.Stop)

	if a.sup != nil {
		a.sup.Cancel()
	}
	var g errgroup.Group
	g.Go(func() error {
		return step("connection", 0, func(context.Context) error { return a.conn.Close() })
	})
	if a.sup != nil {
		// Fatal errors are reported by Err; only a stuck goroutine fails the step.
		g.Go(func() error {
			return step("supervisor", 2*time.Second, func(c context.Context) error {
				err := a.sup.Wait(c)
				if c.Err() != nil {
					return err
				}
				return nil
			})
		})
	}
	err := errors.Join(engErr, g.Wait())

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

func (a *App) onScheduleChange(path string) {
	if _, err := schedule.Load(path); err != nil {
		a.log.Warn("schedule file changed and no longer loads", logx.String("path", path), logx.Err(err))
	} else {
		a.log.Warn("schedule file changed; restart to apply", logx.String("path", path))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleFile, Data: path})
}

func (a *App) logEvent(e eventbus.Event) {
	// Keep this debug-level to avoid noise for frequent schedules.
	if !a.log.Enabled(logx.LevelDebug) {
		return
	}
	fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
	switch d := e.Data.(type) {
	case scheduler.FireEvent:
		fields = append(fields, logx.String("task", d.Name))
		if d.Error != "" {
			fields = append(fields, logx.String("error", d.Error))
		}
	case dispatch.Exchange:
		fields = append(fields, logx.String("command", d.Command), logx.Bool("ok", d.OK))
	}
	a.log.Debug("event", fields...)
}

func (a *App) printJobs() {
	snap := a.engine.Snapshot()
	a.log.Info("jobs", logx.Int("count", len(snap.Entries)), logx.Bool("running", snap.Running))
	for _, e := range snap.Entries {
		fields := []logx.Field{
			logx.String("name", e.Name),
			logx.String("trigger", e.Desc),
			logx.String("state", string(e.State)),
			logx.Uint64("fires", e.Fires),
			logx.Uint64("skipped", e.Skipped),
		}
		if !e.Next.IsZero() {
			fields = append(fields, logx.Time("next", e.Next))
		}
		if e.LastErr != "" {
			fields = append(fields, logx.String("last_err", e.LastErr))
		}
		a.log.Info("job", fields...)
	}
}
