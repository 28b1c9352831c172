// Package runner turns a fired trigger into dispatcher calls.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gqrxsched/internal/schedule"
	logx "gqrxsched/pkg/logx"
)

// Sender is the part of the dispatcher a task needs.
type Sender interface {
	Send(ctx context.Context, cmd string) (bool, error)
	SendAll(ctx context.Context, cmds []string) (bool, error)
}

// Runner holds the runtime state of one task.
type Runner struct {
	task schedule.Task
	out  Sender
	log  logx.Logger

	mu     sync.Mutex
	cursor int
}

func New(task schedule.Task, out Sender, log logx.Logger) *Runner {
	return &Runner{
		task: task,
		out:  out,
		log:  log.With(logx.String("task", task.Name)),
	}
}

func (r *Runner) Name() string { return r.task.Name }

func (r *Runner) Task() schedule.Task { return r.task }

// Cursor is the index of the next command in one-by-one mode.
func (r *Runner) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Fire sends the task's commands for one trigger. Fires of the same runner
// are serialized. On a dispatch error the cursor stays where it was.
func (r *Runner) Fire(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.task.Commands) == 0 {
		return fmt.Errorf("task %s has no commands", r.task.Name)
	}

	start := time.Now()
	var (
		ok  bool
		err error
		n   int
	)
	switch r.task.Execution {
	case schedule.ExecOneByOne:
		cmd := r.task.Commands[r.cursor]
		ok, err = r.out.Send(ctx, cmd)
		n = 1
		if err == nil {
			r.cursor = (r.cursor + 1) % len(r.task.Commands)
		}
	default:
		ok, err = r.out.SendAll(ctx, r.task.Commands)
		n = len(r.task.Commands)
	}

	if err != nil {
		r.log.Warn("fire abandoned", logx.Err(err))
		return fmt.Errorf("task %s: %w", r.task.Name, err)
	}
	fields := []logx.Field{
		logx.String("mode", r.task.Execution.String()),
		logx.Int("commands", n),
		logx.Bool("ok", ok),
		logx.Duration("took", time.Since(start)),
	}
	if ok {
		r.log.Debug("fired", fields...)
	} else {
		r.log.Info("fired with rejected command", fields...)
	}
	return nil
}
