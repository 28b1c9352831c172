package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gqrxsched/internal/app"
	logx "gqrxsched/pkg/logx"
)

func main() {
	var (
		logLevel    string
		watch       bool
		printJobs   time.Duration
		stopTimeout time.Duration
	)
	flag.StringVar(&logLevel, "log-level", "", "override logging.level (trace|debug|info|warn|error)")
	flag.BoolVar(&watch, "watch", false, "warn when the schedule file changes on disk")
	flag.DurationVar(&printJobs, "print-jobs", 0, "log the job table at this interval (0 disables)")
	flag.DurationVar(&stopTimeout, "stop-timeout", 5*time.Second, "how long shutdown waits for running tasks")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <schedule-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(flag.Arg(0), app.Options{
		LogLevel:  logLevel,
		Watch:     watch,
		PrintJobs: printJobs,
	}, stopTimeout))
}

func run(path string, opts app.Options, stopTimeout time.Duration) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The schedule's own logging settings are not known until it loads.
	boot := logx.NewConsole(opts.LogLevel).With(logx.String("comp", "main"))

	a, err := app.New(path, opts)
	if err != nil {
		boot.Error("cannot load schedule", logx.String("path", path), logx.Err(err))
		return 1
	}

	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}

	if err := a.Start(ctx); err != nil {
		stop(app.StopStartupFailed)
		boot.Error("startup failed", logx.Err(err))
		return 1
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
		return 0
	case <-a.Done():
		err := a.Err()
		if ctx.Err() != nil && !errors.Is(err, app.ErrConnectionLost) {
			stop(app.StopSignal)
			return 0
		}
		stop(app.StopConnectionLost)
		boot.Error("run ended", logx.Err(err))
		return 1
	}
}
