package scheduler

import (
	"fmt"

	logx "gqrxsched/pkg/logx"
)

// cronLogger adapts logx to cron.Logger. The runner's own chatter goes to
// trace level. The "skip" message from cron.SkipIfStillRunning is routed to
// onSkip when set.
type cronLogger struct {
	log    logx.Logger
	onSkip func()
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" && l.onSkip != nil {
		l.onSkip()
		return
	}
	if !l.log.Enabled(logx.LevelTrace) {
		return
	}
	l.log.Trace("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
