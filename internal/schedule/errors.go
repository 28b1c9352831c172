package schedule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigIO   = errors.New("schedule file unreadable")
	ErrMissingKey = errors.New("missing required key")
	ErrSchedParse = errors.New("invalid schedule")
)

// ConfigIOError reports a schedule file that could not be read or decoded.
type ConfigIOError struct {
	Path string
	Err  error
}

func (e *ConfigIOError) Error() string {
	return fmt.Sprintf("read schedule %s: %v", e.Path, e.Err)
}

func (e *ConfigIOError) Unwrap() error { return e.Err }

func (e *ConfigIOError) Is(target error) bool { return target == ErrConfigIO }

// MissingKeyError reports an absent required key, e.g. "connection-settings.port".
type MissingKeyError struct {
	Path string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required key %q", e.Path)
}

func (e *MissingKeyError) Is(target error) bool { return target == ErrMissingKey }

// SchedParseError reports a structural violation. Task is the zero-based task
// index, or -1 when the problem is outside the task list.
type SchedParseError struct {
	Task   int
	Key    string
	Reason string
	Err    error
}

func (e *SchedParseError) Error() string {
	var b strings.Builder
	if e.Task >= 0 {
		fmt.Fprintf(&b, "task %d", e.Task+1)
	} else {
		b.WriteString("schedule")
	}
	if e.Key != "" {
		fmt.Fprintf(&b, ": key %q", e.Key)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SchedParseError) Unwrap() error { return e.Err }

func (e *SchedParseError) Is(target error) bool { return target == ErrSchedParse }

func parseErr(task int, key, format string, args ...any) *SchedParseError {
	return &SchedParseError{Task: task, Key: key, Reason: fmt.Sprintf(format, args...)}
}
