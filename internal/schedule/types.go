package schedule

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ExecutionMode controls how many commands a task sends per fire.
type ExecutionMode int

const (
	// ExecAll sends every command on each fire.
	ExecAll ExecutionMode = iota + 1
	// ExecOneByOne sends one command per fire and advances a cursor.
	ExecOneByOne
)

func (m ExecutionMode) String() string {
	switch m {
	case ExecAll:
		return "all"
	case ExecOneByOne:
		return "one_by_one"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// ParseExecutionMode maps the configuration literal to a mode.
func ParseExecutionMode(s string) (ExecutionMode, bool) {
	switch strings.TrimSpace(s) {
	case "all":
		return ExecAll, true
	case "one_by_one":
		return ExecOneByOne, true
	default:
		return 0, false
	}
}

// TriggerKind selects the trigger variant of a task.
type TriggerKind int

const (
	KindDate TriggerKind = iota + 1
	KindInterval
	KindCron
)

func (k TriggerKind) String() string {
	switch k {
	case KindDate:
		return "date"
	case KindInterval:
		return "interval"
	case KindCron:
		return "cron"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

func ParseTriggerKind(s string) (TriggerKind, bool) {
	switch strings.TrimSpace(s) {
	case "date":
		return KindDate, true
	case "interval":
		return KindInterval, true
	case "cron":
		return KindCron, true
	default:
		return 0, false
	}
}

// ConnectionSettings describes the remote control endpoint.
type ConnectionSettings struct {
	Host string `validate:"required,hostname_rfc1123|ip"`
	Port uint16 `validate:"required,min=1"`

	// DialTimeout bounds the initial connect.
	DialTimeout time.Duration `validate:"gte=0"`
	// ReadTimeout bounds each reply read. Zero blocks indefinitely.
	ReadTimeout time.Duration `validate:"gte=0"`
	// RateLimit caps commands per second on the wire. Zero disables it.
	RateLimit float64 `validate:"gte=0"`
}

// Addr returns host:port.
func (c ConnectionSettings) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// Task is one schedulable unit.
type Task struct {
	// Index is the zero-based position in the task list.
	Index     int
	Name      string
	Execution ExecutionMode
	Commands  []string
	Trigger   Trigger
}

// Schedule is the parsed root document. It is not mutated after parsing.
type Schedule struct {
	Connection    ConnectionSettings
	SetupCommands []string
	Tasks         []Task
	Logging       Logging
}

// Logging is the optional [logging] section.
type Logging struct {
	Level string
	File  string
}

const (
	DefaultDialTimeout = 10 * time.Second
	SuccessReply       = "RPRT 0"
)
