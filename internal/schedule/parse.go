package schedule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"gqrxsched/internal/config"
	logx "gqrxsched/pkg/logx"
)

// Top-level sections and common task keys.
const (
	SectionConnection = "connection-settings"
	SectionSetup      = "initial-setup"
	SectionTasks      = "task"
	SectionLogging    = "logging"

	KeyName      = "name"
	KeyExecution = "execution"
	KeyCommands  = "commands"
	KeySchedType = "sched_type"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the schedule file at path. Read and syntax failures are
// reported as *ConfigIOError.
func Load(path string) (*Schedule, error) {
	doc, err := config.ReadFile(path)
	if err != nil {
		return nil, &ConfigIOError{Path: path, Err: err}
	}
	return Parse(doc)
}

// Parse validates a decoded document.
func Parse(doc config.Document) (*Schedule, error) {
	conn, err := ParseConnectionSettings(doc)
	if err != nil {
		return nil, err
	}
	setup, err := ParseSetupCommands(doc)
	if err != nil {
		return nil, err
	}
	tasks, err := ParseTasks(doc)
	if err != nil {
		return nil, err
	}
	logging, err := ParseLogging(doc)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		Connection:    conn,
		SetupCommands: setup,
		Tasks:         tasks,
		Logging:       logging,
	}, nil
}

func section(doc config.Document, name string) (config.Document, bool, error) {
	raw, ok := doc.Get(name)
	if !ok {
		return nil, false, nil
	}
	sec, ok := config.Table(raw)
	if !ok {
		return nil, true, parseErr(-1, name, "expected a table, got %s", config.Describe(raw))
	}
	return sec, true, nil
}

// ParseConnectionSettings reads [connection-settings]. hostname and port are
// required; unknown keys are ignored.
func ParseConnectionSettings(doc config.Document) (ConnectionSettings, error) {
	cs := ConnectionSettings{DialTimeout: DefaultDialTimeout}

	sec, ok, err := section(doc, SectionConnection)
	if err != nil {
		return cs, err
	}
	if !ok {
		return cs, &MissingKeyError{Path: SectionConnection + ".hostname"}
	}

	rawHost, ok := sec.Get("hostname")
	if !ok {
		return cs, &MissingKeyError{Path: SectionConnection + ".hostname"}
	}
	host, err := toString(rawHost)
	if err != nil {
		return cs, &SchedParseError{Task: -1, Key: SectionConnection + ".hostname", Reason: "invalid value", Err: err}
	}
	cs.Host = strings.TrimSpace(host)

	rawPort, ok := sec.Get("port")
	if !ok {
		return cs, &MissingKeyError{Path: SectionConnection + ".port"}
	}
	port, err := toUint(rawPort)
	if err != nil || port > 65535 {
		if err == nil {
			err = fmt.Errorf("%d out of range", port)
		}
		return cs, &SchedParseError{Task: -1, Key: SectionConnection + ".port", Reason: "invalid value", Err: err}
	}
	cs.Port = uint16(port)

	if v, ok := sec.Get("dial_timeout"); ok {
		d, err := config.DurationValue(SectionConnection+".dial_timeout", v)
		if err != nil {
			return cs, &SchedParseError{Task: -1, Key: SectionConnection + ".dial_timeout", Reason: "invalid value", Err: err}
		}
		if d > 0 {
			cs.DialTimeout = d
		}
	}
	if v, ok := sec.Get("read_timeout"); ok {
		d, err := config.DurationValue(SectionConnection+".read_timeout", v)
		if err != nil {
			return cs, &SchedParseError{Task: -1, Key: SectionConnection + ".read_timeout", Reason: "invalid value", Err: err}
		}
		cs.ReadTimeout = d
	}
	if v, ok := sec.Get("rate_limit"); ok {
		switch x := v.(type) {
		case int64:
			cs.RateLimit = float64(x)
		case float64:
			cs.RateLimit = x
		default:
			return cs, parseErr(-1, SectionConnection+".rate_limit", "expected number, got %s", config.Describe(v))
		}
	}

	if err := validate.Struct(cs); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return cs, parseErr(-1, SectionConnection+"."+connKeyFor(fe.Field()), "failed %q validation (value %v)", fe.Tag(), fe.Value())
		}
		return cs, &SchedParseError{Task: -1, Key: SectionConnection, Reason: "invalid settings", Err: err}
	}
	return cs, nil
}

func connKeyFor(field string) string {
	switch field {
	case "Host":
		return "hostname"
	case "Port":
		return "port"
	case "DialTimeout":
		return "dial_timeout"
	case "ReadTimeout":
		return "read_timeout"
	case "RateLimit":
		return "rate_limit"
	default:
		return strings.ToLower(field)
	}
}

// ParseSetupCommands reads initial-setup.commands. An empty list is valid.
func ParseSetupCommands(doc config.Document) ([]string, error) {
	sec, ok, err := section(doc, SectionSetup)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &MissingKeyError{Path: SectionSetup + ".commands"}
	}
	raw, ok := sec.Get(KeyCommands)
	if !ok {
		return nil, &MissingKeyError{Path: SectionSetup + ".commands"}
	}
	cmds, err := toCommands(raw)
	if err != nil {
		return nil, &SchedParseError{Task: -1, Key: SectionSetup + ".commands", Reason: "invalid value", Err: err}
	}
	return cmds, nil
}

// ParseTasks reads the task list. Entries are processed key by key in
// declaration order, so trigger properties are only legal after sched_type.
// The task key is required; an explicitly empty list is allowed.
func ParseTasks(doc config.Document) ([]Task, error) {
	raw, ok := doc.Get(SectionTasks)
	if !ok {
		return nil, &MissingKeyError{Path: SectionTasks}
	}
	var entries []any
	switch x := raw.(type) {
	case []any:
		entries = x
	case config.Document, config.UnorderedDocument:
		// a single [task] table
		entries = []any{x}
	default:
		return nil, parseErr(-1, SectionTasks, "expected a list of tables, got %s", config.Describe(raw))
	}

	tasks := make([]Task, 0, len(entries))
	for i, e := range entries {
		if _, lost := e.(config.UnorderedDocument); lost {
			return nil, parseErr(i, "", "key order of an inline table cannot be recovered; declare the task as a [[task]] table")
		}
		entry, ok := e.(config.Document)
		if !ok {
			return nil, parseErr(i, "", "expected a table, got %s", config.Describe(e))
		}
		t, err := parseTask(i, entry)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func parseTask(i int, entry config.Document) (Task, error) {
	t := Task{Index: i, Name: fmt.Sprintf("task-%d", i+1)}
	var haveCommands bool

	for _, kv := range entry {
		switch kv.Key {
		case KeyName:
			s, err := toString(kv.Value)
			if err != nil || strings.TrimSpace(s) == "" {
				return t, parseErr(i, kv.Key, "expected a non-empty string, got %s", config.Describe(kv.Value))
			}
			t.Name = strings.TrimSpace(s)

		case KeyExecution:
			s, _ := kv.Value.(string)
			mode, ok := ParseExecutionMode(s)
			if !ok {
				return t, parseErr(i, kv.Key, "unknown execution mode %s (want \"all\" or \"one_by_one\")", config.Describe(kv.Value))
			}
			t.Execution = mode

		case KeyCommands:
			cmds, err := toCommands(kv.Value)
			if err != nil {
				return t, &SchedParseError{Task: i, Key: kv.Key, Reason: "invalid value", Err: err}
			}
			if len(cmds) == 0 {
				return t, parseErr(i, kv.Key, "must contain at least one command")
			}
			t.Commands = cmds
			haveCommands = true

		case KeySchedType:
			if t.Trigger != nil {
				return t, parseErr(i, kv.Key, "declared more than once")
			}
			s, _ := kv.Value.(string)
			kind, ok := ParseTriggerKind(s)
			if !ok {
				return t, parseErr(i, kv.Key, "unknown trigger type %s (want \"date\", \"interval\" or \"cron\")", config.Describe(kv.Value))
			}
			t.Trigger = newTrigger(kind)

		default:
			prop := CanonicalKey(kv.Key)
			if t.Trigger == nil {
				if isAnyProperty(prop) {
					return t, parseErr(i, kv.Key, "trigger property declared before %s", KeySchedType)
				}
				return t, parseErr(i, kv.Key, "unknown key")
			}
			if !IsProperty(t.Trigger.Kind(), prop) {
				return t, parseErr(i, kv.Key, "not a property of %s triggers (allowed: %s)",
					t.Trigger.Kind(), strings.Join(Props(t.Trigger.Kind()), ", "))
			}
			if err := t.Trigger.set(prop, kv.Value); err != nil {
				return t, &SchedParseError{Task: i, Key: kv.Key, Reason: "invalid value", Err: err}
			}
		}
	}

	if t.Execution == 0 {
		return t, parseErr(i, KeyExecution, "missing")
	}
	if !haveCommands {
		return t, parseErr(i, KeyCommands, "missing")
	}
	if t.Trigger == nil {
		return t, parseErr(i, KeySchedType, "missing")
	}
	if err := t.Trigger.validate(); err != nil {
		return t, &SchedParseError{Task: i, Reason: fmt.Sprintf("invalid %s trigger", t.Trigger.Kind()), Err: err}
	}
	return t, nil
}

// ParseLogging reads the optional [logging] section.
func ParseLogging(doc config.Document) (Logging, error) {
	var l Logging
	sec, ok, err := section(doc, SectionLogging)
	if err != nil || !ok {
		return l, err
	}
	if v, ok := sec.Get("level"); ok {
		s, err := toString(v)
		if err != nil || !logx.ValidLevel(s) {
			return l, parseErr(-1, SectionLogging+".level", "unknown level %s", config.Describe(v))
		}
		l.Level = s
	}
	if v, ok := sec.Get("file"); ok {
		s, err := toString(v)
		if err != nil {
			return l, &SchedParseError{Task: -1, Key: SectionLogging + ".file", Reason: "invalid value", Err: err}
		}
		l.File = strings.TrimSpace(s)
	}
	return l, nil
}
