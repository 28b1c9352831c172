package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	logx "gqrxsched/pkg/logx"
)

const tomlSchedule = `
[connection-settings]
hostname = "127.0.0.1"
port = 7356

[initial-setup]
commands = ["F 100000000", "M WFM"]

[[task]]
execution = "one_by_one"
commands = ["F 1", "F 2"]
sched_type = "cron"
second = "*/10"
minute = 5
start_date = 2024-01-02 03:04:05

[[task]]
sched_type = "interval"
execution = "all"
commands = ["F 3"]
seconds = 5
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func tasks(t *testing.T, doc Document) []Document {
	t.Helper()
	raw, ok := doc.Get("task")
	if !ok {
		t.Fatalf("missing task key")
	}
	list, ok := raw.([]any)
	if !ok {
		t.Fatalf("task is %T, want []any", raw)
	}
	out := make([]Document, 0, len(list))
	for i, e := range list {
		d, ok := e.(Document)
		if !ok {
			t.Fatalf("task[%d] is %T", i, e)
		}
		out = append(out, d)
	}
	return out
}

func TestReadTOMLKeepsDeclarationOrder(t *testing.T) {
	doc, err := ReadFile(writeFile(t, "sched.toml", tomlSchedule))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := doc.Keys(), []string{"connection-settings", "initial-setup", "task"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("top keys = %v, want %v", got, want)
	}

	port, ok := doc.Lookup("connection-settings", "port")
	if !ok || port != int64(7356) {
		t.Fatalf("port = %#v", port)
	}

	ts := tasks(t, doc)
	if len(ts) != 2 {
		t.Fatalf("tasks = %d, want 2", len(ts))
	}
	if got, want := ts[0].Keys(), []string{"execution", "commands", "sched_type", "second", "minute", "start_date"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("task[0] keys = %v, want %v", got, want)
	}
	if got, want := ts[1].Keys(), []string{"sched_type", "execution", "commands", "seconds"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("task[1] keys = %v, want %v", got, want)
	}

	start, _ := ts[0].Get("start_date")
	lt, ok := start.(LocalTime)
	if !ok {
		t.Fatalf("start_date is %T, want LocalTime", start)
	}
	if lt.String() != "2024-01-02 03:04:05" {
		t.Fatalf("start_date = %s", lt)
	}
}

func TestReadYAMLKeepsDeclarationOrder(t *testing.T) {
	body := `
connection-settings:
  hostname: localhost
  port: 7356
initial-setup:
  commands: []
task:
  - commands: ["F 1"]
    execution: all
    sched_type: date
    run_date: "2030-01-01 00:00:00"
`
	doc, err := ReadFile(writeFile(t, "sched.yaml", body))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	ts := tasks(t, doc)
	if got, want := ts[0].Keys(), []string{"commands", "execution", "sched_type", "run_date"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	cmds, _ := doc.Lookup("initial-setup", "commands")
	if l, ok := cmds.([]any); !ok || len(l) != 0 {
		t.Fatalf("setup commands = %#v", cmds)
	}
}

func TestReadJSONKeepsDeclarationOrder(t *testing.T) {
	body := `{"task":[{"sched_type":"interval","hours":1,"execution":"all","commands":["x"]}],"connection-settings":{"port":1,"hostname":"h"}}`
	doc, err := ReadFile(writeFile(t, "sched.json", body))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got, want := doc.Keys(), []string{"task", "connection-settings"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want %v", got, want)
	}
	ts := tasks(t, doc)
	if h, _ := ts[0].Get("hours"); h != int64(1) {
		t.Fatalf("hours = %#v", h)
	}

	if _, err := Decode(FormatJSON, []byte(`{"a":1}{"b":2}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestReadTOMLInlineTablesAreUnordered(t *testing.T) {
	body := `
connection-settings = { hostname = "h", port = 1 }
task = [ { execution = "all", commands = ["y"], seconds = 5, sched_type = "interval" } ]
`
	doc, err := Decode(FormatTOML, []byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	raw, _ := doc.Get("task")
	list, ok := raw.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("task = %#v", raw)
	}
	u, ok := list[0].(UnorderedDocument)
	if !ok {
		t.Fatalf("task[0] is %T, want UnorderedDocument", list[0])
	}
	if got, want := Document(u).Keys(), []string{"commands", "execution", "sched_type", "seconds"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys = %v, want sorted %v", got, want)
	}

	// Lookup still walks inline tables.
	if port, ok := doc.Lookup("connection-settings", "port"); !ok || port != int64(1) {
		t.Fatalf("port = %#v", port)
	}

	one, err := Decode(FormatTOML, []byte(`logging = { level = "debug" }`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v, _ := one.Get("logging"); reflect.TypeOf(v) != reflect.TypeOf(Document(nil)) {
		t.Fatalf("single-key inline table is %T, want Document", v)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"a.toml": FormatTOML,
		"a.YML":  FormatYAML,
		"a.yaml": FormatYAML,
		"a.json": FormatJSON,
		"a.conf": FormatTOML,
	}
	for in, want := range cases {
		if got := DetectFormat(in); got != want {
			t.Errorf("DetectFormat(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDurationValue(t *testing.T) {
	cases := []struct {
		in      any
		want    time.Duration
		wantErr bool
	}{
		{in: "1m30s", want: 90 * time.Second},
		{in: "", want: 0},
		{in: int64(5), want: 5 * time.Second},
		{in: 0.5, want: 500 * time.Millisecond},
		{in: "-1s", wantErr: true},
		{in: int64(-1), wantErr: true},
		{in: true, wantErr: true},
		{in: int64(1) << 40, wantErr: true},
		{in: 1e12, wantErr: true},
	}
	for _, c := range cases {
		got, err := DurationValue("x", c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("DurationValue(%#v): expected error", c.in)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("DurationValue(%#v) = %v, %v; want %v", c.in, got, err, c.want)
		}
	}
}

func TestWatcherReportsContentChangesOnly(t *testing.T) {
	path := writeFile(t, "sched.toml", tomlSchedule)

	var changes atomic.Int32
	w := NewWatcher(path, logx.Nop(), func(string) { changes.Add(1) })
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)

	// same content: no callback
	if err := os.WriteFile(path, []byte(tomlSchedule), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := changes.Load(); n != 0 {
		t.Fatalf("changes after identical write = %d, want 0", n)
	}

	if err := os.WriteFile(path, []byte(tomlSchedule+"\n# edited\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for changes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if changes.Load() == 0 {
		t.Fatalf("edit was not reported")
	}
}
