package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gqrxsched/internal/schedule"
	"gqrxsched/internal/transport"
	"gqrxsched/internal/transport/transporttest"
)

func writeSchedule(t *testing.T, host string, port uint16, body string) string {
	t.Helper()
	doc := fmt.Sprintf(`[connection-settings]
hostname = %q
port = %d

%s`, host, port, body)
	path := filepath.Join(t.TempDir(), "schedule.toml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func quietOptions() Options {
	return Options{LogLevel: "error", Out: io.Discard}
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopSignal))
}

func TestNewReportsLoadErrors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.toml"), quietOptions())
	require.ErrorIs(t, err, schedule.ErrConfigIO)

	path := writeSchedule(t, "127.0.0.1", 7356, `
[initial-setup]
commands = []

[[task]]
execution = "sometimes"
commands = ["F 1"]
sched_type = "interval"
seconds = 1
`)
	_, err = New(path, quietOptions())
	require.ErrorIs(t, err, schedule.ErrSchedParse)
}

func TestNewRequiresTaskKey(t *testing.T) {
	path := writeSchedule(t, "127.0.0.1", 7356, "[initial-setup]\ncommands = []\n")
	_, err := New(path, quietOptions())
	require.ErrorIs(t, err, schedule.ErrMissingKey)
}

func TestRunSendsSetupThenTasks(t *testing.T) {
	srv := transporttest.NewServer(t, transporttest.OK)
	path := writeSchedule(t, srv.Host(), srv.Port(), `
[initial-setup]
commands = ["F 100000000", "M WFM"]

[[task]]
name = "scan"
execution = "one_by_one"
commands = ["F 1", "F 2"]
sched_type = "interval"
seconds = 1
`)
	a, err := New(path, quietOptions())
	require.NoError(t, err)
	require.Len(t, a.Runners(), 1)

	require.NoError(t, a.Start(context.Background()))
	got := srv.WaitReceived(4, 5*time.Second)
	require.GreaterOrEqual(t, len(got), 4)
	require.Equal(t, []string{"F 100000000", "M WFM", "F 1", "F 2"}, got[:4])

	jobs := a.Jobs()
	require.True(t, jobs.Running)
	require.Len(t, jobs.Entries, 1)
	require.Equal(t, "scan", jobs.Entries[0].Name)
	require.GreaterOrEqual(t, jobs.Entries[0].Fires, uint64(2))
	require.NotEmpty(t, a.History())

	stopApp(t, a)
	require.NoError(t, a.Err())
	require.Equal(t, 1, srv.Accepted(), "one connection for the whole run")
	require.NoError(t, a.Stop(context.Background(), StopSignal), "second stop is a no-op")
}

func TestRejectedSetupStillStarts(t *testing.T) {
	srv := transporttest.NewServer(t, func(string) string { return "RPRT 1" })
	path := writeSchedule(t, srv.Host(), srv.Port(), `
[initial-setup]
commands = ["BOGUS"]

[[task]]
execution = "all"
commands = ["F 1"]
sched_type = "date"
run_date = 2099-01-01 00:00:00
`)
	a, err := New(path, quietOptions())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	require.Equal(t, []string{"BOGUS"}, srv.Received())
	stopApp(t, a)
}

func TestStartFailsWhenEndpointIsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, ln.Close())

	a, err := New(writeSchedule(t, "127.0.0.1", port, "[initial-setup]\ncommands = []\n\n[[task]]\nexecution = \"all\"\ncommands = [\"F 1\"]\nsched_type = \"interval\"\nhours = 1\n"), quietOptions())
	require.NoError(t, err)
	err = a.Start(context.Background())
	require.ErrorIs(t, err, transport.ErrConnection)
	stopApp(t, a)
}

func TestConnectionLossEndsTheRun(t *testing.T) {
	srv := transporttest.NewServer(t, transporttest.OK)
	path := writeSchedule(t, srv.Host(), srv.Port(), `
[initial-setup]
commands = []

[[task]]
execution = "all"
commands = ["L SQL"]
sched_type = "interval"
seconds = 1
`)
	a, err := New(path, quietOptions())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	srv.WaitReceived(1, 3*time.Second)
	srv.DropConnections()

	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("app did not notice the lost connection")
	}
	require.ErrorIs(t, a.Err(), ErrConnectionLost)
	stopApp(t, a)
}

func TestMapLogConfig(t *testing.T) {
	c := mapLogConfig(schedule.Logging{Level: "warn", File: " /tmp/x.log "}, "")
	require.Equal(t, "warn", c.Level)
	require.True(t, c.Console)
	require.True(t, c.File.Enabled)
	require.Equal(t, "/tmp/x.log", c.File.Path)

	c = mapLogConfig(schedule.Logging{Level: "warn"}, "debug")
	require.Equal(t, "debug", c.Level)
	require.False(t, c.File.Enabled)

	require.Equal(t, "info", mapLogConfig(schedule.Logging{}, "").Level)
}

func TestMapTransportConfigDefaultsDialTimeout(t *testing.T) {
	c := mapTransportConfig(schedule.ConnectionSettings{Host: "localhost", Port: 7356})
	require.Equal(t, schedule.DefaultDialTimeout, c.DialTimeout)
	require.Zero(t, c.ReadTimeout)
	require.Equal(t, "localhost:7356", c.Addr())
}

func TestCanceledStartContextDoesNotAbortRunningFire(t *testing.T) {
	release := make(chan struct{})
	srv := transporttest.NewServer(t, func(cmd string) string {
		if cmd == "SLOW" {
			<-release
		}
		return "RPRT 0"
	})
	path := writeSchedule(t, srv.Host(), srv.Port(), `
[initial-setup]
commands = []

[[task]]
execution = "all"
commands = ["SLOW"]
sched_type = "interval"
seconds = 1
`)
	a, err := New(path, quietOptions())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))

	srv.WaitReceived(1, 3*time.Second)
	cancel()
	time.AfterFunc(100*time.Millisecond, func() { close(release) })

	stopApp(t, a)
	require.NoError(t, a.Err())
	h := a.History()
	require.NotEmpty(t, h)
	require.Equal(t, "SLOW", h[0].Command)
	require.True(t, h[0].OK, "the in-flight exchange completed")
}
