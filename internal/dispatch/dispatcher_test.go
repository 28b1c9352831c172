package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"gqrxsched/internal/eventbus"
	"gqrxsched/internal/transport"
	"gqrxsched/internal/transport/transporttest"
	logx "gqrxsched/pkg/logx"
)

// fakeConn answers from a reply table and checks that exchanges never overlap.
type fakeConn struct {
	replies map[string]string
	delay   time.Duration
	fail    map[string]error

	inflight atomic.Int32
	overlap  atomic.Bool

	mu   sync.Mutex
	sent []string
}

func (f *fakeConn) Exchange(ctx context.Context, cmd string) (string, error) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.fail[cmd]; err != nil {
		return "", err
	}
	if r, ok := f.replies[cmd]; ok {
		return r, nil
	}
	return SuccessReply, nil
}

func (f *fakeConn) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestSendReportsSuccessMarker(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{"bad": "RPRT -1"}}
	var out syncBuffer
	d := New(conn, Config{Out: &out}, logx.Nop(), nil)

	ok, err := d.Send(context.Background(), "F 100000000")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Send(context.Background(), "bad")
	require.NoError(t, err)
	require.False(t, ok)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} F 100000000 RPRT 0$`), lines[0])
	require.True(t, strings.HasSuffix(lines[1], " bad RPRT -1"), lines[1])
}

func TestSendAllSendsEveryCommand(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{"X": "RPRT 0", "Y": "ERROR"}}
	d := New(conn, Config{Out: &syncBuffer{}}, logx.Nop(), nil)

	ok, err := d.SendAll(context.Background(), []string{"X", "Y"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"X", "Y"}, conn.Sent())

	// a rejected first command does not short-circuit
	ok, err = d.SendAll(context.Background(), []string{"Y", "X"})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, []string{"X", "Y", "Y", "X"}, conn.Sent())

	ok, err = d.SendAll(context.Background(), []string{"X", "X"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransportErrorBreaksDispatcher(t *testing.T) {
	boom := errors.New("broken pipe")
	conn := &fakeConn{fail: map[string]error{"B": boom}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	d := New(conn, Config{Out: &syncBuffer{}}, logx.Nop(), bus)

	ok, err := d.SendAll(context.Background(), []string{"A", "B", "C"})
	require.False(t, ok)
	require.ErrorIs(t, err, ErrDispatch)
	require.ErrorIs(t, err, boom)
	var de *Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, "B", de.Command)
	require.Equal(t, []string{"A", "B"}, conn.Sent(), "remaining commands are dropped after a transport error")

	select {
	case <-d.Broken():
	default:
		t.Fatal("Broken() not closed")
	}
	require.ErrorIs(t, d.Err(), boom)

	_, err = d.Send(context.Background(), "D")
	require.ErrorIs(t, err, ErrDispatch)
	require.Equal(t, []string{"A", "B"}, conn.Sent())

	var types []string
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	require.Contains(t, types, eventbus.TypeConnLost)
	require.Contains(t, types, eventbus.TypeExchange)
}

func TestConcurrentSendsNeverInterleave(t *testing.T) {
	conn := &fakeConn{delay: time.Millisecond}
	var out syncBuffer
	d := New(conn, Config{Out: &out}, logx.Nop(), nil)

	var g errgroup.Group
	for task := 0; task < 4; task++ {
		task := task
		g.Go(func() error {
			cmds := make([]string, 0, 5)
			for i := 0; i < 5; i++ {
				cmds = append(cmds, fmt.Sprintf("T%d-C%d", task, i))
			}
			_, err := d.SendAll(context.Background(), cmds)
			return err
		})
	}
	require.NoError(t, g.Wait())
	require.False(t, conn.overlap.Load(), "two exchanges were on the wire at once")
	require.Len(t, conn.Sent(), 20)
	require.Len(t, d.History(), 20)
}

func TestLogLinesPairCommandWithOwnReply(t *testing.T) {
	// the fake endpoint echoes the command so a mismatched pair is visible
	srv := transporttest.NewServer(t, func(cmd string) string { return "echo " + cmd })
	conn := transport.New(transport.Config{Host: srv.Host(), Port: srv.Port(), DialTimeout: time.Second})
	defer conn.Close()
	var out syncBuffer
	d := New(conn, Config{Out: &out}, logx.Nop(), nil)

	var g errgroup.Group
	for task := 0; task < 3; task++ {
		task := task
		g.Go(func() error {
			for i := 0; i < 10; i++ {
				if _, err := d.SendAll(context.Background(), []string{fmt.Sprintf("t%d-%d-a", task, i), fmt.Sprintf("t%d-%d-b", task, i)}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 60)
	for _, line := range lines {
		f := strings.Fields(line)
		require.Len(t, f, 5, line)
		require.Equal(t, f[2], f[4], "reply belongs to another command: %s", line)
	}
}

func TestRateLimitSpacesExchanges(t *testing.T) {
	conn := &fakeConn{}
	d := New(conn, Config{Out: &syncBuffer{}, RateLimit: 20}, logx.Nop(), nil)

	start := time.Now()
	cmds := make([]string, 30)
	for i := range cmds {
		cmds[i] = "x"
	}
	_, err := d.SendAll(context.Background(), cmds)
	require.NoError(t, err)
	// burst of 20, then 10 more at 20/s
	require.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestHistoryIsBounded(t *testing.T) {
	d := New(&fakeConn{}, Config{Out: &syncBuffer{}, HistorySize: 3}, logx.Nop(), nil)
	for i := 0; i < 5; i++ {
		_, err := d.Send(context.Background(), fmt.Sprintf("c%d", i))
		require.NoError(t, err)
	}
	h := d.History()
	require.Len(t, h, 3)
	require.Equal(t, "c2", h[0].Command)
	require.Equal(t, "c4", h[2].Command)
	require.NotEmpty(t, h[0].ID)
	require.NotEqual(t, h[0].ID, h[1].ID)
}
