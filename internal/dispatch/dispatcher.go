package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gqrxsched/internal/eventbus"
	logx "gqrxsched/pkg/logx"
)

const (
	// SuccessReply is the only reply treated as success.
	SuccessReply = "RPRT 0"

	consoleTimeLayout  = "2006-01-02 15:04:05"
	defaultHistorySize = 200
)

// Exchanger performs one request/response round trip on the wire.
type Exchanger interface {
	Exchange(ctx context.Context, cmd string) (string, error)
}

type Config struct {
	// Out receives one "<time> <command> <reply>" line per exchange.
	// Defaults to stdout.
	Out io.Writer
	// RateLimit caps exchanges per second. Zero disables the limit.
	RateLimit float64
	// HistorySize bounds the in-memory exchange history.
	HistorySize int
}

// Exchange is one recorded command/reply pair.
type Exchange struct {
	ID       string        `json:"id"`
	Command  string        `json:"command"`
	Reply    string        `json:"reply"`
	OK       bool          `json:"ok"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Dispatcher serializes every command of the process onto one connection.
// Exactly one exchange is on the wire at any time.
type Dispatcher struct {
	conn Exchanger
	out  io.Writer
	log  logx.Logger
	bus  eventbus.Bus

	mu      sync.Mutex
	limiter *rate.Limiter

	hmu         sync.Mutex
	history     []Exchange
	historySize int

	brokenOnce sync.Once
	broken     chan struct{}
	brokenErr  error
}

func New(conn Exchanger, cfg Config, log logx.Logger, bus eventbus.Bus) *Dispatcher {
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	d := &Dispatcher{
		conn:        conn,
		out:         cfg.Out,
		log:         log.With(logx.String("comp", "dispatch")),
		bus:         bus,
		historySize: cfg.HistorySize,
		broken:      make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return d
}

// Send exchanges one command and reports whether the reply was the success
// marker. A false result with a nil error means the endpoint rejected it.
func (d *Dispatcher) Send(ctx context.Context, cmd string) (bool, error) {
	select {
	case <-d.broken:
		return false, &Error{Command: cmd, Err: d.brokenErr}
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return false, &Error{Command: cmd, Err: err}
		}
	}

	start := time.Now()
	reply, err := d.conn.Exchange(ctx, cmd)
	ex := Exchange{
		ID:       uuid.NewString(),
		Command:  cmd,
		Reply:    reply,
		Started:  start,
		Duration: time.Since(start),
	}
	if err != nil {
		ex.Error = err.Error()
		d.record(ex)
		d.markBroken(err)
		return false, &Error{Command: cmd, Err: err}
	}

	ex.OK = reply == SuccessReply
	fmt.Fprintf(d.out, "%s %s %s\n", start.Format(consoleTimeLayout), cmd, reply)
	d.record(ex)
	if !ex.OK {
		d.log.Debug("command rejected", logx.String("command", cmd), logx.String("reply", reply))
	}
	return ex.OK, nil
}

// SendAll sends every command in order and returns the AND of the results.
// A rejected command does not stop the sequence; a transport error does,
// since nothing more can reach the endpoint.
func (d *Dispatcher) SendAll(ctx context.Context, cmds []string) (bool, error) {
	all := true
	for _, cmd := range cmds {
		ok, err := d.Send(ctx, cmd)
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// Broken is closed after the first transport failure.
func (d *Dispatcher) Broken() <-chan struct{} { return d.broken }

// Err returns the transport failure that closed Broken, if any.
func (d *Dispatcher) Err() error {
	select {
	case <-d.broken:
		return d.brokenErr
	default:
		return nil
	}
}

// History returns a copy of the most recent exchanges, oldest first.
func (d *Dispatcher) History() []Exchange {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	out := make([]Exchange, len(d.history))
	copy(out, d.history)
	return out
}

func (d *Dispatcher) record(ex Exchange) {
	d.hmu.Lock()
	d.history = append(d.history, ex)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
	d.hmu.Unlock()

	d.bus.Publish(eventbus.Event{Type: eventbus.TypeExchange, Time: ex.Started, Data: ex})
}

func (d *Dispatcher) markBroken(err error) {
	d.brokenOnce.Do(func() {
		d.brokenErr = err
		close(d.broken)
		d.log.Error("connection lost", logx.Err(err))
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeConnLost, Data: err.Error()})
	})
}
