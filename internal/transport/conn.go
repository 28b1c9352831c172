package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	readBufferSize = 4096
	dialKeepAlive  = 30 * time.Second
)

// Conn owns one TCP stream to the configured endpoint. It connects once and
// never reconnects: after any write or read failure the stream is closed and
// every later call returns ErrClosed.
type Conn struct {
	cfg Config

	mu     sync.Mutex
	conn   net.Conn
	broken error
	buf    []byte
}

func New(cfg Config) *Conn {
	return &Conn{cfg: cfg, buf: make([]byte, readBufferSize)}
}

func (c *Conn) Addr() string { return c.cfg.Addr() }

// Connect dials the endpoint. It is a no-op once connected.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Conn) connectLocked(ctx context.Context) error {
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.broken)
	}
	if c.conn != nil {
		return nil
	}
	d := &net.Dialer{Timeout: c.cfg.DialTimeout, KeepAlive: dialKeepAlive}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		return &ConnectionError{Addr: c.cfg.Addr(), Err: err}
	}
	c.conn = conn
	return nil
}

// Exchange writes cmd as one line and returns the first chunk of the reply,
// decoded as ASCII with trailing whitespace removed. A reply the peer sends in
// several segments is truncated to the first one.
func (c *Conn) Exchange(ctx context.Context, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return "", err
	}

	conn := c.conn
	var deadline time.Time
	if c.cfg.ReadTimeout > 0 {
		deadline = time.Now().Add(c.cfg.ReadTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", c.failLocked(fmt.Errorf("set read deadline: %w", err))
	}

	// Cancelling ctx unblocks a pending read or write.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	line := strings.TrimRight(cmd, "\r\n") + "\n"
	if _, err := conn.Write([]byte(line)); err != nil {
		return "", c.failLocked(fmt.Errorf("write %q: %w", cmd, ctxErr(ctx, err)))
	}

	n, err := conn.Read(c.buf)
	if n == 0 {
		if err == nil {
			err = errors.New("empty read")
		}
		return "", c.failLocked(fmt.Errorf("read reply to %q: %w", cmd, ctxErr(ctx, err)))
	}
	reply := asciiReply(c.buf[:n])
	if err != nil {
		// Keep the partial reply; the stream is unusable afterwards.
		_ = c.failLocked(err)
	}
	return reply, nil
}

// Close closes the stream. Later calls return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = ErrClosed
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) failLocked(err error) error {
	if c.broken == nil {
		c.broken = err
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("%w (%v)", cerr, err)
	}
	return err
}

func asciiReply(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('?')
		}
	}
	return strings.TrimRightFunc(sb.String(), unicode.IsSpace)
}
