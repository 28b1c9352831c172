package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var (
	// ErrConnection matches failures of the initial connect.
	ErrConnection = errors.New("connection failed")
	// ErrClosed is returned once the stream has been closed or broken.
	ErrClosed = errors.New("connection closed")
)

// Config describes the single remote endpoint.
type Config struct {
	Host string
	Port uint16

	DialTimeout time.Duration
	// ReadTimeout bounds the reply read. Zero waits indefinitely.
	ReadTimeout time.Duration
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// ConnectionError wraps a failed dial.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
