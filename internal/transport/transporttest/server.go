// Package transporttest provides a fake line-protocol endpoint for tests.
package transporttest

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"
)

// NoReply makes the server read a command without answering it.
const NoReply = "\x00no-reply"

// ReplyFunc maps a received command to the reply line.
type ReplyFunc func(cmd string) string

// OK answers every command with the success marker.
func OK(string) string { return "RPRT 0" }

// Server accepts connections on 127.0.0.1 and answers one line per command.
type Server struct {
	ln    net.Listener
	reply ReplyFunc

	mu       sync.Mutex
	received []string
	conns    []net.Conn
	accepted int

	wg sync.WaitGroup
}

// NewServer starts a server that is closed on test cleanup.
func NewServer(tb testing.TB, reply ReplyFunc) *Server {
	tb.Helper()
	if reply == nil {
		reply = OK
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listen: %v", err)
	}
	s := &Server{ln: ln, reply: reply}
	s.wg.Add(1)
	go s.accept()
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) Host() string { return "127.0.0.1" }

func (s *Server) Port() uint16 {
	return uint16(s.ln.Addr().(*net.TCPAddr).Port)
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(int(s.Port())))
}

// Received returns the commands seen so far in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Accepted returns how many connections were accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// WaitReceived polls until at least n commands arrived or timeout elapses.
func (s *Server) WaitReceived(n int, timeout time.Duration) []string {
	deadline := time.Now().Add(timeout)
	for {
		got := s.Received()
		if len(got) >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// DropConnections closes every accepted connection.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()
	sc := bufio.NewScanner(c)
	for sc.Scan() {
		cmd := sc.Text()
		s.mu.Lock()
		s.received = append(s.received, cmd)
		s.mu.Unlock()

		r := s.reply(cmd)
		if r == NoReply {
			continue
		}
		if _, err := c.Write([]byte(r + "\n")); err != nil {
			return
		}
	}
}
