package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// ConnectionHandler processes one accepted connection. Handle owns conn for
// its lifetime and must close it before returning.
type ConnectionHandler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// TCPServer accepts connections on a single TCP listener and dispatches
// each to a ConnectionHandler in its own goroutine. It tracks in-flight
// handlers so Shutdown can wait for them to drain.
type TCPServer struct {
	// Name tags this server's log lines (e.g. "mc-proxy") so a process
	// running more than one TCPServer can tell their output apart.
	Name string

	addr    string
	h       ConnectionHandler
	logger  *slog.Logger
	metrics interface {
		IncActive()
		DecActive()
	}

	ln         net.Listener
	listening  atomic.Bool
	accepted   atomic.Uint64

	wg sync.WaitGroup
}

// NewTCPServer constructs a TCPServer bound to addr, dispatching accepted
// connections to h. metrics, if non-nil and implementing IncActive/DecActive,
// is kept on the server; TCPServer itself calls neither method, and active
// connections are counted by the handler (session.Handler reports them).
func NewTCPServer(addr string, h ConnectionHandler, metrics any, logger *slog.Logger) *TCPServer {
	var m interface {
		IncActive()
		DecActive()
	}
	if metrics != nil {
		m, _ = metrics.(interface {
			IncActive()
			DecActive()
		})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPServer{addr: addr, h: h, metrics: m, logger: logger}
}

// IsListening reports whether the listener is currently bound and accepting.
func (s *TCPServer) IsListening() bool {
	return s.listening.Load()
}

// Accepted returns the total number of connections accepted so far.
func (s *TCPServer) Accepted() uint64 {
	return s.accepted.Load()
}

func (s *TCPServer) logName() string {
	if s.Name != "" {
		return s.Name
	}
	return "server"
}

// ListenAndServe binds addr and accepts connections until ctx is cancelled
// or Shutdown is called, handing each one to h in its own goroutine.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	name := s.logName()
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("server: listen failed", "server", name, "addr", s.addr, "err", err)
		}
		return err
	}
	s.ln = ln
	s.listening.Store(true)
	if s.logger != nil {
		s.logger.Info("server: listening", "server", name, "addr", s.addr)
	}
	defer s.listening.Store(false)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ln.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if s.logger != nil {
					s.logger.Info("server: listener closed", "server", name)
				}
				return nil
			}
			if s.logger != nil {
				s.logger.Error("server: accept failed", "server", name, "err", err)
			}
			return err
		}
		s.accepted.Add(1)

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.h.Handle(ctx, c)
		}(conn)
	}
}

// Shutdown closes the listener and waits for in-flight handlers to return,
// or for ctx to expire first.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	name := s.logName()
	if s.logger != nil {
		s.logger.Info("server: shutdown requested", "server", name)
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if s.logger != nil {
			s.logger.Warn("server: shutdown timed out", "server", name, "err", ctx.Err())
		}
		return ctx.Err()
	case <-done:
		if s.logger != nil {
			s.logger.Info("server: shutdown complete", "server", name)
		}
		return nil
	}
}
