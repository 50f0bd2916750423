package control

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
)

// Listener accepts control-plane connections and serves each as a
// net/rpc/jsonrpc session against a single registered Service: one
// listener, many short-lived RPC connections.
type Listener struct {
	addr   string
	server *rpc.Server
	logger *slog.Logger

	ln net.Listener
	wg sync.WaitGroup
}

// NewListener constructs a Listener serving svc at addr.
func NewListener(addr string, svc *Service, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	server := rpc.NewServer()
	if err := server.RegisterName("Control", svc); err != nil {
		return nil, err
	}
	return &Listener{addr: addr, server: server, logger: logger}, nil
}

// ListenAndServe binds addr and serves control connections until ctx is
// cancelled or Shutdown is called. Bind failure is returned to the caller
// so it can be treated as fatal at startup.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		l.logger.Error("control: listen failed", "addr", l.addr, "err", err)
		return err
	}
	l.ln = ln
	l.logger.Info("control: listening", "addr", l.addr)

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
				l.logger.Info("control: listener closed")
				return nil
			}
			l.logger.Error("control: accept failed", "err", err)
			return err
		}

		l.wg.Add(1)
		go func(c net.Conn) {
			defer l.wg.Done()
			defer c.Close()
			l.server.ServeCodec(jsonrpc.NewServerCodec(c))
		}(conn)
	}
}

// Shutdown closes the listener and waits for in-flight RPC connections to
// finish, or for ctx to expire first.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.logger.Info("control: shutdown requested")
	if l.ln != nil {
		_ = l.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		l.logger.Warn("control: shutdown timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		l.logger.Info("control: shutdown complete")
		return nil
	}
}
