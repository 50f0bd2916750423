// Package app wires the proxy-facing TCP listener, the routing-table event
// loop, and the control-plane RPC listener into a single process lifecycle:
// all three are started together, a bind failure on either listener is
// fatal, and a graceful shutdown drains all three before returning.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vhgate/internal/control"
	"vhgate/internal/eventloop"
	"vhgate/internal/server"
	"vhgate/internal/telemetry"
)

// Supervisor owns the lifetime of the proxy listener, the event loop and
// the control listener. The optional admin server is included when
// configured.
type Supervisor struct {
	ProxyServer *server.TCPServer
	EventLoop   *eventloop.Loop
	Control     *control.Listener
	Admin       *telemetry.AdminServer

	Logger *slog.Logger

	// ShutdownTimeout bounds how long Run waits for in-flight work to
	// drain once its context is cancelled.
	ShutdownTimeout time.Duration
}

// Run starts the proxy listener, the event loop and the control listener
// concurrently and blocks until ctx is cancelled or one of them fails. A
// failure in any component cancels the others and is returned to the
// caller; a bind failure on either TCP listener is therefore fatal to the
// whole process.
func (s *Supervisor) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 4)
	var wg sync.WaitGroup

	start := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				logger.Error("app: component exited with error", "component", name, "err", err)
				errCh <- err
				cancel()
				return
			}
			errCh <- nil
		}()
	}

	start("eventloop", func() error {
		err := s.EventLoop.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	start("proxy_listener", func() error {
		return s.ProxyServer.ListenAndServe(runCtx)
	})

	start("control_listener", func() error {
		return s.Control.ListenAndServe(runCtx)
	})

	if s.Admin != nil {
		start("admin_server", func() error {
			err := s.Admin.Start()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	<-runCtx.Done()

	shutdownTimeout := s.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if s.Admin != nil {
		if err := s.Admin.Shutdown(shutdownCtx); err != nil {
			logger.Warn("app: admin shutdown", "err", err)
		}
	}
	if err := s.Control.Shutdown(shutdownCtx); err != nil {
		logger.Warn("app: control shutdown", "err", err)
	}
	if err := s.ProxyServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("app: proxy shutdown", "err", err)
	}

	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
