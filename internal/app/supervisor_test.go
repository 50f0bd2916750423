package app

import (
	"context"
	"net"
	"testing"
	"time"

	"vhgate/internal/control"
	"vhgate/internal/eventloop"
	"vhgate/internal/routing"
	"vhgate/internal/server"
)

type closingHandler struct{}

func (closingHandler) Handle(_ context.Context, conn net.Conn) {
	_ = conn.Close()
}

func TestSupervisor_StartsAllComponentsAndShutsDownCleanly(t *testing.T) {
	table := routing.NewTable()
	loop := eventloop.NewLoop(table, nil)

	svc := control.NewService(loop, nil)
	ctrl, err := control.NewListener("127.0.0.1:0", svc, nil)
	if err != nil {
		t.Fatalf("control.NewListener: %v", err)
	}

	proxySrv := server.NewTCPServer("127.0.0.1:0", closingHandler{}, nil, nil)

	sup := &Supervisor{
		ProxyServer:     proxySrv,
		EventLoop:       loop,
		Control:         ctrl,
		ShutdownTimeout: 2 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sup.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !proxySrv.IsListening() {
		if time.Now().After(deadline) {
			t.Fatalf("proxy server never started listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The event loop should already be servicing Put/List by the time the
	// proxy listener is up, since all three components start concurrently.
	if err := loop.Put(ctx, routing.Backend{Hostname: "mc.example", RedirectIP: "10.0.0.1", RedirectPort: 25566}); err != nil {
		t.Fatalf("loop.Put: %v", err)
	}
	got, err := loop.List(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("loop.List: %v / %+v", err, got)
	}

	cancel()

	select {
	case err := <-runErrCh:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
