package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"vhgate/internal/protocol"
	"vhgate/internal/proxy"
	"vhgate/internal/routing"
	"vhgate/pkg/mcproto"
)

// fakeTable is a minimal Table backed by a plain map, letting tests avoid
// pulling in the real eventloop/Table machinery.
type fakeTable struct {
	backends map[string]routing.Backend
}

func newFakeTable(backends ...routing.Backend) *fakeTable {
	t := &fakeTable{backends: make(map[string]routing.Backend)}
	for _, b := range backends {
		t.backends[b.Hostname] = b
	}
	return t
}

func (t *fakeTable) Get(hostname string) (routing.Backend, bool) {
	b, ok := t.backends[hostname]
	return b, ok
}

type mockDialer struct {
	called chan string
	conn   net.Conn
	err    error
}

func (d *mockDialer) DialContext(_ context.Context, _ string, address string) (net.Conn, error) {
	d.called <- address
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func buildHandshakePacket(host string, port uint16, protoVer int32, nextState int32) []byte {
	var payload bytes.Buffer
	_, _ = mcproto.WriteVarInt(&payload, 0) // packet id
	_, _ = mcproto.WriteVarInt(&payload, protoVer)
	_, _ = mcproto.WriteString(&payload, host)
	_, _ = mcproto.WriteUShort(&payload, port)
	_, _ = mcproto.WriteVarInt(&payload, nextState)

	var out bytes.Buffer
	_, _ = mcproto.WriteVarInt(&out, int32(payload.Len()))
	_, _ = out.Write(payload.Bytes())
	return out.Bytes()
}

func readHandshakeFrame(t *testing.T, r io.Reader) protocol.Handshake {
	t.Helper()
	hs, err := protocol.DecodeHandshake(r)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	return hs
}

func readRejectionFrame(t *testing.T, r io.Reader) string {
	t.Helper()
	raw, err := protocol.DecodeRejection(r)
	if err != nil {
		t.Fatalf("DecodeRejection: %v", err)
	}
	return raw
}

func TestHandler_PutThenRouteRewritesHandshake(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	upConn, backendConn := net.Pipe()
	defer clientConn.Close()
	defer backendConn.Close()

	dial := &mockDialer{called: make(chan string, 1), conn: upConn}
	table := newFakeTable(routing.Backend{Hostname: "play.example.com", RedirectIP: "10.0.0.7", RedirectPort: 25566})
	bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{})

	h := NewHandler(HandlerOptions{
		Table:  table,
		Dialer: dial,
		Bridge: bridge,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Handle(ctx, serverConn)

	handshake := buildHandshakePacket("play.example.com", 25565, 763, int32(protocol.NextStateLogin))

	backendHSCh := make(chan protocol.Handshake, 1)
	go func() {
		backendHSCh <- readHandshakeFrame(t, backendConn)
	}()

	if _, err := clientConn.Write(handshake); err != nil {
		t.Fatalf("client write handshake: %v", err)
	}

	select {
	case addr := <-dial.called:
		if addr != "10.0.0.7:25566" {
			t.Fatalf("dial addr: want %q got %q", "10.0.0.7:25566", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dial not called")
	}

	select {
	case got := <-backendHSCh:
		if got.ServerAddress != "10.0.0.7" {
			t.Fatalf("rewritten ServerAddress: want %q got %q", "10.0.0.7", got.ServerAddress)
		}
		if got.ProtocolVersion != 763 {
			t.Fatalf("ProtocolVersion: want 763 got %d", got.ProtocolVersion)
		}
		if got.ServerPort != 25565 {
			t.Fatalf("ServerPort: want 25565 got %d", got.ServerPort)
		}
		if got.NextState != protocol.NextStateLogin {
			t.Fatalf("NextState: want Login got %v", got.NextState)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backend did not receive rewritten handshake")
	}

	// Confirm the bridge keeps forwarding after the handshake: send a
	// payload byte through the client and read it on the backend side.
	payloadDone := make(chan struct{})
	go func() {
		defer close(payloadDone)
		var b [5]byte
		if _, err := io.ReadFull(backendConn, b[:]); err != nil {
			return
		}
	}()
	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("client write payload: %v", err)
	}
	select {
	case <-payloadDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("backend did not receive forwarded payload")
	}
}

func TestHandler_UnknownHostLoginRejection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	dial := &mockDialer{called: make(chan string, 1)}
	table := newFakeTable() // empty: no routes
	bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{})

	h := NewHandler(HandlerOptions{
		Table:  table,
		Dialer: dial,
		Bridge: bridge,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Handle(ctx, serverConn)

	handshake := buildHandshakePacket("unknown.example.com", 25565, 763, int32(protocol.NextStateLogin))
	if _, err := clientConn.Write(handshake); err != nil {
		t.Fatalf("client write handshake: %v", err)
	}

	select {
	case addr := <-dial.called:
		t.Fatalf("unexpected dial to %q", addr)
	case <-time.After(200 * time.Millisecond):
	}

	raw := readRejectionFrame(t, clientConn)
	var got struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal rejection: %v", err)
	}
	if got.Text != protocol.BackendNotFound {
		t.Fatalf("rejection text: want %q got %q", protocol.BackendNotFound, got.Text)
	}

	// The handler half-closes after rejecting; the client should observe EOF.
	var discard [1]byte
	if _, err := clientConn.Read(discard[:]); err != io.EOF {
		t.Fatalf("expected EOF after rejection, got %v", err)
	}
}

func TestHandler_UnknownHostStatusRejection(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	dial := &mockDialer{called: make(chan string, 1)}
	table := newFakeTable()
	bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{})

	h := NewHandler(HandlerOptions{
		Table:  table,
		Dialer: dial,
		Bridge: bridge,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Handle(ctx, serverConn)

	handshake := buildHandshakePacket("unknown.example.com", 25565, 763, int32(protocol.NextStateStatus))
	if _, err := clientConn.Write(handshake); err != nil {
		t.Fatalf("client write handshake: %v", err)
	}

	select {
	case addr := <-dial.called:
		t.Fatalf("unexpected dial to %q", addr)
	case <-time.After(200 * time.Millisecond):
	}

	raw := readRejectionFrame(t, clientConn)
	var got struct {
		Version struct {
			Protocol int32 `json:"protocol"`
		} `json:"version"`
		Players struct {
			Max    int `json:"max"`
			Online int `json:"online"`
		} `json:"players"`
		Description struct {
			Text string `json:"text"`
		} `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("unmarshal rejection: %v", err)
	}
	if got.Description.Text != protocol.BackendNotFound {
		t.Fatalf("Description.Text: want %q got %q", protocol.BackendNotFound, got.Description.Text)
	}
	if got.Players.Max != 0 || got.Players.Online != 0 {
		t.Fatalf("Players: want zeroed, got %+v", got.Players)
	}
}

func TestHandler_UpstreamDialFailureDropsSilently(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	dial := &mockDialer{called: make(chan string, 1), err: errDialRefused}
	table := newFakeTable(routing.Backend{Hostname: "play.example.com", RedirectIP: "10.0.0.7", RedirectPort: 25566})
	bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{})

	h := NewHandler(HandlerOptions{
		Table:  table,
		Dialer: dial,
		Bridge: bridge,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go h.Handle(ctx, serverConn)

	handshake := buildHandshakePacket("play.example.com", 25565, 763, int32(protocol.NextStateLogin))
	if _, err := clientConn.Write(handshake); err != nil {
		t.Fatalf("client write handshake: %v", err)
	}

	select {
	case addr := <-dial.called:
		if addr != "10.0.0.7:25566" {
			t.Fatalf("dial addr: want %q got %q", "10.0.0.7:25566", addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dial not called")
	}

	// No kick packet: the client should see EOF/closed pipe, not a frame.
	var discard [1]byte
	if _, err := clientConn.Read(discard[:]); err == nil {
		t.Fatalf("expected read error after silent drop, got data")
	}
}

var errDialRefused = &net.OpError{Op: "dial", Err: errRefused{}}

type errRefused struct{}

func (errRefused) Error() string { return "connection refused" }
