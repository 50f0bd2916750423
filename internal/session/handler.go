// Package session implements the per-connection state machine: Accepted →
// Configured → Resolving → (Dialing | Rejecting) → Bridging → Forwarding →
// Closed.
package session

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"vhgate/internal/config"
	"vhgate/internal/protocol"
	"vhgate/internal/proxy"
	"vhgate/internal/routing"
	"vhgate/internal/stream"
)

// Table is the read-only view of the routing table a Handler needs. Only
// internal/eventloop.Loop is allowed to mutate the underlying routing.Table;
// Handler only ever calls Get.
type Table interface {
	Get(hostname string) (routing.Backend, bool)
}

// Metrics is the optional set of counters a Handler reports connection
// lifecycle and routing events to.
type Metrics interface {
	IncActive()
	DecActive()
	AddRouteHit(host string)
}

// HandlerOptions configures a Handler. Table, Dialer and Bridge are
// required; everything else is optional.
type HandlerOptions struct {
	Table  Table
	Dialer proxy.Dialer
	Bridge *proxy.ProxyBridge

	// HostParser, when set, is consulted after the mandatory handshake
	// decode to derive an alternate routing key. It never changes the
	// version/port/next_state fields forwarded upstream — only which
	// hostname Table.Get is called with. A nil HostParser, or one that
	// returns protocol.ErrNoMatch/protocol.ErrNeedMoreData, falls back to
	// the literal handshake hostname.
	HostParser protocol.HostParser

	Metrics  Metrics
	Sessions *proxy.SessionRegistry

	StatusCache    *proxy.StatusCache
	StatusCacheTTL time.Duration

	Timeouts       config.Timeouts
	MaxHeaderBytes int

	Logger *slog.Logger
}

// Handler implements server.ConnectionHandler: one Handle call drives one
// accepted TCP connection through the full state machine.
type Handler struct {
	opts HandlerOptions
}

func NewHandler(opts HandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxHeaderBytes <= 0 {
		opts.MaxHeaderBytes = 64 * 1024
	}
	return &Handler{opts: opts}
}

// Handle runs conn through Accepted → Configured → Resolving →
// (Dialing|Rejecting) → Bridging → Forwarding → Closed. It never panics out
// to the caller: a recovered panic is logged and treated like any other
// fatal per-connection error, so one malformed connection cannot take down
// the accept loop.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			h.opts.Logger.Error("session: recovered panic", "panic", r, "client", conn.RemoteAddr())
		}
	}()
	defer conn.Close()

	// Accepted -> Configured: disable Nagle before any protocol bytes flow.
	if err := stream.Configure(conn); err != nil {
		h.opts.Logger.Debug("session: configure failed", "err", err)
		return
	}

	if h.opts.Metrics != nil {
		h.opts.Metrics.IncActive()
		defer h.opts.Metrics.DecActive()
	}

	if h.opts.Timeouts.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.Timeouts.HandshakeTimeout))
	}

	// Configured -> Resolving: decode the handshake, capturing the raw
	// bytes so that, if a secondary HostParser is configured, they can be
	// re-parsed for an override routing key.
	var captured bytes.Buffer
	hs, err := protocol.DecodeHandshake(io.TeeReader(conn, &captured))
	if err != nil {
		// WireFormat/IO before lookup: log at debug, drop silently. May be
		// a port scan or a non-Minecraft client.
		h.opts.Logger.Debug("session: handshake read failed", "client", conn.RemoteAddr(), "err", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	host := hs.ServerAddress
	if h.opts.HostParser != nil {
		if override, perr := h.opts.HostParser.Parse(captured.Bytes()); perr == nil && override != "" {
			host = override
		} else if perr != nil && !errors.Is(perr, protocol.ErrNoMatch) && !errors.Is(perr, protocol.ErrNeedMoreData) {
			h.opts.Logger.Debug("session: host parser error, falling back to handshake hostname", "err", perr)
		}
	}

	backend, ok := h.opts.Table.Get(host)
	if !ok {
		// Resolving -> Rejecting -> Closed.
		h.reject(conn, hs)
		return
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.AddRouteHit(host)
	}

	if h.opts.Timeouts.IdleTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(h.opts.Timeouts.IdleTimeout))
	}

	// Resolving -> Dialing.
	backendAddr := backend.Addr()

	if h.tryServeFromStatusCache(ctx, conn, hs, backend) {
		return
	}

	up, err := h.opts.Dialer.DialContext(ctx, "tcp", backendAddr)
	if err != nil {
		// Dialing -> Closed: drop the client without a kick packet
		// (source behavior retained; see Open Question resolution).
		h.opts.Logger.Warn("session: upstream dial failed", "host", host, "backend", backendAddr, "err", err)
		return
	}
	defer up.Close()

	if err := stream.Configure(up); err != nil {
		h.opts.Logger.Debug("session: configure upstream failed", "err", err)
		return
	}

	// Dialing -> Bridging: rewrite the handshake's hostname to the
	// backend's own address, leaving version/port/next_state untouched.
	rewritten := hs.WithServerAddress(backend.RedirectIP)
	if err := stream.WriteHandshake(up, rewritten); err != nil {
		h.opts.Logger.Debug("session: forward handshake failed", "err", err)
		return
	}

	sid := newSessionID()
	if h.opts.Sessions != nil {
		h.opts.Sessions.Add(proxy.SessionInfo{
			ID:        sid,
			Client:    conn.RemoteAddr().String(),
			Host:      host,
			Upstream:  backendAddr,
			StartedAt: time.Now(),
		})
		defer h.opts.Sessions.Remove(sid)
	}

	// Bridging -> Forwarding: the (rewritten) handshake has already been
	// forwarded above, so the client socket itself is the initial reader —
	// nothing was consumed from conn beyond the single handshake frame.
	_ = h.opts.Bridge.Proxy(ctx, conn, up, conn)
}

// reject sends the typed rejection packet (a Login disconnect or Status
// response, depending on hs.NextState) and half-closes the connection.
func (h *Handler) reject(conn net.Conn, hs protocol.Handshake) {
	if err := stream.WriteRejection(conn, hs.NextState, protocol.BackendNotFound); err != nil {
		h.opts.Logger.Debug("session: write rejection failed", "err", err)
		return
	}
	_ = stream.CloseWrite(conn)
}

// tryServeFromStatusCache implements the optional status-ping cache
// (SPEC_FULL.md §3.6). It only ever activates for Status handshakes when a
// cache and positive TTL are configured; any failure falls through to the
// normal dial-and-bridge path so the cache can never turn a working ping
// into a dropped connection.
func (h *Handler) tryServeFromStatusCache(ctx context.Context, conn net.Conn, hs protocol.Handshake, backend routing.Backend) bool {
	if h.opts.StatusCache == nil || h.opts.StatusCacheTTL <= 0 || hs.NextState != protocol.NextStateStatus {
		return false
	}

	backendAddr := backend.Addr()
	key := proxy.StatusCacheKey{Upstream: backendAddr, ProtocolVersion: hs.ProtocolVersion}
	frame, err := h.opts.StatusCache.GetOrLoad(ctx, key, h.opts.StatusCacheTTL, func(ctx context.Context) ([]byte, error) {
		return h.fetchStatusFrame(ctx, hs, backend)
	})
	if err != nil {
		h.opts.Logger.Debug("session: status cache load failed, falling back to live dial", "backend", backendAddr, "err", err)
		return false
	}

	// Drain the client's own Status Request packet (empty body) before
	// replying; best-effort, a slow/missing request does not hang the
	// connection past the handshake timeout.
	if d := h.opts.Timeouts.HandshakeTimeout; d > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(d))
	}
	var discard [256]byte
	_, _ = conn.Read(discard[:])

	if _, err := conn.Write(frame); err != nil {
		h.opts.Logger.Debug("session: write cached status failed", "err", err)
		return true
	}
	_ = stream.CloseWrite(conn)
	return true
}

// fetchStatusFrame dials backendAddr directly to prime a status cache
// entry: it sends the rewritten handshake plus a synthetic Status Request
// and captures the raw response frame for replay.
func (h *Handler) fetchStatusFrame(ctx context.Context, hs protocol.Handshake, backend routing.Backend) ([]byte, error) {
	up, err := h.opts.Dialer.DialContext(ctx, "tcp", backend.Addr())
	if err != nil {
		return nil, fmt.Errorf("session: status cache dial: %w", err)
	}
	defer up.Close()

	rewritten := hs.WithServerAddress(backend.RedirectIP)
	if err := stream.WriteHandshake(up, rewritten); err != nil {
		return nil, fmt.Errorf("session: status cache handshake: %w", err)
	}
	if err := protocol.WriteStatusRequest(up); err != nil {
		return nil, fmt.Errorf("session: status cache request: %w", err)
	}
	frame, err := protocol.ReadFrame(up)
	if err != nil {
		return nil, fmt.Errorf("session: status cache response: %w", err)
	}
	return frame, nil
}

func newSessionID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
