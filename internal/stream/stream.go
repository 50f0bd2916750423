// Package stream provides the thin per-connection wire operations the
// session state machine needs: disabling Nagle's algorithm, reading and
// writing handshake frames, writing the typed rejection packet, and
// half-closing a socket's write side.
package stream

import (
	"net"

	"vhgate/internal/protocol"
)

// Configure disables Nagle's algorithm on conn, if it is a TCP connection.
// It must be called before any protocol bytes are exchanged in either
// direction.
func Configure(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tc.SetNoDelay(true)
}

// ReadHandshake decodes the first serverbound frame on conn as a
// handshake packet.
func ReadHandshake(conn net.Conn) (protocol.Handshake, error) {
	return protocol.DecodeHandshake(conn)
}

// WriteHandshake encodes hs and writes it to conn as a length-prefixed
// frame. Used to forward the (rewritten) handshake to the upstream backend.
func WriteHandshake(conn net.Conn, hs protocol.Handshake) error {
	return protocol.EncodeHandshake(conn, hs)
}

// WriteRejection writes the typed rejection packet (a Login disconnect or
// Status response, depending on next) to conn.
func WriteRejection(conn net.Conn, next protocol.NextState, reason string) error {
	return protocol.EncodeRejection(conn, next, reason)
}

// halfCloser is implemented by *net.TCPConn and similar stream types that
// can shut down their write half without tearing down the whole socket.
type halfCloser interface {
	CloseWrite() error
}

// CloseWrite half-closes conn's write side so the peer observes EOF rather
// than the connection hanging. If conn does not support half-close, this
// is a no-op: the caller is expected to fully close shortly after anyway.
func CloseWrite(conn net.Conn) error {
	hc, ok := conn.(halfCloser)
	if !ok {
		return nil
	}
	return hc.CloseWrite()
}
