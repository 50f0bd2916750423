package tunnel

import "fmt"

// TransportByName resolves a configured transport name ("tcp", "udp" or
// "quic") to its Transport implementation. "udp" is backed by KCP
// (reliable delivery over UDP via kcp-go), not a raw UDP socket.
func TransportByName(name string) (Transport, error) {
	n, err := ParseTransport(name)
	if err != nil {
		return nil, err
	}
	switch n {
	case "tcp":
		return NewTCPTransport(), nil
	case "udp":
		return NewUDPTransport(), nil
	case "quic":
		return NewQUICTransport(), nil
	default:
		return nil, fmt.Errorf("tunnel: transport not implemented: %s", n)
	}
}
