package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"vhgate/pkg/mcproto"
)

// NextState is the handshake's next_state field: it tells the server whether
// the client wants a status ping or intends to log in.
type NextState int32

const (
	NextStateStatus NextState = 1
	NextStateLogin  NextState = 2
)

func (n NextState) Valid() bool {
	return n == NextStateStatus || n == NextStateLogin
}

func (n NextState) String() string {
	switch n {
	case NextStateStatus:
		return "status"
	case NextStateLogin:
		return "login"
	default:
		return fmt.Sprintf("unknown(%d)", int32(n))
	}
}

// Handshake is the first serverbound packet of a Minecraft connection
// (packet id 0). ServerAddress is the virtual host the client typed; it is
// the routing key for the whole proxy.
type Handshake struct {
	ProtocolVersion int32
	ServerAddress   string
	ServerPort      uint16
	NextState       NextState
}

var (
	// ErrUnexpectedPacket is returned when the first packet on a connection
	// is not a handshake (packet id != 0).
	ErrUnexpectedPacket = errors.New("protocol: expected handshake packet id 0")
	// ErrInvalidNextState is returned when next_state is neither 1 (status)
	// nor 2 (login).
	ErrInvalidNextState = errors.New("protocol: invalid next_state")
	// ErrInvalidPacketLength is returned for a non-positive frame length.
	ErrInvalidPacketLength = errors.New("protocol: invalid packet length")
)

// DecodeHandshake reads one length-prefixed frame from r and parses it as a
// handshake packet. It blocks until the full frame is available, matching
// the connection handler's read_handshake transition.
func DecodeHandshake(r io.Reader) (Handshake, error) {
	packetLen, _, err := mcproto.ReadVarInt(r)
	if err != nil {
		return Handshake{}, err
	}
	if packetLen <= 0 {
		return Handshake{}, fmt.Errorf("%w: %d", ErrInvalidPacketLength, packetLen)
	}

	payload := make([]byte, int(packetLen))
	if _, err := io.ReadFull(r, payload); err != nil {
		return Handshake{}, err
	}

	return decodeHandshakePayload(payload)
}

func decodeHandshakePayload(payload []byte) (Handshake, error) {
	br := bytes.NewReader(payload)

	packetID, _, err := mcproto.ReadVarInt(br)
	if err != nil {
		return Handshake{}, err
	}
	if packetID != 0 {
		return Handshake{}, fmt.Errorf("%w: got %d", ErrUnexpectedPacket, packetID)
	}

	version, _, err := mcproto.ReadVarInt(br)
	if err != nil {
		return Handshake{}, err
	}
	host, _, err := mcproto.ReadString(br)
	if err != nil {
		return Handshake{}, err
	}
	port, _, err := mcproto.ReadUShort(br)
	if err != nil {
		return Handshake{}, err
	}
	nextState, _, err := mcproto.ReadVarInt(br)
	if err != nil {
		return Handshake{}, err
	}

	ns := NextState(nextState)
	if !ns.Valid() {
		return Handshake{}, fmt.Errorf("%w: %d", ErrInvalidNextState, nextState)
	}

	return Handshake{
		ProtocolVersion: version,
		ServerAddress:   strings.TrimSpace(host),
		ServerPort:      port,
		NextState:       ns,
	}, nil
}

// EncodeHandshake writes hs to w as a length-prefixed handshake frame
// (packet id 0). It is used both to forward the client's handshake upstream
// (with ServerAddress rewritten to the backend's address) and in tests.
func EncodeHandshake(w io.Writer, hs Handshake) error {
	var payload bytes.Buffer
	if _, err := mcproto.WriteVarInt(&payload, 0); err != nil {
		return err
	}
	if _, err := mcproto.WriteVarInt(&payload, hs.ProtocolVersion); err != nil {
		return err
	}
	if _, err := mcproto.WriteString(&payload, hs.ServerAddress); err != nil {
		return err
	}
	if _, err := mcproto.WriteUShort(&payload, hs.ServerPort); err != nil {
		return err
	}
	if _, err := mcproto.WriteVarInt(&payload, int32(hs.NextState)); err != nil {
		return err
	}

	if _, err := mcproto.WriteVarInt(w, int32(payload.Len())); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// WithServerAddress returns a copy of hs with ServerAddress replaced,
// leaving ProtocolVersion, ServerPort and NextState untouched. This is the
// handshake rewrite the connection handler performs before dialing upstream.
func (hs Handshake) WithServerAddress(addr string) Handshake {
	hs.ServerAddress = addr
	return hs
}
