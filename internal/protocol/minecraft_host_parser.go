package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"vhgate/pkg/mcproto"
)

// MinecraftHostParser extracts the server address from a Minecraft handshake packet.
//
// It expects the packet framing: [packet_length VarInt][packet_id VarInt=0][protocol_version VarInt]
// [server_address String][server_port UnsignedShort][next_state VarInt].
//
// It is a building block for the optional custom host-parser chain
// (ChainHostParser / WASMHostParser); the core connection handler decodes
// the handshake directly via DecodeHandshake and does not go through here.
type MinecraftHostParser struct {
	// MaxPacketLen is a safety limit for the decoded packet length.
	// If <= 0, a conservative default is used.
	MaxPacketLen int
}

func NewMinecraftHostParser() *MinecraftHostParser { return &MinecraftHostParser{} }

func (p *MinecraftHostParser) Name() string { return "minecraft_handshake" }

func (p *MinecraftHostParser) Parse(prelude []byte) (string, error) {
	if len(prelude) == 0 {
		return "", ErrNeedMoreData
	}

	br := bytes.NewReader(prelude)
	packetLen32, nLen, err := mcproto.ReadVarInt(br)
	if err != nil {
		if errors.Is(err, mcproto.ErrVarIntEOF) {
			return "", ErrNeedMoreData
		}
		return "", ErrNoMatch
	}
	if packetLen32 <= 0 {
		return "", ErrNoMatch
	}

	maxPacket := p.MaxPacketLen
	if maxPacket <= 0 {
		maxPacket = 256 * 1024
	}
	packetLen := int(packetLen32)
	if packetLen > maxPacket {
		return "", ErrNoMatch
	}

	needTotal := nLen + packetLen
	if len(prelude) < needTotal {
		return "", ErrNeedMoreData
	}

	packet := prelude[nLen:needTotal]
	pbr := bytes.NewReader(packet)
	packetID, _, err := mcproto.ReadVarInt(pbr)
	if err != nil {
		return "", ErrNoMatch
	}
	if packetID != 0 {
		return "", ErrNoMatch
	}

	_, _, err = mcproto.ReadVarInt(pbr) // proto version
	if err != nil {
		return "", ErrNoMatch
	}
	host, _, err := mcproto.ReadString(pbr)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) || errors.Is(err, mcproto.ErrVarIntEOF) {
			return "", ErrNeedMoreData
		}
		return "", ErrNoMatch
	}
	if host == "" {
		return "", fmt.Errorf("protocol: minecraft handshake empty host")
	}

	// Normalize the same way routing.Table normalizes its keys.
	host = strings.TrimSpace(strings.ToLower(host))
	return host, nil
}

var _ HostParser = (*MinecraftHostParser)(nil)
