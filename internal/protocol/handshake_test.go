package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"vhgate/pkg/mcproto"
)

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

func TestDecodeHandshake(t *testing.T) {
	data := buildHandshakePacket("play.example.com", 25565, 763, 1)
	hs, err := DecodeHandshake(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if hs.ServerAddress != "play.example.com" {
		t.Fatalf("ServerAddress: want %q got %q", "play.example.com", hs.ServerAddress)
	}
	if hs.ServerPort != 25565 {
		t.Fatalf("ServerPort: want %d got %d", 25565, hs.ServerPort)
	}
	if hs.ProtocolVersion != 763 {
		t.Fatalf("ProtocolVersion: want %d got %d", 763, hs.ProtocolVersion)
	}
	if hs.NextState != NextStateStatus {
		t.Fatalf("NextState: want %v got %v", NextStateStatus, hs.NextState)
	}
}

// Wire vector from the project specification.
func TestDecodeHandshakeWireVector(t *testing.T) {
	raw, err := hex.DecodeString("0f006e096c6f63616c686f737463dd01")
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}
	hs, err := DecodeHandshake(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	want := Handshake{ProtocolVersion: 110, ServerAddress: "localhost", ServerPort: 25565, NextState: NextStateStatus}
	if hs != want {
		t.Fatalf("DecodeHandshake = %+v, want %+v", hs, want)
	}

	var buf bytes.Buffer
	if err := EncodeHandshake(&buf, hs); err != nil {
		t.Fatalf("EncodeHandshake: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), raw) {
		t.Fatalf("EncodeHandshake round trip = % x, want % x", buf.Bytes(), raw)
	}
}

func TestDecodeHandshakeInvalidNextState(t *testing.T) {
	data := buildHandshakePacket("play.example.com", 25565, 763, 3)
	_, err := DecodeHandshake(bytes.NewReader(data))
	if !errors.Is(err, ErrInvalidNextState) {
		t.Fatalf("want ErrInvalidNextState, got %v", err)
	}
}

func TestDecodeHandshakeUnexpectedPacket(t *testing.T) {
	var payload bytes.Buffer
	_, _ = mcproto.WriteVarInt(&payload, 1) // non-zero packet id
	_, _ = mcproto.WriteVarInt(&payload, 0)

	var out bytes.Buffer
	_, _ = mcproto.WriteVarInt(&out, int32(payload.Len()))
	_, _ = out.Write(payload.Bytes())

	_, err := DecodeHandshake(bytes.NewReader(out.Bytes()))
	if !errors.Is(err, ErrUnexpectedPacket) {
		t.Fatalf("want ErrUnexpectedPacket, got %v", err)
	}
}

func TestHandshakeRewritePreservesOtherFields(t *testing.T) {
	hs := Handshake{ProtocolVersion: 47, ServerAddress: "pvp.example", ServerPort: 25565, NextState: NextStateLogin}
	rewritten := hs.WithServerAddress("1.2.3.4")
	want := Handshake{ProtocolVersion: 47, ServerAddress: "1.2.3.4", ServerPort: 25565, NextState: NextStateLogin}
	if rewritten != want {
		t.Fatalf("WithServerAddress = %+v, want %+v", rewritten, want)
	}
}
