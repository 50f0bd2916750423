package mcproto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	vals := []int32{0, 1, 2, 127, 128, 255, 2147483647, -1, -2147483648}
	for _, v := range vals {
		var buf bytes.Buffer
		_, err := WriteVarInt(&buf, v)
		if err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		got, _, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip: want %d got %d", v, got)
		}
	}
}

// Concrete wire vectors from https://wiki.vg/VarInt_And_VarLong, also
// enumerated in the project specification.
func TestVarIntWireVectors(t *testing.T) {
	cases := []struct {
		val   int32
		bytes string
	}{
		{0, "00"},
		{1, "01"},
		{127, "7f"},
		{128, "8001"},
		{255, "ff01"},
		{25565, "ddc701"},
		{2147483647, "ffffffff07"},
		{-1, "ffffffff0f"},
		{-2147483648, "8080808008"},
	}
	for _, c := range cases {
		want, err := hex.DecodeString(c.bytes)
		if err != nil {
			t.Fatalf("bad hex fixture %q: %v", c.bytes, err)
		}

		var buf bytes.Buffer
		if _, err := WriteVarInt(&buf, c.val); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", c.val, err)
		}
		if !bytes.Equal(buf.Bytes(), want) {
			t.Fatalf("WriteVarInt(%d) = % x, want % x", c.val, buf.Bytes(), want)
		}

		got, n, err := ReadVarInt(bytes.NewReader(want))
		if err != nil {
			t.Fatalf("ReadVarInt(% x): %v", want, err)
		}
		if got != c.val {
			t.Fatalf("ReadVarInt(% x) = %d, want %d", want, got, c.val)
		}
		if n != len(want) {
			t.Fatalf("ReadVarInt(% x) consumed %d bytes, want %d", want, n, len(want))
		}
	}
}

func TestVarIntTooLong(t *testing.T) {
	// Six continuation bytes: the 6th byte must never be requested.
	raw := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x00}
	_, n, err := ReadVarInt(bytes.NewReader(raw))
	if !errors.Is(err, ErrVarIntTooLong) {
		t.Fatalf("want ErrVarIntTooLong, got %v", err)
	}
	if n != 5 {
		t.Fatalf("want 5 bytes consumed before failing, got %d", n)
	}
}

func TestStringRoundTrip(t *testing.T) {
	vals := []string{"", "localhost", "a.b-c_d.example.com", "日本語"}
	for _, s := range vals {
		var buf bytes.Buffer
		if _, err := WriteString(&buf, s); err != nil {
			t.Fatalf("WriteString(%q): %v", s, err)
		}
		got, _, err := ReadString(&buf)
		if err != nil {
			t.Fatalf("ReadString(%q): %v", s, err)
		}
		if got != s {
			t.Fatalf("roundtrip: want %q got %q", s, got)
		}
	}
}

func TestUShortRoundTrip(t *testing.T) {
	vals := []uint16{0, 25565, 65535}
	for _, v := range vals {
		var buf bytes.Buffer
		if _, err := WriteUShort(&buf, v); err != nil {
			t.Fatalf("WriteUShort(%d): %v", v, err)
		}
		got, _, err := ReadUShort(&buf)
		if err != nil {
			t.Fatalf("ReadUShort(%d): %v", v, err)
		}
		if got != v {
			t.Fatalf("roundtrip: want %d got %d", v, got)
		}
	}
}
