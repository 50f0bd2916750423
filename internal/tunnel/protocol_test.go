package tunnel

import (
	"bytes"
	"testing"
)

func TestRegisterRequestRoundTripTrimsServiceNames(t *testing.T) {
	var buf bytes.Buffer
	if err := writeRegisterRequest(&buf, RegisterRequest{
		Token: "secret",
		Services: []RegisteredService{
			{Name: " survival ", LocalAddr: "127.0.0.1:25566"},
		},
	}); err != nil {
		t.Fatalf("writeRegisterRequest: %v", err)
	}

	req, err := readRegisterRequest(&buf)
	if err != nil {
		t.Fatalf("readRegisterRequest: %v", err)
	}
	if req.Token != "secret" {
		t.Fatalf("Token=%q want %q", req.Token, "secret")
	}
	if len(req.Services) != 1 {
		t.Fatalf("Services len=%d want 1", len(req.Services))
	}
	s := req.Services[0]
	if s.Name != "survival" {
		t.Fatalf("Name=%q want trimmed %q", s.Name, "survival")
	}
	if s.LocalAddr != "127.0.0.1:25566" {
		t.Fatalf("LocalAddr=%q want %q", s.LocalAddr, "127.0.0.1:25566")
	}
}

func TestProxyStreamHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := writeProxyStreamHeader(&buf, "survival"); err != nil {
		t.Fatalf("writeProxyStreamHeader: %v", err)
	}
	svc, err := readProxyStreamHeader(&buf)
	if err != nil {
		t.Fatalf("readProxyStreamHeader: %v", err)
	}
	if svc != "survival" {
		t.Fatalf("service=%q want %q", svc, "survival")
	}
}

func TestReadProxyStreamHeaderBadMagic(t *testing.T) {
	_, err := readProxyStreamHeader(bytes.NewReader([]byte("XXXX\x01\x00")))
	if err != ErrBadMagic {
		t.Fatalf("err=%v want ErrBadMagic", err)
	}
}
