package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReloadsOnFileChange(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "vhgate.yaml")

	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		// Ensure modtime advances on filesystems with coarse timestamps.
		time.Sleep(15 * time.Millisecond)
	}

	write(`
proxy_addr: ":25565"
admin_addr: ":8080"
`)

	p := NewFileConfigProvider(path)
	m := NewManager(p, ManagerOptions{PollInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := m.LoadInitial(ctx); err != nil {
		t.Fatalf("LoadInitial: %v", err)
	}

	changedCh := make(chan *Config, 1)
	m.Subscribe(func(_ *Config, newCfg *Config) {
		select {
		case changedCh <- newCfg:
		default:
		}
	})
	m.Start(ctx)

	write(`
proxy_addr: ":25565"
admin_addr: ":9090"
`)

	select {
	case cfg := <-changedCh:
		if cfg.AdminAddr != ":9090" {
			t.Fatalf("admin_addr=%q want :9090", cfg.AdminAddr)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for reload")
	}
}
