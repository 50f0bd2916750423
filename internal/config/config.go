package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Timeouts struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
}

type ReloadConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

type AdminLogBufferConfig struct {
	Enabled bool
	Size    int
}

type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string
	// Format is one of: json, text.
	Format string
	// Output is one of: stderr, stdout, discard; or a file path.
	Output string
	// AddSource enables source file/line reporting (slightly higher overhead).
	AddSource bool
	// AdminBuffer controls an in-memory log line ring buffer used by the admin server.
	AdminBuffer AdminLogBufferConfig
}

// RoutingParserConfig configures an optional secondary HostParser chained
// after the mandatory Minecraft handshake parser (see protocol.ChainHostParser).
// Only Type="wasm" is meaningful; the built-in handshake parser needs no entry.
type RoutingParserConfig struct {
	Type         string
	Name         string
	Path         string
	Function     string
	MaxOutputLen int
}

type TunnelClientServiceConfig struct {
	Name string
	// LocalAddr is the local backend address on the tunnel client.
	LocalAddr string
}

type TunnelClientQUICConfig struct {
	ServerName         string
	InsecureSkipVerify bool
}

type TunnelListenerConfig struct {
	// ListenAddr is the address the tunnel server listens on.
	//
	// The presence of one or more listeners enables the tunnel server role.
	ListenAddr string
	// Transport is one of: tcp, udp, quic.
	Transport string
	QUIC      struct {
		CertFile string
		KeyFile  string
	}
}

type TunnelClientConnectConfig struct {
	ServerAddr  string
	Transport   string
	DialTimeout time.Duration
	QUIC        TunnelClientQUICConfig
}

// TunnelConfig configures the optional reverse-tunnel subsystem that lets a
// backend behind NAT register itself and be addressed as
// redirect_ip="tunnel:<service>" (see internal/tunnel).
type TunnelConfig struct {
	// AuthToken is an optional shared secret required for client registration.
	AuthToken string

	// Listeners configures one or more tunnel server endpoints (server-side
	// acceptors for tunnel clients). Multiple entries allow serving multiple
	// transports at the same time.
	Listeners []TunnelListenerConfig

	// Client configures the tunnel client role (optional). If Client is present
	// and Services is non-empty, vhgate runs the tunnel client loop instead of
	// (or alongside) the tunnel server role.
	Client   *TunnelClientConnectConfig
	Services []TunnelClientServiceConfig
}

// Config is vhgate's full runtime configuration. The routing table itself is
// never part of Config: it starts empty and is mutated only through the
// control listener at ListenerAddr.
type Config struct {
	// ProxyAddr is the public Minecraft-facing listener address. Overridable
	// by the PROXY_PORT environment variable (port only).
	ProxyAddr string
	// ListenerAddr is the control-plane RPC listener address. Overridable by
	// the LISTENER_PORT environment variable (port only).
	ListenerAddr string
	// AdminAddr enables the admin HTTP server (health/metrics/logs) when non-empty.
	AdminAddr string

	Logging LoggingConfig
	Reload  ReloadConfig

	BufferSize          int
	UpstreamDialTimeout time.Duration
	Timeouts            Timeouts
	ProxyProtocolV2     bool

	// StatusCacheTTL, when positive, caches a backend's last Status-ping
	// response for this long (see internal/proxy.StatusCache). Zero disables
	// caching, so every ping dials the backend.
	StatusCacheTTL time.Duration

	// HostParsers configures secondary virtual-host extractors chained after
	// the mandatory Minecraft handshake parser.
	HostParsers []RoutingParserConfig

	Tunnel TunnelConfig
}

const (
	// EnvProxyPort overrides the port of ProxyAddr.
	EnvProxyPort = "PROXY_PORT"
	// EnvListenerPort overrides the port of ListenerAddr.
	EnvListenerPort = "LISTENER_PORT"
)

const (
	DefaultProxyPort    = 25565
	DefaultListenerPort = 65535
)

type ConfigProvider interface {
	Load(ctx context.Context) (*Config, error)
}

type FileConfigProvider struct {
	Path string
}

func NewFileConfigProvider(path string) *FileConfigProvider {
	return &FileConfigProvider{Path: path}
}

func (p *FileConfigProvider) WatchPath() string {
	return p.Path
}

type fileConfig struct {
	ProxyAddr    *string `yaml:"proxy_addr" toml:"proxy_addr"`
	ListenerAddr *string `yaml:"listener_addr" toml:"listener_addr"`
	AdminAddr    *string `yaml:"admin_addr" toml:"admin_addr"`

	Logging *struct {
		Level       string `yaml:"level" toml:"level"`
		Format      string `yaml:"format" toml:"format"`
		Output      string `yaml:"output" toml:"output"`
		AddSource   bool   `yaml:"add_source" toml:"add_source"`
		AdminBuffer *struct {
			Enabled bool `yaml:"enabled" toml:"enabled"`
			Size    int  `yaml:"size" toml:"size"`
		} `yaml:"admin_buffer" toml:"admin_buffer"`
	} `yaml:"logging" toml:"logging"`

	HostParsers []struct {
		Type         string `yaml:"type" toml:"type"`
		Name         string `yaml:"name" toml:"name"`
		Path         string `yaml:"path" toml:"path"`
		Function     string `yaml:"function" toml:"function"`
		MaxOutputLen int    `yaml:"max_output_len" toml:"max_output_len"`
	} `yaml:"host_parsers" toml:"host_parsers"`

	Reload *struct {
		Enabled        bool `yaml:"enabled" toml:"enabled"`
		PollIntervalMs int  `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
	} `yaml:"reload" toml:"reload"`

	ProxyProtocolV2       bool `yaml:"proxy_protocol_v2" toml:"proxy_protocol_v2"`
	BufferSize            int  `yaml:"buffer_size" toml:"buffer_size"`
	UpstreamDialTimeoutMs int  `yaml:"upstream_dial_timeout_ms" toml:"upstream_dial_timeout_ms"`
	StatusCacheTTLMs      int  `yaml:"status_cache_ttl_ms" toml:"status_cache_ttl_ms"`

	Timeouts struct {
		HandshakeTimeoutMs int `yaml:"handshake_timeout_ms" toml:"handshake_timeout_ms"`
		IdleTimeoutMs      int `yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
	} `yaml:"timeouts" toml:"timeouts"`

	Tunnel *struct {
		AuthToken string `yaml:"auth_token" toml:"auth_token"`
		Endpoints []struct {
			Transport  string `yaml:"transport" toml:"transport"`
			ListenAddr string `yaml:"listen_addr" toml:"listen_addr"`
			QUIC       *struct {
				CertFile string `yaml:"cert_file" toml:"cert_file"`
				KeyFile  string `yaml:"key_file" toml:"key_file"`
			} `yaml:"quic" toml:"quic"`
		} `yaml:"endpoints" toml:"endpoints"`
		Client *struct {
			ServerAddr    string `yaml:"server_addr" toml:"server_addr"`
			Transport     string `yaml:"transport" toml:"transport"`
			DialTimeoutMs int    `yaml:"dial_timeout_ms" toml:"dial_timeout_ms"`
			QUIC          *struct {
				ServerName         string `yaml:"server_name" toml:"server_name"`
				InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
			} `yaml:"quic" toml:"quic"`
		} `yaml:"client" toml:"client"`
		Services []struct {
			Name      string `yaml:"name" toml:"name"`
			LocalAddr string `yaml:"local_addr" toml:"local_addr"`
		} `yaml:"services" toml:"services"`
	} `yaml:"tunnel" toml:"tunnel"`
}

func (p *FileConfigProvider) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, err
	}

	var fc fileConfig
	if err := unmarshalConfigFile(p.Path, data, &fc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.Path, err)
	}

	cfg := &Config{
		ProxyAddr:    fmt.Sprintf(":%d", DefaultProxyPort),
		ListenerAddr: fmt.Sprintf(":%d", DefaultListenerPort),
		AdminAddr:    ":8080",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
			AdminBuffer: AdminLogBufferConfig{
				Enabled: false,
				Size:    1000,
			},
		},
		BufferSize:          fc.BufferSize,
		ProxyProtocolV2:     fc.ProxyProtocolV2,
		UpstreamDialTimeout: time.Duration(fc.UpstreamDialTimeoutMs) * time.Millisecond,
		StatusCacheTTL:      time.Duration(fc.StatusCacheTTLMs) * time.Millisecond,
		Timeouts: Timeouts{
			HandshakeTimeout: time.Duration(fc.Timeouts.HandshakeTimeoutMs) * time.Millisecond,
			IdleTimeout:      time.Duration(fc.Timeouts.IdleTimeoutMs) * time.Millisecond,
		},
		Reload: ReloadConfig{},
	}

	if fc.ProxyAddr != nil {
		cfg.ProxyAddr = strings.TrimSpace(*fc.ProxyAddr)
	}
	if fc.ListenerAddr != nil {
		cfg.ListenerAddr = strings.TrimSpace(*fc.ListenerAddr)
	}
	if fc.AdminAddr != nil {
		cfg.AdminAddr = strings.TrimSpace(*fc.AdminAddr)
	}

	if fc.Logging != nil {
		if fc.Logging.Level != "" {
			cfg.Logging.Level = fc.Logging.Level
		}
		if fc.Logging.Format != "" {
			cfg.Logging.Format = fc.Logging.Format
		}
		if fc.Logging.Output != "" {
			cfg.Logging.Output = fc.Logging.Output
		}
		cfg.Logging.AddSource = fc.Logging.AddSource
		if fc.Logging.AdminBuffer != nil {
			cfg.Logging.AdminBuffer.Enabled = fc.Logging.AdminBuffer.Enabled
			if fc.Logging.AdminBuffer.Size != 0 {
				cfg.Logging.AdminBuffer.Size = fc.Logging.AdminBuffer.Size
			}
		}
	}

	if fc.Reload == nil {
		cfg.Reload.Enabled = true
	} else {
		cfg.Reload.Enabled = fc.Reload.Enabled
		cfg.Reload.PollInterval = time.Duration(fc.Reload.PollIntervalMs) * time.Millisecond
	}

	if len(fc.HostParsers) > 0 {
		cfg.HostParsers = make([]RoutingParserConfig, 0, len(fc.HostParsers))
		for _, rp := range fc.HostParsers {
			cfg.HostParsers = append(cfg.HostParsers, RoutingParserConfig{
				Type:         rp.Type,
				Name:         rp.Name,
				Path:         rp.Path,
				Function:     rp.Function,
				MaxOutputLen: rp.MaxOutputLen,
			})
		}
	}

	var tun TunnelConfig
	if fc.Tunnel != nil {
		tun.AuthToken = strings.TrimSpace(fc.Tunnel.AuthToken)

		if len(fc.Tunnel.Endpoints) > 0 {
			tun.Listeners = make([]TunnelListenerConfig, 0, len(fc.Tunnel.Endpoints))
			for _, l := range fc.Tunnel.Endpoints {
				la := strings.TrimSpace(l.ListenAddr)
				if la == "" {
					return nil, fmt.Errorf("config: tunnel.endpoints entry missing listen_addr")
				}
				tr := strings.TrimSpace(l.Transport)
				if tr == "" {
					tr = "tcp"
				}
				lc := TunnelListenerConfig{ListenAddr: la, Transport: tr}
				if l.QUIC != nil {
					lc.QUIC.CertFile = strings.TrimSpace(l.QUIC.CertFile)
					lc.QUIC.KeyFile = strings.TrimSpace(l.QUIC.KeyFile)
				}
				tun.Listeners = append(tun.Listeners, lc)
			}
		}

		if fc.Tunnel.Client != nil {
			cc := &TunnelClientConnectConfig{}
			cc.ServerAddr = strings.TrimSpace(fc.Tunnel.Client.ServerAddr)
			cc.Transport = strings.TrimSpace(fc.Tunnel.Client.Transport)
			if cc.Transport == "" {
				cc.Transport = "tcp"
			}
			if fc.Tunnel.Client.DialTimeoutMs > 0 {
				cc.DialTimeout = time.Duration(fc.Tunnel.Client.DialTimeoutMs) * time.Millisecond
			} else {
				cc.DialTimeout = 5 * time.Second
			}
			if fc.Tunnel.Client.QUIC != nil {
				cc.QUIC.ServerName = strings.TrimSpace(fc.Tunnel.Client.QUIC.ServerName)
				cc.QUIC.InsecureSkipVerify = fc.Tunnel.Client.QUIC.InsecureSkipVerify
			}
			tun.Client = cc
		}

		if len(fc.Tunnel.Services) > 0 {
			tun.Services = make([]TunnelClientServiceConfig, 0, len(fc.Tunnel.Services))
			for _, s := range fc.Tunnel.Services {
				name := strings.TrimSpace(s.Name)
				addr := strings.TrimSpace(s.LocalAddr)
				if name == "" || addr == "" {
					continue
				}
				tun.Services = append(tun.Services, TunnelClientServiceConfig{Name: name, LocalAddr: addr})
			}
		}
	}
	cfg.Tunnel = tun

	// --- Defaults ---
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 32 * 1024
	}
	if cfg.UpstreamDialTimeout <= 0 {
		cfg.UpstreamDialTimeout = 5 * time.Second
	}
	if cfg.Timeouts.HandshakeTimeout <= 0 {
		cfg.Timeouts.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Reload.PollInterval <= 0 {
		cfg.Reload.PollInterval = 1 * time.Second
	}
	if cfg.ProxyAddr == "" {
		cfg.ProxyAddr = fmt.Sprintf(":%d", DefaultProxyPort)
	}
	if cfg.ListenerAddr == "" {
		cfg.ListenerAddr = fmt.Sprintf(":%d", DefaultListenerPort)
	}

	applyEnvPortOverride(&cfg.ProxyAddr, EnvProxyPort)
	applyEnvPortOverride(&cfg.ListenerAddr, EnvListenerPort)

	return cfg, nil
}

// applyEnvPortOverride rewrites addr's port to the value of the named
// environment variable, leaving the host part untouched, when the variable
// is set to a valid TCP port number.
func applyEnvPortOverride(addr *string, envName string) {
	v := strings.TrimSpace(os.Getenv(envName))
	if v == "" {
		return
	}
	port, err := strconv.Atoi(v)
	if err != nil || port <= 0 || port > 65535 {
		return
	}
	host := ""
	if h, _, splitErr := splitHostPort(*addr); splitErr == nil {
		host = h
	}
	*addr = fmt.Sprintf("%s:%d", host, port)
}

func splitHostPort(addr string) (host, port string, err error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", "", fmt.Errorf("config: invalid address %q", addr)
	}
	return addr[:idx], addr[idx+1:], nil
}

func unmarshalConfigFile(path string, data []byte, dst any) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(dst)
	case ".toml":
		// BurntSushi/toml works with string or io.Reader; this keeps things simple.
		md, err := toml.Decode(string(data), dst)
		if err != nil {
			return err
		}
		if undec := md.Undecoded(); len(undec) > 0 {
			return fmt.Errorf("unknown fields: %v", undec)
		}
		return nil
	default:
		return fmt.Errorf("unsupported config extension %q (expected .toml or .yaml/.yml)", ext)
	}
}
