package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"vhgate/internal/app"
	"vhgate/internal/config"
	"vhgate/internal/control"
	"vhgate/internal/eventloop"
	"vhgate/internal/logging"
	"vhgate/internal/protocol"
	"vhgate/internal/proxy"
	"vhgate/internal/routing"
	"vhgate/internal/server"
	"vhgate/internal/session"
	"vhgate/internal/telemetry"
	"vhgate/internal/tunnel"
)

type parserCloser func(context.Context) error

// buildHostParser assembles the optional secondary HostParser chain from
// cfg.HostParsers. The mandatory handshake decode in internal/session never
// goes through this chain; it only supplies an alternate routing key.
func buildHostParser(ctx context.Context, cfg *config.Config) (protocol.HostParser, parserCloser, error) {
	var parsers []protocol.HostParser
	var closers []parserCloser

	for _, pc := range cfg.HostParsers {
		t := strings.TrimSpace(strings.ToLower(pc.Type))
		if t != "wasm" {
			return nil, nil, fmt.Errorf("unknown host parser type %q (only %q is supported)", pc.Type, "wasm")
		}
		if strings.TrimSpace(pc.Path) == "" {
			return nil, nil, fmt.Errorf("wasm host parser missing path")
		}
		wp, err := protocol.NewWASMHostParserFromFile(ctx, pc.Path, protocol.WASMHostParserOptions{
			Name:         pc.Name,
			FunctionName: pc.Function,
			MaxOutputLen: uint32(pc.MaxOutputLen),
		})
		if err != nil {
			return nil, nil, err
		}
		parsers = append(parsers, wp)
		closers = append(closers, wp.Close)
	}

	if len(parsers) == 0 {
		return nil, nil, nil
	}

	chain := protocol.NewChainHostParser(parsers...)
	closeFn := func(ctx context.Context) error {
		var err error
		for _, c := range closers {
			err = errors.Join(err, c(ctx))
		}
		return err
	}
	return chain, closeFn, nil
}

func buildTunnelManager(cfg *config.Config, logger *slog.Logger) (*tunnel.Manager, []*tunnel.Server, error) {
	if len(cfg.Tunnel.Listeners) == 0 {
		return nil, nil, nil
	}
	mgr := tunnel.NewManager(logger)
	servers := make([]*tunnel.Server, 0, len(cfg.Tunnel.Listeners))
	for _, lc := range cfg.Tunnel.Listeners {
		srv, err := tunnel.NewServer(tunnel.ServerOptions{
			Enabled:    true,
			ListenAddr: lc.ListenAddr,
			Transport:  lc.Transport,
			AuthToken:  cfg.Tunnel.AuthToken,
			QUIC: tunnel.QUICOptions{
				CertFile: lc.QUIC.CertFile,
				KeyFile:  lc.QUIC.KeyFile,
			},
			Logger:  logger,
			Manager: mgr,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("tunnel server %q: %w", lc.ListenAddr, err)
		}
		servers = append(servers, srv)
	}
	return mgr, servers, nil
}

func main() {
	configPath := flag.String("config", "", "path to vhgate config file (if empty: VHGATE_CONFIG, then vhgate.* in the working directory, then the platform config directory)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolved, err := config.ResolveConfigPath(*configPath)
	if err != nil {
		log.Fatalf("resolve config path: %v", err)
	}
	if _, err := config.EnsureConfigFile(resolved.Path); err != nil {
		log.Fatalf("create default config: %v", err)
	}

	provider := config.NewFileConfigProvider(resolved.Path)
	cfg, err := provider.Load(ctx)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	rt, err := logging.NewRuntime(cfg.Logging)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	logger := rt.Logger()
	slog.SetDefault(logger)

	cm := config.NewManager(provider, config.ManagerOptions{PollInterval: cfg.Reload.PollInterval, Logger: logger})
	cm.SetCurrent(cfg)

	metrics := telemetry.NewMetricsCollector()
	sessions := proxy.NewSessionRegistry()
	statusCache := proxy.NewStatusCache()

	table := routing.NewTable()
	loop := eventloop.NewLoop(table, logger)

	tunnelMgr, tunnelServers, err := buildTunnelManager(cfg, logger)
	if err != nil {
		log.Fatalf("configure tunnel: %v", err)
	}
	var tunnelClient *tunnel.Client
	if cfg.Tunnel.Client != nil && len(cfg.Tunnel.Services) > 0 {
		services := make([]tunnel.RegisteredService, 0, len(cfg.Tunnel.Services))
		for _, s := range cfg.Tunnel.Services {
			services = append(services, tunnel.RegisteredService{Name: s.Name, LocalAddr: s.LocalAddr})
		}
		tunnelClient, err = tunnel.NewClient(tunnel.ClientOptions{
			ServerAddr: cfg.Tunnel.Client.ServerAddr,
			Transport:  cfg.Tunnel.Client.Transport,
			AuthToken:  cfg.Tunnel.AuthToken,
			Services:   services,
			QUIC: tunnel.QUICDialOptions{
				ServerName:         cfg.Tunnel.Client.QUIC.ServerName,
				InsecureSkipVerify: cfg.Tunnel.Client.QUIC.InsecureSkipVerify,
			},
			Logger:      logger,
			DialTimeout: cfg.Tunnel.Client.DialTimeout,
		})
		if err != nil {
			log.Fatalf("configure tunnel client: %v", err)
		}
	}

	holder := &handlerHolder{}

	var currentClose parserCloser

	applyCfg := func(newCfg *config.Config) error {
		hostParser, closeFn, err := buildHostParser(ctx, newCfg)
		if err != nil {
			return err
		}
		if chain, ok := hostParser.(*protocol.ChainHostParser); ok && chain.Len() > 0 {
			logger.Info("secondary host parsers loaded", "count", chain.Len(), "parsers", chain.Names())
		}

		netDialer := proxy.NewNetDialer(&proxy.NetDialerOptions{Timeout: newCfg.UpstreamDialTimeout})
		var dialer proxy.Dialer = netDialer
		if tunnelMgr != nil {
			dialer = proxy.NewTunnelDialer(netDialer, tunnelMgr)
		}

		bridge := proxy.NewProxyBridge(proxy.ProxyBridgeOptions{
			BufferPool:         proxy.NewSyncPoolBufferPool(newCfg.BufferSize),
			InjectProxyProtoV2: newCfg.ProxyProtocolV2,
			Metrics:            metrics,
		})

		holder.set(session.NewHandler(session.HandlerOptions{
			Table:          table,
			Dialer:         dialer,
			Bridge:         bridge,
			HostParser:     hostParser,
			Metrics:        metrics,
			Sessions:       sessions,
			StatusCache:    statusCache,
			StatusCacheTTL: newCfg.StatusCacheTTL,
			Timeouts:       newCfg.Timeouts,
			Logger:         logger,
		}))

		oldClose := currentClose
		currentClose = closeFn
		if oldClose != nil {
			delay := newCfg.Timeouts.HandshakeTimeout
			if delay <= 0 {
				delay = 3 * time.Second
			}
			time.AfterFunc(2*delay, func() { _ = oldClose(context.Background()) })
		}
		return nil
	}

	if err := applyCfg(cfg); err != nil {
		log.Fatalf("apply config: %v", err)
	}
	cm.Subscribe(func(_, newCfg *config.Config) {
		if err := applyCfg(newCfg); err != nil {
			logger.Error("apply config", "err", err)
		}
	})
	if cfg.Reload.Enabled {
		cm.Start(ctx)
	}

	proxyServer := server.NewTCPServer(cfg.ProxyAddr, holder, metrics, logger)
	proxyServer.Name = "mc-proxy"

	svc := control.NewService(loop, logger)
	ctrl, err := control.NewListener(cfg.ListenerAddr, svc, logger)
	if err != nil {
		log.Fatalf("configure control listener: %v", err)
	}

	var admin *telemetry.AdminServer
	if cfg.AdminAddr != "" {
		admin = telemetry.NewAdminServer(telemetry.AdminServerOptions{
			Addr:     cfg.AdminAddr,
			Metrics:  metrics,
			Sessions: sessions,
			Logs:     rt.Store(),
			Reload: func(ctx context.Context) error {
				return cm.ReloadNow(ctx)
			},
			Health: func() bool {
				return proxyServer.IsListening()
			},
		})
	}

	sup := &app.Supervisor{
		ProxyServer: proxyServer,
		EventLoop:   loop,
		Control:     ctrl,
		Admin:       admin,
		Logger:      logger,
	}

	var wg sync.WaitGroup
	for _, ts := range tunnelServers {
		ts := ts
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ts.ListenAndServe(ctx); err != nil {
				logger.Error("tunnel server exited", "addr", ts.Addr(), "err", err)
				stop()
			}
		}()
	}
	if tunnelClient != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tunnelClient.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("tunnel client exited", "err", err)
				stop()
			}
		}()
	}

	runErr := sup.Run(ctx)
	wg.Wait()
	if runErr != nil {
		logger.Error("vhgate exited with error", "err", runErr)
		os.Exit(1)
	}
	fmt.Println("vhgate exited")
}

// handlerHolder lets applyCfg hot-swap the *session.Handler's configuration
// (dialer, bridge, host parser) on every config reload without restarting
// the TCP listener: server.ConnectionHandler only needs Handle, which
// always dispatches to the latest handler.
type handlerHolder struct {
	mu sync.RWMutex
	h  *session.Handler
}

func (h *handlerHolder) set(next *session.Handler) {
	h.mu.Lock()
	h.h = next
	h.mu.Unlock()
}

func (h *handlerHolder) Handle(ctx context.Context, conn net.Conn) {
	h.mu.RLock()
	cur := h.h
	h.mu.RUnlock()
	cur.Handle(ctx, conn)
}
