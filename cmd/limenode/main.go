// Package main is the entry point for the limenode LIME server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/lime-node/internal/buildinfo"
	"github.com/nugget/lime-node/internal/config"
	"github.com/nugget/lime-node/internal/httpemu"
	"github.com/nugget/lime-node/internal/lime"
	"github.com/nugget/lime-node/internal/storage"
	"github.com/nugget/lime-node/internal/wsserver"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("limenode - LIME protocol node")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the node's listeners")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" || cfg.LogFormat == "json" {
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			parsed, err := config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				logger.Error("invalid log_level in config", "error", err)
				os.Exit(1)
			}
			level = parsed
		}
		handlerOpts := &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}
		if cfg.LogFormat == "json" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
		}
	}

	logger.Info("starting limenode",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"node", fmt.Sprintf("%s@%s", cfg.Node.Name, cfg.Node.Domain),
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	serverNode := lime.Node{
		Identity: lime.Identity{Name: cfg.Node.Name, Domain: cfg.Node.Domain},
		Instance: "primary",
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Error("failed to open envelope storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("envelope storage opened", "backend", cfg.Storage.Backend)

	// Notifications get their own backend instance. For the sqlite backend
	// this means a distinct database file: both stores share the same
	// envelopes(identity, id) table shape, so pointing them at one file
	// would let a message id and a notification id for the same recipient
	// collide on that primary key.
	notificationStore, err := storage.New(notificationStorageConfig(cfg.Storage))
	if err != nil {
		logger.Error("failed to open notification storage", "error", err)
		os.Exit(1)
	}
	defer notificationStore.Close()

	compOptions := sessionCompressionOptions(cfg.Session.CompressionOptions)
	encOptions := sessionEncryptionOptions(cfg.Session.EncryptionOptions)
	schemeOptions := sessionSchemeOptions(cfg.Session.SchemeOptions)

	var listeners []interface {
		Start() error
		Shutdown(ctx context.Context) error
	}

	if cfg.HTTPEmu.Enabled {
		httpListener := httpemu.NewListener(serverNode, store, notificationStore, httpemu.Options{
			Address:                 cfg.HTTPEmu.Address,
			Port:                    cfg.HTTPEmu.Port,
			RequestTimeout:          cfg.HTTPEmu.RequestTimeout(),
			WriteExceptionsToOutput: cfg.HTTPEmu.WriteExceptionsToOutput,
			ChannelBufferSize:       cfg.Session.ChannelBufferSize,
			DefaultDomain:           cfg.Node.Domain,
			WebhookResolver:         webhookResolver(cfg.HTTPEmu.Webhooks),
			Logger:                  logger.With("listener", "http"),
		})
		if err := httpListener.Start(); err != nil {
			logger.Error("failed to start http emulation listener", "error", err)
			os.Exit(1)
		}
		logger.Info("http emulation listener started", "address", cfg.HTTPEmu.Address, "port", cfg.HTTPEmu.Port)
		listeners = append(listeners, httpListener)
	}

	if cfg.WebSocket.Enabled {
		wsListener := wsserver.NewListener(serverNode, store, notificationStore, wsserver.Options{
			Address:              cfg.WebSocket.Address,
			Port:                 cfg.WebSocket.Port,
			Path:                 cfg.WebSocket.Path,
			CompressionOptions:   compOptions,
			EncryptionOptions:    encOptions,
			SchemeOptions:        schemeOptions,
			ChannelBufferSize:    cfg.Session.ChannelBufferSize,
			NegotiationTimeout:   cfg.Session.NegotiationTimeout(),
			IdleTimeout:          cfg.Session.RemoteIdleTimeout(),
			IdleResponseDeadline: cfg.Session.NegotiationTimeout(),
			Logger:               logger.With("listener", "websocket"),
		})
		if err := wsListener.Start(); err != nil {
			logger.Error("failed to start websocket listener", "error", err)
			os.Exit(1)
		}
		logger.Info("websocket listener started", "address", cfg.WebSocket.Address, "port", cfg.WebSocket.Port, "path", cfg.WebSocket.Path)
		listeners = append(listeners, wsListener)
	}

	if len(listeners) == 0 {
		logger.Warn("no listeners enabled; node is idle (enable http_emulation or websocket in config)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, l := range listeners {
		if err := l.Shutdown(shutdownCtx); err != nil {
			logger.Error("listener shutdown error", "error", err)
		}
	}
}

// notificationStorageConfig derives the storage config used for notification
// storage from the message store's config. For the sqlite backend, the
// database file gets a "-notifications" suffix so the two stores never
// share a table; other backends are identity/distinct-instance already.
func notificationStorageConfig(cfg config.StorageConfig) config.StorageConfig {
	if cfg.Backend != "sqlite" {
		return cfg
	}
	ext := filepath.Ext(cfg.SQLitePath)
	base := strings.TrimSuffix(cfg.SQLitePath, ext)
	cfg.SQLitePath = base + "-notifications" + ext
	return cfg
}

// webhookResolver turns the configured identity->URL map into the resolver
// callback httpemu.Options expects. Returns nil (disabling webhook delivery
// outright) when no webhooks are configured.
func webhookResolver(webhooks map[string]string) func(lime.Identity) (string, bool) {
	if len(webhooks) == 0 {
		return nil
	}
	return func(id lime.Identity) (string, bool) {
		url, ok := webhooks[id.String()]
		return url, ok
	}
}

func sessionCompressionOptions(opts []string) []lime.SessionCompression {
	out := make([]lime.SessionCompression, 0, len(opts))
	for _, o := range opts {
		out = append(out, lime.SessionCompression(o))
	}
	return out
}

func sessionEncryptionOptions(opts []string) []lime.SessionEncryption {
	out := make([]lime.SessionEncryption, 0, len(opts))
	for _, o := range opts {
		out = append(out, lime.SessionEncryption(o))
	}
	return out
}

func sessionSchemeOptions(opts []string) []lime.AuthenticationScheme {
	out := make([]lime.AuthenticationScheme, 0, len(opts))
	for _, o := range opts {
		out = append(out, lime.AuthenticationScheme(o))
	}
	return out
}
