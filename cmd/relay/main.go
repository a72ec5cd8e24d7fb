package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sudooom.im.client/auth"
	"sudooom.im.client/config"
	"sudooom.im.client/internal/relay"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeId := cfg.Relay.NodeID
	if nodeId == "" {
		nodeId = "relay-1"
	}

	// 在线状态：配置了 Redis 时多节点共享，否则内存单节点
	var presence relay.PresenceStore
	if cfg.Redis.Addr != "" {
		presence = relay.NewRedisPresence(cfg.Redis, nodeId, logger)
		logger.Info("Using Redis presence store", "addr", cfg.Redis.Addr)
	} else {
		presence = relay.NewMemoryPresence()
		logger.Info("Using in-memory presence store")
	}
	defer presence.Close()

	// 跨节点转发：配置了 NATS 时启用
	var bridge *relay.Bridge
	if cfg.NATS.URL != "" {
		bridge, err = relay.NewBridge(cfg.NATS, nodeId, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer bridge.Close()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	hub := relay.NewHub()
	tokens := auth.NewService(cfg.Auth.TokenSecret, cfg.Auth.TokenExpire)
	msgLog := relay.NewMessageLog(1)
	handler := relay.NewHandler(hub, tokens, presence, msgLog, bridge, logger)

	if bridge != nil {
		if err := bridge.Subscribe(handler.HandleBridgeEvent); err != nil {
			logger.Error("Failed to subscribe bridge events", "error", err)
			os.Exit(1)
		}
	}

	wtServer := relay.NewServer(cfg.Relay, hub, handler, logger)
	go func() {
		if err := wtServer.Start(ctx); err != nil {
			logger.Error("WebTransport server failed", "error", err)
			os.Exit(1)
		}
	}()

	httpServer := relay.NewHTTPServer(cfg.Relay, hub, handler, tokens, msgLog, logger)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	checker := relay.NewHeartbeatChecker(hub, handler,
		cfg.Relay.HeartbeatTimeout, cfg.Relay.HeartbeatCheckInterval, logger)
	go checker.Start(ctx)

	logger.Info("Relay started",
		"addr", cfg.Relay.Addr,
		"http_addr", cfg.Relay.HTTPAddr,
		"node_id", nodeId)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down relay...")
	cancel()
	_ = httpServer.Shutdown(context.Background())
	wtServer.Shutdown()
	logger.Info("Relay stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
