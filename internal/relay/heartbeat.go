package relay

import (
	"context"
	"log/slog"
	"time"
)

// HeartbeatChecker 心跳超时检测器，超时连接走统一的断开清理
type HeartbeatChecker struct {
	hub           *Hub
	handler       *Handler
	timeout       time.Duration
	checkInterval time.Duration
	logger        *slog.Logger
}

func NewHeartbeatChecker(hub *Hub, handler *Handler, timeout, checkInterval time.Duration, logger *slog.Logger) *HeartbeatChecker {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HeartbeatChecker{
		hub:           hub,
		handler:       handler,
		timeout:       timeout,
		checkInterval: checkInterval,
		logger:        logger,
	}
}

// Start 启动心跳检测（阻塞，应在 goroutine 中调用）
func (h *HeartbeatChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()

	h.logger.Info("Heartbeat checker started",
		"timeout", h.timeout,
		"check_interval", h.checkInterval)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat checker stopped")
			return
		case <-ticker.C:
			h.checkConnections(ctx)
		}
	}
}

func (h *HeartbeatChecker) checkConnections(ctx context.Context) {
	conns := h.hub.AllConns()
	now := time.Now()
	timeoutCount := 0

	for _, conn := range conns {
		lastActive := conn.LastActive()
		if now.Sub(lastActive) > h.timeout {
			timeoutCount++
			h.logger.Debug("Connection heartbeat timeout",
				"connId", conn.ID(),
				"userId", conn.UserID(),
				"lastActive", lastActive,
				"timeout", h.timeout)

			h.handler.Disconnected(ctx, conn)
		}
	}

	if timeoutCount > 0 {
		h.logger.Info("Heartbeat check completed",
			"total", len(conns),
			"timeout", timeoutCount)
	}
}
