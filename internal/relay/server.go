package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"sudooom.im.client/config"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// Server WebTransport 接入服务器
type Server struct {
	cfg      config.RelayConfig
	hub      *Hub
	handler  *Handler
	logger   *slog.Logger
	wtServer *webtransport.Server
	wg       sync.WaitGroup
}

func NewServer(cfg config.RelayConfig, hub *Hub, handler *Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		logger:  logger,
	}
}

// Start 启动 WebTransport 服务器（阻塞）
func (s *Server) Start(ctx context.Context) error {
	tlsConfig, err := s.loadTLSConfig()
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 15 * time.Second,
		EnableDatagrams: true, // WebTransport 需要启用数据报支持
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: func(r *http.Request) bool {
			// TODO: 生产环境应该检查 Origin
			return true
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webtransport", func(w http.ResponseWriter, r *http.Request) {
		session, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, session)
	})

	s.wtServer.H3.Handler = mux

	s.logger.Info("WebTransport server starting", "addr", s.cfg.Addr)
	return s.wtServer.ListenAndServe()
}

// handleSession 处理单个客户端会话。
// 客户端打开一个双向流并在其上完成注册与后续全部通信。
func (s *Server) handleSession(ctx context.Context, session *webtransport.Session) {
	defer s.wg.Done()

	stream, err := session.AcceptStream(ctx)
	if err != nil {
		return
	}

	conn := NewConn(model.TransportWebTransport)
	s.hub.Add(conn)
	s.logger.Info("New WebTransport session", "connId", conn.ID())

	defer func() {
		s.handler.Disconnected(ctx, conn)
		_ = session.CloseWithError(0, "")
		s.logger.Info("WebTransport session closed", "connId", conn.ID(), "userId", conn.UserID())
	}()

	// 下行写循环
	go func() {
		for {
			select {
			case f := <-conn.Outbox():
				if err := proto.WriteFrame(stream, f); err != nil {
					s.logger.Debug("Failed to write frame", "connId", conn.ID(), "error", err)
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// 上行读循环
	for {
		f, err := proto.ReadFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("Failed to read frame", "connId", conn.ID(), "error", err)
			}
			return
		}
		s.handler.HandleFrame(ctx, conn, f)
	}
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded TLS certificate",
			"cert_file", s.cfg.CertFile,
			"key_file", s.cfg.KeyFile)
		return tlsConfigFromCert(cert), nil
	}

	// 开发环境：生成自签名证书
	s.logger.Warn("No TLS certificate configured, using self-signed certificate")
	return generateSelfSignedTLSConfig(s.logger)
}

func (s *Server) Shutdown() {
	if s.wtServer != nil {
		s.wtServer.Close()
	}
	s.wg.Wait()
}
