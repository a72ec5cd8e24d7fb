package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sudooom.im.client/api"
	"sudooom.im.client/auth"
	"sudooom.im.client/config"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// maxPollWait 单次轮询最长挂起时间
const maxPollWait = 30 * time.Second

// HTTPServer 承载降级传输（SSE、长轮询）、消息 REST API 与健康检查
type HTTPServer struct {
	cfg     config.RelayConfig
	hub     *Hub
	handler *Handler
	tokens  *auth.Service
	msgLog  *MessageLog
	logger  *slog.Logger
	srv     *http.Server
}

func NewHTTPServer(cfg config.RelayConfig, hub *Hub, handler *Handler, tokens *auth.Service, msgLog *MessageLog, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		cfg:     cfg,
		hub:     hub,
		handler: handler,
		tokens:  tokens,
		msgLog:  msgLog,
		logger:  logger,
	}
}

// Routes 返回完整路由表
func (s *HTTPServer) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /poll", s.handlePoll)
	mux.HandleFunc("POST /invoke", s.handleInvoke)
	mux.HandleFunc("POST /messages", s.handleSendMessage)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleHistory)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleHealth)
	return mux
}

// Start 启动 HTTP 服务器（阻塞）
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:    s.cfg.HTTPAddr,
		Handler: s.Routes(),
	}

	s.logger.Info("HTTP server starting", "addr", s.cfg.HTTPAddr)
	return s.srv.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// authorize 校验 Bearer token，失败时写入 401
func (s *HTTPServer) authorize(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return nil, false
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return nil, false
	}
	return claims, true
}

// handleEvents SSE 下行推流
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	cid := r.URL.Query().Get("cid")
	if cid == "" {
		http.Error(w, "missing cid", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	conn := newConnWithId(cid, model.TransportSSE)
	s.hub.Add(conn)
	s.logger.Info("New SSE session", "connId", cid)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	defer func() {
		s.handler.Disconnected(r.Context(), conn)
		s.logger.Info("SSE session closed", "connId", cid, "userId", conn.UserID())
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case f := <-conn.Outbox():
			data, err := json.Marshal(f.Text())
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handlePoll 长轮询下行。首次请求（wait=0）建立连接，
// 之后每次请求挂起直到有帧或到达 wait 上限，批量返回
func (s *HTTPServer) handlePoll(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	cid := r.URL.Query().Get("cid")
	if cid == "" {
		http.Error(w, "missing cid", http.StatusBadRequest)
		return
	}

	conn := s.hub.Get(cid)
	if conn == nil {
		conn = newConnWithId(cid, model.TransportLongPoll)
		s.hub.Add(conn)
		s.logger.Info("New long-poll session", "connId", cid)
	}
	conn.Touch()

	wait := time.Duration(0)
	if v := r.URL.Query().Get("wait"); v != "" {
		secs, err := strconv.Atoi(v)
		if err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}
	if wait > maxPollWait {
		wait = maxPollWait
	}

	frames := s.collectFrames(r.Context(), conn, wait)
	writeJSON(w, http.StatusOK, frames)
}

// collectFrames 取出当前积压的帧；没有积压且 wait > 0 时，
// 挂起等待首帧再把同批积压一并带走
func (s *HTTPServer) collectFrames(ctx context.Context, conn *Conn, wait time.Duration) []*proto.TextFrame {
	frames := make([]*proto.TextFrame, 0, 4)

	drain := func() {
		for {
			select {
			case f := <-conn.Outbox():
				frames = append(frames, f.Text())
			default:
				return
			}
		}
	}

	drain()
	if len(frames) > 0 || wait <= 0 {
		return frames
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case f := <-conn.Outbox():
		frames = append(frames, f.Text())
		drain()
	case <-timer.C:
	case <-ctx.Done():
	case <-conn.Done():
	}
	return frames
}

// handleInvoke SSE 与长轮询传输的上行通道
func (s *HTTPServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}
	cid := r.URL.Query().Get("cid")
	conn := s.hub.Get(cid)
	if conn == nil {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}

	var tf proto.TextFrame
	if err := json.NewDecoder(r.Body).Decode(&tf); err != nil {
		http.Error(w, "invalid frame", http.StatusBadRequest)
		return
	}

	s.handler.HandleFrame(r.Context(), conn, tf.Frame())
	w.WriteHeader(http.StatusOK)
}

// handleSendMessage 消息持久化入口，发送方取自 token
func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req api.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ConversationId <= 0 || req.Content == "" {
		http.Error(w, "conversationId and content required", http.StatusBadRequest)
		return
	}

	stored := s.msgLog.Append(&model.Message{
		SenderId:       claims.UserID,
		ConversationId: req.ConversationId,
		Content:        req.Content,
		MsgType:        req.MsgType,
	})

	s.logger.Debug("Message persisted",
		"messageId", stored.Id,
		"conversationId", stored.ConversationId,
		"senderId", stored.SenderId)

	writeJSON(w, http.StatusOK, stored)
}

// handleHistory 按游标倒序分页拉取历史
func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r); !ok {
		return
	}

	conversationId, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || conversationId <= 0 {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	messages, next := s.msgLog.History(conversationId, r.URL.Query().Get("cursor"), limit)
	writeJSON(w, http.StatusOK, &api.HistoryPage{Messages: messages, NextCursor: next})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
