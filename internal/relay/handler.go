package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"sudooom.im.client/auth"
	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// Handler 处理客户端上行帧并驱动事件扇出
type Handler struct {
	hub      *Hub
	tokens   *auth.Service
	presence PresenceStore
	msgLog   *MessageLog
	bridge   *Bridge // 可为 nil，单节点模式
	logger   *slog.Logger
}

func NewHandler(hub *Hub, tokens *auth.Service, presence PresenceStore, msgLog *MessageLog, bridge *Bridge, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		tokens:   tokens,
		presence: presence,
		msgLog:   msgLog,
		bridge:   bridge,
		logger:   logger,
	}
}

// HandleFrame 根据帧类型分发处理
func (h *Handler) HandleFrame(ctx context.Context, conn *Conn, f *proto.Frame) {
	conn.Touch()

	switch f.Type {
	case proto.FrameHeartbeat:
		h.handleHeartbeat(ctx, conn)
	case proto.FrameRegister:
		h.handleRegister(ctx, conn, f.Body)
	case proto.FrameInvocation:
		h.handleInvocation(ctx, conn, f.Body)
	default:
		h.logger.Warn("Unknown frame type", "frameType", f.Type, "connId", conn.ID())
	}
}

// handleHeartbeat 心跳回显并续期在线状态
func (h *Handler) handleHeartbeat(ctx context.Context, conn *Conn) {
	if userId := conn.UserID(); userId > 0 {
		if err := h.presence.Refresh(ctx, userId, conn.ID()); err != nil {
			h.logger.Warn("Failed to refresh presence", "userId", userId, "error", err)
		}
	}
	if err := conn.Send(&proto.Frame{Type: proto.FrameHeartbeat}); err != nil {
		h.logger.Debug("Failed to echo heartbeat", "connId", conn.ID(), "error", err)
	}
}

// handleRegister 校验 token 并绑定用户
func (h *Handler) handleRegister(ctx context.Context, conn *Conn, body []byte) {
	var req proto.RegisterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Warn("Invalid register request", "connId", conn.ID(), "error", err)
		h.sendRegisterAck(conn, apperrors.CodeInternalError, "invalid register request", 0)
		return
	}

	claims, err := h.tokens.Validate(req.Token)
	if err != nil {
		h.logger.Warn("Token validation failed",
			"connId", conn.ID(),
			"userId", req.UserId,
			"error", err)
		h.sendRegisterAck(conn, apperrors.GetCode(err), apperrors.GetMessage(err), 0)
		return
	}
	if claims.UserID != req.UserId {
		h.sendRegisterAck(conn, apperrors.CodeTokenInvalid, "token does not match user", 0)
		return
	}

	conn.BindUser(req.UserId, req.Platform)
	h.hub.BindUser(conn.ID(), req.UserId)

	if err := h.presence.Register(ctx, req.UserId, conn.ID(), req.Platform); err != nil {
		h.logger.Warn("Failed to register presence", "userId", req.UserId, "error", err)
	}

	h.sendRegisterAck(conn, apperrors.CodeSuccess, "", req.UserId)
	h.logger.Info("User registered",
		"connId", conn.ID(),
		"userId", req.UserId,
		"platform", req.Platform,
		"transport", conn.Kind())

	online := &proto.Event{PresenceChanged: &proto.PresenceEvent{UserId: req.UserId, Online: true}}
	h.hub.Broadcast(eventFrame(online), conn.ID())
	h.publishBridge(0, 0, online)

	// 注册确认事件只发给本连接
	h.sendEvent(conn, &proto.Event{UserRegistered: &proto.UserRef{UserId: req.UserId}})
}

// handleInvocation 处理客户端远程调用
func (h *Handler) handleInvocation(ctx context.Context, conn *Conn, body []byte) {
	var inv proto.Invocation
	if err := json.Unmarshal(body, &inv); err != nil {
		h.logger.Warn("Invalid invocation", "connId", conn.ID(), "error", err)
		return
	}

	if conn.UserID() == 0 {
		h.logger.Warn("Invocation before registration dropped",
			"connId", conn.ID(),
			"target", inv.Target)
		return
	}

	switch inv.Target {
	case proto.TargetJoinConversation:
		h.hub.Join(conn.ID(), inv.ConversationId)
		h.sendEvent(conn, &proto.Event{
			JoinedConversation: &proto.ConversationRef{ConversationId: inv.ConversationId},
		})
	case proto.TargetLeaveConversation:
		h.hub.Leave(conn.ID(), inv.ConversationId)
		h.sendEvent(conn, &proto.Event{
			LeftConversation: &proto.ConversationRef{ConversationId: inv.ConversationId},
		})
	case proto.TargetStartTyping:
		h.fanOutTyping(conn, inv.ConversationId, true)
	case proto.TargetStopTyping:
		h.fanOutTyping(conn, inv.ConversationId, false)
	case proto.TargetBroadcastMessage:
		h.handleBroadcast(conn, &inv)
	default:
		h.logger.Warn("Unknown invocation target", "target", inv.Target, "connId", conn.ID())
	}
}

func (h *Handler) fanOutTyping(conn *Conn, conversationId int64, typing bool) {
	ev := &proto.Event{UserTyping: &proto.TypingEvent{
		ConversationId: conversationId,
		UserId:         conn.UserID(),
		Typing:         typing,
	}}
	h.hub.SendToConversation(conversationId, eventFrame(ev), conn.ID())
	h.publishBridge(conversationId, 0, ev)
}

// handleBroadcast 把已持久化的消息推给会话内其他成员，
// 至少送达一个在线成员时给发送方回推 delivered 状态
func (h *Handler) handleBroadcast(conn *Conn, inv *proto.Invocation) {
	msg := inv.Message
	if msg == nil || !msg.Persisted() {
		h.logger.Warn("Broadcast without persisted message dropped",
			"connId", conn.ID(),
			"conversationId", inv.ConversationId)
		return
	}

	ev := &proto.Event{ReceiveMessage: msg}
	sent := h.hub.SendToConversation(msg.ConversationId, eventFrame(ev), conn.ID())
	h.publishBridge(msg.ConversationId, 0, ev)

	if sent > 0 {
		h.msgLog.UpdateStatus(msg.ConversationId, msg.Id, model.MessageStatusDelivered, nil)
		h.sendEvent(conn, &proto.Event{MessageStatusChanged: &proto.StatusChange{
			MessageId: msg.Id,
			Status:    model.MessageStatusDelivered,
		}})
	}
}

// Disconnected 连接断开后的清理
func (h *Handler) Disconnected(ctx context.Context, conn *Conn) {
	h.hub.Remove(conn.ID())
	conn.Close()

	userId := conn.UserID()
	if userId == 0 {
		return
	}
	if err := h.presence.Unregister(ctx, userId, conn.ID()); err != nil {
		h.logger.Warn("Failed to unregister presence", "userId", userId, "error", err)
	}

	// 同一用户还有其他连接时不广播下线
	if h.hub.UserConnCount(userId) > 0 {
		return
	}
	offline := &proto.Event{PresenceChanged: &proto.PresenceEvent{UserId: userId, Online: false}}
	h.hub.Broadcast(eventFrame(offline), conn.ID())
	h.publishBridge(0, 0, offline)
}

// HandleBridgeEvent 投递其他节点转发来的事件
func (h *Handler) HandleBridgeEvent(conversationId, userId int64, ev *proto.Event) {
	f := eventFrame(ev)
	switch {
	case userId > 0:
		h.hub.SendToUser(userId, f)
	case conversationId > 0:
		h.hub.SendToConversation(conversationId, f, "")
	default:
		h.hub.Broadcast(f, "")
	}
}

func (h *Handler) sendRegisterAck(conn *Conn, code int, message string, userId int64) {
	body, err := json.Marshal(&proto.RegisterAck{Code: code, Message: message, UserId: userId})
	if err != nil {
		return
	}
	if err := conn.Send(&proto.Frame{Type: proto.FrameRegisterAck, Body: body}); err != nil {
		h.logger.Warn("Failed to send register ack", "connId", conn.ID(), "error", err)
	}
}

func (h *Handler) sendEvent(conn *Conn, ev *proto.Event) {
	if err := conn.Send(eventFrame(ev)); err != nil {
		h.logger.Debug("Failed to send event", "connId", conn.ID(), "error", err)
	}
}

func (h *Handler) publishBridge(conversationId, userId int64, ev *proto.Event) {
	if h.bridge != nil {
		h.bridge.Publish(conversationId, userId, ev)
	}
}

// eventFrame 把事件编码为下行帧，事件结构自身可序列化
func eventFrame(ev *proto.Event) *proto.Frame {
	body, _ := json.Marshal(ev)
	return &proto.Frame{Type: proto.FrameEvent, Body: body}
}
