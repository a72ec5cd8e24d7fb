package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
	"sudooom.im.client/transport"
)

// Opener 通道建立入口，由传输协商器实现
type Opener interface {
	Open(ctx context.Context, endpoint string, creds transport.Credentials) (transport.Channel, error)
}

// Options Manager 可调参数
type Options struct {
	HeartbeatInterval time.Duration   // 心跳间隔，默认 30s
	HandshakeTimeout  time.Duration   // 单次注册握手等待时限，默认 5s
	HandshakeRetries  int             // 注册握手重试次数（线性退避），默认 3
	HandshakeBackoff  time.Duration   // 线性退避步长，默认 1s
	BackoffSchedule   []time.Duration // 重连退避计划
	MaxReconnects     int             // 重连次数上限，超出后只能手动重连，默认 10
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.HandshakeRetries <= 0 {
		o.HandshakeRetries = 3
	}
	if o.HandshakeBackoff <= 0 {
		o.HandshakeBackoff = time.Second
	}
	if len(o.BackoffSchedule) == 0 {
		o.BackoffSchedule = DefaultBackoffSchedule
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	return o
}

// Manager 通道生命周期管理器
// 每个已登录会话持有且仅持有一个 Manager 实例，显式构造并注入，
// 不依赖任何包级全局状态
//
// 状态机：
//
//	Disconnected --Start--> Connecting --成功--> Connected
//	Connected --被动断开--> Reconnecting --成功--> Connected
//	Reconnecting --超出重连上限--> Disconnected
type Manager struct {
	opener   Opener
	endpoint string
	creds    transport.Credentials
	opts     Options
	logger   *slog.Logger
	registry listenerRegistry

	mu         sync.Mutex
	state      model.ConnectionState
	attempts   int
	channel    transport.Channel
	sessCtx    context.Context
	sessCancel context.CancelFunc
	hbCancel   context.CancelFunc
	stopped    bool
}

// NewManager 创建连接管理器
func NewManager(opener Opener, endpoint string, creds transport.Credentials, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opener:   opener,
		endpoint: endpoint,
		creds:    creds,
		opts:     opts.withDefaults(),
		logger:   logger,
		state:    model.StateDisconnected,
	}
}

// AddListener 注册事件监听器
func (m *Manager) AddListener(l EventListener) {
	m.registry.Add(l)
}

// RemoveListener 注销事件监听器
func (m *Manager) RemoveListener(l EventListener) {
	m.registry.Remove(l)
}

// State 返回当前连接状态快照
func (m *Manager) State() model.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := model.ConnectionInfo{
		State:             m.state,
		ReconnectAttempts: m.attempts,
	}
	if m.channel != nil {
		info.Transport = m.channel.Kind()
	}
	return info
}

// Start 打开通道并完成注册握手
// 成功后进入 Connected；失败回到 Disconnected 并返回错误，
// 调用方可再次调用 Start 手动重连
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != model.StateDisconnected {
		m.mu.Unlock()
		return fmt.Errorf("connection manager already started (state %s)", m.state)
	}
	m.stopped = false
	m.attempts = 0
	sessCtx, sessCancel := context.WithCancel(ctx)
	m.sessCtx = sessCtx
	m.sessCancel = sessCancel
	m.state = model.StateConnecting
	m.mu.Unlock()

	if m.creds.TokenExpired() {
		m.logger.Warn("Session token already expired before dialing", "userId", m.creds.UserId)
	}

	ch, err := m.openAndRegister(sessCtx)
	if err != nil {
		sessCancel()
		m.mu.Lock()
		m.state = model.StateDisconnected
		m.sessCancel = nil
		m.mu.Unlock()
		return err
	}

	if !m.attachChannel(ch) {
		// Stop 赶在握手完成与绑定之间执行
		return apperrors.ErrConnectionClosed
	}
	return nil
}

// Stop 停止管理器
// 从任意状态调用都安全：取消全部定时器（心跳、待执行的重连）、
// 关闭通道、重置计数器；可重复调用
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped && m.state == model.StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	if m.sessCancel != nil {
		m.sessCancel()
		m.sessCancel = nil
	}
	ch := m.channel
	m.channel = nil
	m.attempts = 0
	wasConnected := m.state == model.StateConnected
	m.state = model.StateDisconnected
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if wasConnected {
		m.notifyStatus(false)
	}
	m.logger.Info("Connection manager stopped")
}

// Invoke 在已连通的通道上发起远程调用（即发即弃）
func (m *Manager) Invoke(inv *proto.Invocation) error {
	m.mu.Lock()
	ch := m.channel
	state := m.state
	m.mu.Unlock()

	if state != model.StateConnected || ch == nil {
		return apperrors.ErrNotConnected
	}

	body, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	if err := ch.Send(&proto.Frame{Type: proto.FrameInvocation, Body: body}); err != nil {
		return apperrors.ErrInvokeFailed.Wrap(err)
	}
	return nil
}

// openAndRegister 协商传输并完成注册握手
func (m *Manager) openAndRegister(ctx context.Context) (transport.Channel, error) {
	ch, err := m.opener.Open(ctx, m.endpoint, m.creds)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < m.opts.HandshakeRetries; attempt++ {
		if attempt > 0 {
			// 线性退避：1 倍、2 倍步长...
			delay := time.Duration(attempt) * m.opts.HandshakeBackoff
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				ch.Close()
				return nil, ctx.Err()
			}
		}

		lastErr = m.register(ctx, ch)
		if lastErr == nil {
			return ch, nil
		}
		m.logger.Warn("Registration handshake attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	ch.Close()
	return nil, apperrors.ErrHandshakeFailed.Wrap(lastErr)
}

// register 发送注册请求并等待响应
// RegisterUser 是幂等调用，重连后重新执行也安全
func (m *Manager) register(ctx context.Context, ch transport.Channel) error {
	req := proto.RegisterRequest{
		UserId:   m.creds.UserId,
		Token:    m.creds.Token,
		DeviceId: m.creds.DeviceId,
		Platform: m.creds.Platform,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := ch.Send(&proto.Frame{Type: proto.FrameRegister, Body: body}); err != nil {
		return err
	}

	timer := time.NewTimer(m.opts.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("handshake timed out after %s", m.opts.HandshakeTimeout)
		case f, ok := <-ch.Receive():
			if !ok {
				return apperrors.ErrConnectionClosed
			}
			switch f.Type {
			case proto.FrameRegisterAck:
				var ack proto.RegisterAck
				if err := json.Unmarshal(f.Body, &ack); err != nil {
					return err
				}
				if ack.Code != apperrors.CodeSuccess {
					return apperrors.NewError(ack.Code, ack.Message)
				}
				return nil
			case proto.FrameEvent:
				// 握手期间到达的事件不丢弃，照常派发
				m.handleFrame(f)
			default:
				// 心跳等其他帧忽略
			}
		}
	}
}

// attachChannel 绑定新通道：置为已连接、启动心跳与读取循环
// Stop 可能在握手完成后并发执行，持锁重查 stopped；
// 竞态落败时关闭通道、不绑定，返回 false
func (m *Manager) attachChannel(ch transport.Channel) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		ch.Close()
		return false
	}
	m.channel = ch
	m.attempts = 0
	m.state = model.StateConnected
	hbCtx, hbCancel := context.WithCancel(m.sessCtx)
	m.hbCancel = hbCancel
	m.mu.Unlock()

	m.logger.Info("Channel connected", "transport", ch.Kind())
	m.notifyStatus(true)

	go m.heartbeatLoop(hbCtx, ch)
	go m.readLoop(ch)
	return true
}

// readLoop 单一有序事件流；Receive 关闭即视为被动断开
func (m *Manager) readLoop(ch transport.Channel) {
	for f := range ch.Receive() {
		m.handleFrame(f)
	}
	m.onChannelDown(ch)
}

// heartbeatLoop 保活心跳
// 心跳失败只记日志，不触发重连；传输层自身的断开事件才是权威信号
func (m *Manager) heartbeatLoop(ctx context.Context, ch transport.Channel) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Send(&proto.Frame{Type: proto.FrameHeartbeat}); err != nil {
				m.logger.Warn("Heartbeat send failed", "error", err)
			}
		}
	}
}

// onChannelDown 处理被动断开
func (m *Manager) onChannelDown(ch transport.Channel) {
	m.mu.Lock()
	if m.stopped || m.channel != ch {
		// 主动关闭或已被新通道替换
		m.mu.Unlock()
		return
	}
	if m.hbCancel != nil {
		m.hbCancel()
		m.hbCancel = nil
	}
	m.channel = nil
	m.state = model.StateReconnecting
	m.mu.Unlock()

	ch.Close()
	m.logger.Warn("Channel dropped, entering reconnect")
	m.notifyStatus(false)

	// 重连天然串行：重连期间 channel 为 nil，旧通道的关闭回调
	// 都会在上面的 m.channel != ch 处提前返回
	go m.reconnectLoop()
}

// reconnectLoop 带退避的自动重连
// 退避计划单调不减；超出次数上限后回到 Disconnected，只能手动重连
func (m *Manager) reconnectLoop() {
	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.attempts++
		attempt := m.attempts
		if attempt > m.opts.MaxReconnects {
			m.state = model.StateDisconnected
			m.mu.Unlock()
			m.logger.Error("Reconnect attempts exhausted, giving up",
				"max_reconnects", m.opts.MaxReconnects)
			return
		}
		delay := delayFor(m.opts.BackoffSchedule, attempt-1)
		ctx := m.sessCtx
		m.mu.Unlock()

		m.logger.Info("Scheduling reconnect attempt",
			"attempt", attempt,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		ch, err := m.openAndRegister(ctx)
		if err != nil {
			m.logger.Warn("Reconnect attempt failed",
				"attempt", attempt,
				"error", err)
			continue
		}

		// 竞态落败时 attachChannel 自行关闭通道
		m.attachChannel(ch)
		return
	}
}

// handleFrame 处理入站帧，在读取协程中按到达顺序逐个执行
func (m *Manager) handleFrame(f *proto.Frame) {
	switch f.Type {
	case proto.FrameEvent:
		var ev proto.Event
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			m.logger.Error("Failed to unmarshal event", "error", err)
			return
		}
		m.dispatchEvent(&ev)
	case proto.FrameHeartbeat:
		m.logger.Debug("Heartbeat echo received")
	default:
		m.logger.Debug("Ignoring unexpected frame", "type", f.Type)
	}
}

// dispatchEvent 将事件派发给全部监听器
func (m *Manager) dispatchEvent(ev *proto.Event) {
	for _, l := range m.registry.Snapshot() {
		switch {
		case ev.ReceiveMessage != nil:
			l.OnReceiveMessage(ev.ReceiveMessage)
		case ev.NewConversation != nil:
			l.OnNewConversation(ev.NewConversation)
		case ev.ConversationUpdated != nil:
			l.OnConversationUpdated(ev.ConversationUpdated)
		case ev.MessageStatusChanged != nil:
			l.OnMessageStatusChanged(ev.MessageStatusChanged)
		case ev.UserRegistered != nil:
			l.OnUserRegistered(ev.UserRegistered.UserId)
		case ev.JoinedConversation != nil:
			l.OnJoinedConversation(ev.JoinedConversation.ConversationId)
		case ev.LeftConversation != nil:
			l.OnLeftConversation(ev.LeftConversation.ConversationId)
		case ev.UserTyping != nil:
			l.OnUserTyping(ev.UserTyping)
		case ev.PresenceChanged != nil:
			l.OnPresenceChanged(ev.PresenceChanged)
		}
	}
}

// notifyStatus 通知连接状态变化（Connected 边界各触发一次）
func (m *Manager) notifyStatus(connected bool) {
	for _, l := range m.registry.Snapshot() {
		l.OnConnectionStatusChanged(connected)
	}
}
