package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.im.client/api"
	"sudooom.im.client/connection"
	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
	"sudooom.im.client/proto"
	"sudooom.im.client/reconcile"
)

// Service 聊天门面
// 组合连接管理器、消息存储与持久化 API：发送流水线、会话成员管理、
// 输入状态防抖都在这里。关闭会话界面只触发 Leave，不关闭共享通道；
// 通道本身由会话注销时的 Manager.Stop 负责
type Service struct {
	connection.BaseListener

	mgr        *connection.Manager
	membership *connection.Membership
	store      *reconcile.Store
	apiClient  *api.Client
	selfId     int64
	logger     *slog.Logger

	mu            sync.Mutex
	joined        map[int64]bool
	conversations map[int64]*model.Conversation
	typing        map[int64]*typingState
	typingDelay   time.Duration
	closed        bool
}

// NewService 创建聊天门面并注册为通道事件监听器
func NewService(mgr *connection.Manager, apiClient *api.Client, store *reconcile.Store, selfId int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		mgr:           mgr,
		membership:    connection.NewMembership(mgr, logger),
		store:         store,
		apiClient:     apiClient,
		selfId:        selfId,
		logger:        logger,
		joined:        make(map[int64]bool),
		conversations: make(map[int64]*model.Conversation),
		typing:        make(map[int64]*typingState),
		typingDelay:   DefaultTypingDebounce,
	}
	mgr.AddListener(s)
	return s
}

// Send 发送流水线：本地乐观渲染 -> REST 持久化 -> 尽力而为回显广播
// 持久化失败时消息进入 failed 状态，可通过 Retry 重发；不做静默自动重试
func (s *Service) Send(ctx context.Context, conversationId int64, content string, msgType model.MessageType) (*model.Message, error) {
	local := &model.Message{
		LocalId:        uuid.NewString(),
		SenderId:       s.selfId,
		ConversationId: conversationId,
		Content:        content,
		MsgType:        msgType,
		Status:         model.MessageStatusSending,
		CreatedAt:      time.Now(),
	}

	// 先渲染，不等网络
	s.store.AppendLocal(local)
	s.stopTyping(conversationId)

	return s.persist(ctx, local)
}

// Retry 重发一条失败的消息（相同内容重跑整个发送流水线）
func (s *Service) Retry(ctx context.Context, conversationId int64, localId string) (*model.Message, error) {
	msg := s.store.LocalMessage(conversationId, localId)
	if msg == nil {
		return nil, apperrors.ErrMessageNotFound
	}
	if msg.Status != model.MessageStatusFailed {
		return msg, nil
	}

	s.store.SetLocalStatus(conversationId, localId, model.MessageStatusSending)
	return s.persist(ctx, msg)
}

// persist 持久化并确认乐观条目
func (s *Service) persist(ctx context.Context, local *model.Message) (*model.Message, error) {
	persisted, err := s.apiClient.SendMessage(ctx, local.ConversationId, local.Content, local.MsgType)
	if err != nil {
		s.store.MarkFailed(local.ConversationId, local.LocalId)
		s.logger.Warn("Message persist failed",
			"conversation_id", local.ConversationId,
			"local_id", local.LocalId,
			"error", err)
		return s.store.LocalMessage(local.ConversationId, local.LocalId), err
	}

	confirmed := local.Clone()
	confirmed.Id = persisted.Id
	confirmed.LocalId = ""
	confirmed.Status = persisted.Status
	if confirmed.Status < model.MessageStatusSent {
		confirmed.Status = model.MessageStatusSent
	}
	if !persisted.CreatedAt.IsZero() {
		confirmed.CreatedAt = persisted.CreatedAt
	}
	s.store.ConfirmLocal(local.ConversationId, local.LocalId, confirmed)

	// 兼容垫片：中继不保证对已持久化消息做服务端扇出，这里补一次
	// 客户端侧广播。通道未连通时静默跳过，消息本身已经持久化，
	// 其他参与者最晚在刷新历史时拿到
	inv := &proto.Invocation{
		Target:         proto.TargetBroadcastMessage,
		UserId:         s.selfId,
		ConversationId: local.ConversationId,
		Message:        confirmed,
	}
	if err := s.mgr.Invoke(inv); err != nil {
		s.logger.Debug("Skipping realtime re-broadcast", "error", err)
	}

	return confirmed, nil
}

// JoinConversation 加入会话并开始接收其事件
func (s *Service) JoinConversation(conversationId int64) {
	s.store.Watch(conversationId)
	s.mu.Lock()
	s.joined[conversationId] = true
	s.mu.Unlock()
	s.membership.Join(conversationId)
}

// LeaveConversation 离开会话
// 只影响该会话的成员关系与事件过滤，共享通道保持打开
func (s *Service) LeaveConversation(conversationId int64) {
	s.mu.Lock()
	delete(s.joined, conversationId)
	s.mu.Unlock()
	s.membership.Leave(conversationId)
	s.store.Unwatch(conversationId)
	s.stopTyping(conversationId)
}

// LoadHistory 拉取一页历史消息并逐条合并
// 回显经由历史刷新到达时同样会被协调逻辑吸收
func (s *Service) LoadHistory(ctx context.Context, conversationId int64, cursor string, limit int) (*api.HistoryPage, error) {
	page, err := s.apiClient.FetchHistory(ctx, conversationId, cursor, limit)
	if err != nil {
		return nil, err
	}
	for _, msg := range page.Messages {
		s.store.Apply(msg)
	}
	return page, nil
}

// Messages 返回某会话的消息列表快照
func (s *Service) Messages(conversationId int64) []*model.Message {
	return s.store.Messages(conversationId)
}

// Conversation 返回已知的会话信息
func (s *Service) Conversation(conversationId int64) *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[conversationId]
}

// Close 注销监听器并停掉本地定时器
// 不关闭连接管理器本身
func (s *Service) Close() {
	s.mgr.RemoveListener(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, st := range s.typing {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	s.typing = make(map[int64]*typingState)
}

// ============== 通道事件 ==============

// OnConnectionStatusChanged 重连成功后重新加入已跟踪的会话
// 中继服务端不会跨连接记住加入关系
func (s *Service) OnConnectionStatusChanged(connected bool) {
	if !connected {
		return
	}

	s.mu.Lock()
	ids := make([]int64, 0, len(s.joined))
	for id := range s.joined {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	go func() {
		for _, id := range ids {
			s.membership.Join(id)
		}
	}()
}

func (s *Service) OnReceiveMessage(msg *model.Message) {
	s.store.Apply(msg)
}

func (s *Service) OnMessageStatusChanged(change *proto.StatusChange) {
	s.store.ApplyStatus(change)
}

func (s *Service) OnNewConversation(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.Id] = conv
}

func (s *Service) OnConversationUpdated(conv *model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.Id] = conv
	if conv.Status == model.ConversationStatusDeleted {
		delete(s.conversations, conv.Id)
		s.store.Delete(conv.Id)
	}
}
