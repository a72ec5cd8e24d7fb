package reconcile

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// DefaultScrollDelay 滚动到底部回调的防抖间隔
const DefaultScrollDelay = 100 * time.Millisecond

// Store 按会话维护的有序消息列表
// 入站事件在单一事件流上逐个到达，但本地乐观写入发生在事件流之外，
// 因此所有修改都在互斥锁内通过幂等合并完成
type Store struct {
	logger      *slog.Logger
	onScroll    func(conversationId int64)
	scrollDelay time.Duration

	mu            sync.Mutex
	conversations map[int64][]*model.Message
	watched       map[int64]bool
	scrollTimer   *time.Timer
	scrollPending map[int64]bool
	closed        bool
}

// StoreOption Store 可选参数
type StoreOption func(*Store)

// WithScrollCallback 设置插入成功后的防抖滚动回调
func WithScrollCallback(fn func(conversationId int64)) StoreOption {
	return func(s *Store) {
		s.onScroll = fn
	}
}

// WithScrollDelay 覆盖防抖间隔
func WithScrollDelay(d time.Duration) StoreOption {
	return func(s *Store) {
		s.scrollDelay = d
	}
}

// NewStore 创建消息存储
func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger:        logger,
		scrollDelay:   DefaultScrollDelay,
		conversations: make(map[int64][]*model.Message),
		watched:       make(map[int64]bool),
		scrollPending: make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch 开始关注某个会话的入站事件
func (s *Store) Watch(conversationId int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[conversationId] = true
}

// Unwatch 停止关注某个会话
// 已有消息保留在内存中，只是不再接收新事件
func (s *Store) Unwatch(conversationId int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, conversationId)
}

// Delete 删除会话及其全部消息（仅会话删除时调用）
func (s *Store) Delete(conversationId int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, conversationId)
	delete(s.conversations, conversationId)
}

// Apply 合并一条入站消息
// 不关注的会话直接忽略；合并成功后调度防抖滚动
func (s *Store) Apply(msg *model.Message) bool {
	if msg == nil {
		return false
	}

	s.mu.Lock()
	if !s.watched[msg.ConversationId] {
		s.mu.Unlock()
		return false
	}

	merged, changed := Merge(s.conversations[msg.ConversationId], msg)
	if changed {
		s.conversations[msg.ConversationId] = merged
		s.scheduleScrollLocked(msg.ConversationId)
	}
	s.mu.Unlock()
	return changed
}

// AppendLocal 追加一条本地乐观消息
// 发送即渲染，不等网络；同一 LocalId 重复追加是无害的
func (s *Store) AppendLocal(msg *model.Message) {
	if msg == nil || msg.LocalId == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.watched[msg.ConversationId] = true
	list := s.conversations[msg.ConversationId]
	for _, m := range list {
		if m.LocalId != "" && m.LocalId == msg.LocalId {
			return
		}
	}

	list = append(list, msg)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	s.conversations[msg.ConversationId] = list
	s.scheduleScrollLocked(msg.ConversationId)
}

// ConfirmLocal 将乐观条目升级为服务端已确认的消息
// 如果回显先一步通过通道到达并吸收了乐观条目，这里会找不到
// LocalId，属于正常情况
func (s *Store) ConfirmLocal(conversationId int64, localId string, confirmed *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.conversations[conversationId]
	for _, m := range list {
		if m.LocalId == localId {
			m.Id = confirmed.Id
			m.LocalId = ""
			m.Status = confirmed.Status
			if !confirmed.CreatedAt.IsZero() {
				m.CreatedAt = confirmed.CreatedAt
			}
			sort.SliceStable(list, func(i, j int) bool {
				return list[i].CreatedAt.Before(list[j].CreatedAt)
			})
			return true
		}
	}
	return false
}

// MarkFailed 将乐观条目标记为发送失败
func (s *Store) MarkFailed(conversationId int64, localId string) bool {
	return s.SetLocalStatus(conversationId, localId, model.MessageStatusFailed)
}

// SetLocalStatus 按 LocalId 更新乐观条目状态（发送重试时回到 sending）
func (s *Store) SetLocalStatus(conversationId int64, localId string, status model.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.conversations[conversationId] {
		if m.LocalId == localId {
			m.Status = status
			return true
		}
	}
	return false
}

// ApplyStatus 按 Id 就地更新消息状态
// 只做状态/已读时间变更，绝不重排或去重
func (s *Store) ApplyStatus(change *proto.StatusChange) bool {
	if change == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, list := range s.conversations {
		for _, m := range list {
			if m.Id == change.MessageId && m.Persisted() {
				m.Status = change.Status
				if change.ReadAt != nil {
					m.ReadAt = change.ReadAt
				} else if change.Status == model.MessageStatusRead && m.ReadAt == nil {
					now := time.Now()
					m.ReadAt = &now
				}
				return true
			}
		}
	}
	return false
}

// LocalMessage 按 LocalId 查找乐观消息，返回拷贝
func (s *Store) LocalMessage(conversationId int64, localId string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.conversations[conversationId] {
		if m.LocalId == localId {
			return m.Clone()
		}
	}
	return nil
}

// Messages 返回某会话的消息列表快照
func (s *Store) Messages(conversationId int64) []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.conversations[conversationId]
	out := make([]*model.Message, len(list))
	copy(out, list)
	return out
}

// Close 停止防抖定时器，之后不再触发滚动回调
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.scrollTimer != nil {
		s.scrollTimer.Stop()
		s.scrollTimer = nil
	}
}

// scheduleScrollLocked 调度防抖滚动回调，调用方持有锁
func (s *Store) scheduleScrollLocked(conversationId int64) {
	if s.onScroll == nil || s.closed {
		return
	}

	s.scrollPending[conversationId] = true
	if s.scrollTimer != nil {
		s.scrollTimer.Stop()
	}
	s.scrollTimer = time.AfterFunc(s.scrollDelay, s.fireScroll)
}

func (s *Store) fireScroll() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	pending := make([]int64, 0, len(s.scrollPending))
	for id := range s.scrollPending {
		pending = append(pending, id)
	}
	s.scrollPending = make(map[int64]bool)
	s.mu.Unlock()

	for _, id := range pending {
		s.onScroll(id)
	}
}
