package chat

import (
	"time"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// DefaultTypingDebounce 输入停顿多久后发送 StopTyping
const DefaultTypingDebounce = 2 * time.Second

type typingState struct {
	timer  *time.Timer
	active bool
}

// InputChanged 输入框内容变化
// 每次按键重置防抖定时器；首次按键发送一次 StartTyping；
// 定时器到期（不再输入）或内容清空时发送 StopTyping。
// 两者都是尽力而为的通道调用，未连通时静默丢弃
func (s *Service) InputChanged(conversationId int64, text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	st := s.typing[conversationId]
	if st == nil {
		st = &typingState{}
		s.typing[conversationId] = st
	}

	if text == "" {
		s.stopTypingLocked(conversationId, st)
		s.mu.Unlock()
		return
	}

	if !st.active {
		st.active = true
		go s.signalTyping(conversationId, true)
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(s.typingDelay, func() {
		s.typingExpired(conversationId)
	})
	s.mu.Unlock()
}

// stopTyping 主动结束输入状态（发送消息、离开会话时）
func (s *Service) stopTyping(conversationId int64) {
	s.mu.Lock()
	if st := s.typing[conversationId]; st != nil {
		s.stopTypingLocked(conversationId, st)
	}
	s.mu.Unlock()
}

// stopTypingLocked 调用方持有锁
func (s *Service) stopTypingLocked(conversationId int64, st *typingState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	if st.active {
		st.active = false
		go s.signalTyping(conversationId, false)
	}
}

func (s *Service) typingExpired(conversationId int64) {
	s.mu.Lock()
	if st := s.typing[conversationId]; st != nil {
		s.stopTypingLocked(conversationId, st)
	}
	s.mu.Unlock()
}

func (s *Service) signalTyping(conversationId int64, typing bool) {
	target := proto.TargetStopTyping
	if typing {
		target = proto.TargetStartTyping
	}

	if s.mgr.State().State != model.StateConnected {
		return
	}

	inv := &proto.Invocation{
		Target:         target,
		UserId:         s.selfId,
		ConversationId: conversationId,
	}
	if err := s.mgr.Invoke(inv); err != nil {
		s.logger.Debug("Typing signal dropped", "target", target, "error", err)
	}
}
