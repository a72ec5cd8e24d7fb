package connection

import (
	"sync"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// EventListener 通道事件监听器
// 监听器通过 Manager 显式注册/注销；事件在单一读取协程中按到达顺序逐个派发
type EventListener interface {
	OnConnectionStatusChanged(connected bool)
	OnReceiveMessage(msg *model.Message)
	OnNewConversation(conv *model.Conversation)
	OnConversationUpdated(conv *model.Conversation)
	OnMessageStatusChanged(change *proto.StatusChange)
	OnUserRegistered(userId int64)
	OnJoinedConversation(conversationId int64)
	OnLeftConversation(conversationId int64)
	OnUserTyping(ev *proto.TypingEvent)
	OnPresenceChanged(ev *proto.PresenceEvent)
}

// BaseListener EventListener 的空实现，按需覆盖
type BaseListener struct{}

func (BaseListener) OnConnectionStatusChanged(bool)             {}
func (BaseListener) OnReceiveMessage(*model.Message)            {}
func (BaseListener) OnNewConversation(*model.Conversation)      {}
func (BaseListener) OnConversationUpdated(*model.Conversation)  {}
func (BaseListener) OnMessageStatusChanged(*proto.StatusChange) {}
func (BaseListener) OnUserRegistered(int64)                     {}
func (BaseListener) OnJoinedConversation(int64)                 {}
func (BaseListener) OnLeftConversation(int64)                   {}
func (BaseListener) OnUserTyping(*proto.TypingEvent)            {}
func (BaseListener) OnPresenceChanged(*proto.PresenceEvent)     {}

// listenerRegistry 监听器注册表
// 派发时取稳定快照，注册/注销不会与派发互相竞争
type listenerRegistry struct {
	mu        sync.RWMutex
	listeners []EventListener
}

func (r *listenerRegistry) Add(l EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if existing == l {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

func (r *listenerRegistry) Remove(l EventListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if existing == l {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *listenerRegistry) Snapshot() []EventListener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]EventListener, len(r.listeners))
	copy(snapshot, r.listeners)
	return snapshot
}
