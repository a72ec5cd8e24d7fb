package relay

import (
	"sync"

	"sudooom.im.client/proto"
)

// Hub 管理所有连接与会话成员关系
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	userConns map[int64]map[string]*Conn // userId -> connId -> Conn
	members   map[int64]map[string]*Conn // conversationId -> connId -> Conn
	connConvs map[string]map[int64]bool  // connId -> 已加入的会话
}

func NewHub() *Hub {
	return &Hub{
		conns:     make(map[string]*Conn),
		userConns: make(map[int64]map[string]*Conn),
		members:   make(map[int64]map[string]*Conn),
		connConvs: make(map[string]map[int64]bool),
	}
}

func (h *Hub) Add(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

func (h *Hub) Remove(connId string) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connId]
	if !ok {
		return nil
	}

	delete(h.conns, connId)

	if userId := conn.UserID(); userId > 0 {
		if userConns, ok := h.userConns[userId]; ok {
			delete(userConns, connId)
			if len(userConns) == 0 {
				delete(h.userConns, userId)
			}
		}
	}

	// 清理会话成员关系
	for convId := range h.connConvs[connId] {
		if members, ok := h.members[convId]; ok {
			delete(members, connId)
			if len(members) == 0 {
				delete(h.members, convId)
			}
		}
	}
	delete(h.connConvs, connId)

	return conn
}

func (h *Hub) Get(connId string) *Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[connId]
}

func (h *Hub) BindUser(connId string, userId int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connId]
	if !ok {
		return
	}

	if _, ok := h.userConns[userId]; !ok {
		h.userConns[userId] = make(map[string]*Conn)
	}
	h.userConns[userId][connId] = conn
}

// Join 将连接加入某个会话（幂等）
func (h *Hub) Join(connId string, conversationId int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.conns[connId]
	if !ok {
		return
	}

	if _, ok := h.members[conversationId]; !ok {
		h.members[conversationId] = make(map[string]*Conn)
	}
	h.members[conversationId][connId] = conn

	if _, ok := h.connConvs[connId]; !ok {
		h.connConvs[connId] = make(map[int64]bool)
	}
	h.connConvs[connId][conversationId] = true
}

// Leave 将连接移出某个会话（幂等）
func (h *Hub) Leave(connId string, conversationId int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.members[conversationId]; ok {
		delete(members, connId)
		if len(members) == 0 {
			delete(h.members, conversationId)
		}
	}
	if convs, ok := h.connConvs[connId]; ok {
		delete(convs, conversationId)
	}
}

// SendToConversation 向会话全部成员扇出一帧，except 指定的连接除外
// 返回实际送达的连接数
func (h *Hub) SendToConversation(conversationId int64, f *proto.Frame, except string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id, conn := range h.members[conversationId] {
		if id == except {
			continue
		}
		if err := conn.Send(f); err == nil {
			sent++
		}
	}
	return sent
}

// SendToUser 向某个用户的全部连接发送一帧
func (h *Hub) SendToUser(userId int64, f *proto.Frame) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, conn := range h.userConns[userId] {
		if err := conn.Send(f); err == nil {
			sent++
		}
	}
	return sent
}

// Broadcast 向全部连接广播一帧，except 指定的连接除外
func (h *Hub) Broadcast(f *proto.Frame, except string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, conn := range h.conns {
		if id == except {
			continue
		}
		conn.Send(f)
	}
}

// UserConnCount 某个用户当前的连接数
func (h *Hub) UserConnCount(userId int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConns[userId])
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// AllConns 返回所有连接（用于心跳超时检测）
func (h *Hub) AllConns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}
