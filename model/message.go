package model

import "time"

// MessageType 消息类型
type MessageType int

const (
	MessageTypeText    MessageType = 1 // 文本
	MessageTypeImage   MessageType = 2 // 图片
	MessageTypeVoice   MessageType = 3 // 语音
	MessageTypeBooking MessageType = 4 // 预约卡片
	MessageTypeSystem  MessageType = 5 // 系统消息
)

// MessageStatus 消息状态
type MessageStatus int

const (
	MessageStatusSending   MessageStatus = 0 // 本地已渲染，等待服务端确认
	MessageStatusSent      MessageStatus = 1 // 服务端已持久化
	MessageStatusDelivered MessageStatus = 2 // 已送达对端
	MessageStatusRead      MessageStatus = 3 // 对端已读
	MessageStatusFailed    MessageStatus = 4 // 持久化失败，可重试
)

// String 状态名称
func (s MessageStatus) String() string {
	switch s {
	case MessageStatusSending:
		return "sending"
	case MessageStatusSent:
		return "sent"
	case MessageStatusDelivered:
		return "delivered"
	case MessageStatusRead:
		return "read"
	case MessageStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message 消息实体
// 本地乐观消息只有 LocalId，服务端确认后才有 Id；
// 协调完成后所有渲染消息都持有服务端 Id
type Message struct {
	Id             int64         `json:"Id,omitempty"`      // 服务端分配，持久化前为 0
	LocalId        string        `json:"LocalId,omitempty"` // 客户端生成，确认后清空
	SenderId       int64         `json:"SenderId"`
	RecipientId    *int64        `json:"RecipientId,omitempty"` // 群聊为 nil
	ConversationId int64         `json:"ConversationId"`
	Content        string        `json:"Content"`
	MsgType        MessageType   `json:"MsgType"`
	Status         MessageStatus `json:"Status"`
	CreatedAt      time.Time     `json:"CreatedAt"`
	ReadAt         *time.Time    `json:"ReadAt,omitempty"`
}

// Persisted 是否已被服务端持久化
func (m *Message) Persisted() bool {
	return m.Id > 0
}

// Optimistic 是否为本地乐观消息
func (m *Message) Optimistic() bool {
	return m.Id == 0 && m.LocalId != ""
}

// Clone 返回消息的浅拷贝
func (m *Message) Clone() *Message {
	c := *m
	return &c
}
