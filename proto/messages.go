package proto

import (
	"time"

	"sudooom.im.client/model"
)

// ============== 上行消息 (Client -> Relay) ==============

// 远程调用目标
const (
	TargetRegisterUser      = "RegisterUser"
	TargetJoinConversation  = "JoinConversation"
	TargetLeaveConversation = "LeaveConversation"
	TargetStartTyping       = "StartTyping"
	TargetStopTyping        = "StopTyping"
	TargetBroadcastMessage  = "BroadcastMessage"
)

// RegisterRequest 注册握手请求
type RegisterRequest struct {
	UserId   int64  `json:"UserId"`
	Token    string `json:"Token"`
	DeviceId string `json:"DeviceId"`
	Platform string `json:"Platform"`
}

// RegisterAck 注册握手响应
type RegisterAck struct {
	Code    int    `json:"Code"`
	Message string `json:"Message,omitempty"`
	UserId  int64  `json:"UserId"`
}

// Invocation 客户端远程调用封装
type Invocation struct {
	Target         string         `json:"Target"`
	UserId         int64          `json:"UserId,omitempty"`
	ConversationId int64          `json:"ConversationId,omitempty"`
	Message        *model.Message `json:"Message,omitempty"` // 仅 BroadcastMessage 使用
}

// ============== 下行消息 (Relay -> Client) ==============

// Event 服务端推送事件封装，恰好一个字段非空
type Event struct {
	ReceiveMessage       *model.Message      `json:"ReceiveMessage,omitempty"`
	NewConversation      *model.Conversation `json:"NewConversation,omitempty"`
	ConversationUpdated  *model.Conversation `json:"ConversationUpdated,omitempty"`
	MessageStatusChanged *StatusChange       `json:"MessageStatusChanged,omitempty"`
	UserRegistered       *UserRef            `json:"UserRegistered,omitempty"`
	JoinedConversation   *ConversationRef    `json:"JoinedConversation,omitempty"`
	LeftConversation     *ConversationRef    `json:"LeftConversation,omitempty"`
	UserTyping           *TypingEvent        `json:"UserTyping,omitempty"`
	PresenceChanged      *PresenceEvent      `json:"PresenceChanged,omitempty"`
}

// StatusChange 消息状态变更事件
type StatusChange struct {
	MessageId int64               `json:"MessageId"`
	Status    model.MessageStatus `json:"Status"`
	ReadAt    *time.Time          `json:"ReadAt,omitempty"`
}

// UserRef 用户引用
type UserRef struct {
	UserId int64 `json:"UserId"`
}

// ConversationRef 会话引用
type ConversationRef struct {
	ConversationId int64 `json:"ConversationId"`
}

// TypingEvent 输入状态事件
type TypingEvent struct {
	ConversationId int64 `json:"ConversationId"`
	UserId         int64 `json:"UserId"`
	Typing         bool  `json:"Typing"`
}

// PresenceEvent 在线状态事件
type PresenceEvent struct {
	UserId int64 `json:"UserId"`
	Online bool  `json:"Online"`
}
