package model

import "time"

// ConversationType 会话类型
type ConversationType int

const (
	ConversationTypeDirect ConversationType = 1 // 单聊
	ConversationTypeGroup  ConversationType = 2 // 群聊
)

// ConversationStatus 会话状态
type ConversationStatus int

const (
	ConversationStatusActive   ConversationStatus = 0 // 正常
	ConversationStatusArchived ConversationStatus = 1 // 已归档
	ConversationStatusBlocked  ConversationStatus = 2 // 已屏蔽
	ConversationStatusDeleted  ConversationStatus = 3 // 已删除
)

// Conversation 会话实体
type Conversation struct {
	Id           int64              `json:"Id"`
	Title        string             `json:"Title"`
	ConvType     ConversationType   `json:"ConvType"`
	Status       ConversationStatus `json:"Status"`
	Participants []Participant      `json:"Participants"`
	LastMessage  *Message           `json:"LastMessage,omitempty"`
	UnreadCount  int                `json:"UnreadCount"`
}

// Participant 会话参与者
type Participant struct {
	UserId   int64      `json:"UserId"`
	JoinedAt time.Time  `json:"JoinedAt"`
	LeftAt   *time.Time `json:"LeftAt,omitempty"`
	Role     string     `json:"Role"`
	IsActive bool       `json:"IsActive"`
}

// OtherParticipant 返回单聊中除自己之外的那个参与者
// 群聊或找不到时返回 nil
func (c *Conversation) OtherParticipant(selfId int64) *Participant {
	if c.ConvType != ConversationTypeDirect {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].UserId != selfId {
			return &c.Participants[i]
		}
	}
	return nil
}
