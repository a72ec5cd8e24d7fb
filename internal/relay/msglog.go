package relay

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"sudooom.im.client/internal/relay/snowflake"
	"sudooom.im.client/model"
)

// MessageLog 开发模式下的消息存储，按会话保存已持久化的消息。
// 生产部署应替换为独立的消息服务。
type MessageLog struct {
	mu    sync.RWMutex
	idGen *snowflake.Node
	convs map[int64][]*model.Message
}

func NewMessageLog(nodeId int64) *MessageLog {
	return &MessageLog{
		idGen: snowflake.NewNode(nodeId),
		convs: make(map[int64][]*model.Message),
	}
}

// Append 分配消息 ID 并落库，返回持久化后的副本
func (l *MessageLog) Append(msg *model.Message) *model.Message {
	stored := msg.Clone()
	stored.Id = l.idGen.Generate().Int64()
	stored.LocalId = ""
	stored.Status = model.MessageStatusSent
	stored.CreatedAt = time.Now()

	l.mu.Lock()
	l.convs[stored.ConversationId] = append(l.convs[stored.ConversationId], stored)
	l.mu.Unlock()

	return stored.Clone()
}

// UpdateStatus 更新消息状态，消息不存在时返回 false
func (l *MessageLog) UpdateStatus(conversationId, messageId int64, status model.MessageStatus, readAt *time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.convs[conversationId] {
		if m.Id == messageId {
			m.Status = status
			if readAt != nil {
				m.ReadAt = readAt
			}
			return true
		}
	}
	return false
}

// History 按时间倒序分页，cursor 为上一页最旧消息的 ID，为空表示首页。
// 返回的消息本身按时间升序排列。
func (l *MessageLog) History(conversationId int64, cursor string, limit int) ([]*model.Message, string) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	l.mu.RLock()
	msgs := l.convs[conversationId]
	ordered := make([]*model.Message, len(msgs))
	for i, m := range msgs {
		ordered[i] = m.Clone()
	}
	l.mu.RUnlock()

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	// 定位游标之前的部分
	end := len(ordered)
	if cursor != "" {
		cursorId, err := strconv.ParseInt(cursor, 10, 64)
		if err == nil {
			for i, m := range ordered {
				if m.Id == cursorId {
					end = i
					break
				}
			}
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := ordered[start:end]

	next := ""
	if start > 0 && len(page) > 0 {
		next = strconv.FormatInt(page[0].Id, 10)
	}
	return page, next
}
