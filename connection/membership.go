package connection

import (
	"log/slog"
	"time"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// Membership 会话成员跟踪器
// Join/Leave 是幂等远程调用；失败重试有限次后记日志丢弃，不影响连接本身。
// 中继服务端不会跨连接记住加入关系，重连成功后由消费方重新加入
type Membership struct {
	mgr        *Manager
	logger     *slog.Logger
	retries    int           // 失败后的额外重试次数
	retryDelay time.Duration // 重试间隔
}

// NewMembership 创建成员跟踪器
func NewMembership(mgr *Manager, logger *slog.Logger) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		mgr:        mgr,
		logger:     logger,
		retries:    2,
		retryDelay: 100 * time.Millisecond,
	}
}

// Join 加入会话，开始接收该会话的事件
func (t *Membership) Join(conversationId int64) {
	t.invoke(proto.TargetJoinConversation, conversationId)
}

// Leave 离开会话，停止接收该会话的事件
// 只影响成员关系，不关闭共享通道
func (t *Membership) Leave(conversationId int64) {
	t.invoke(proto.TargetLeaveConversation, conversationId)
}

func (t *Membership) invoke(target string, conversationId int64) {
	if t.mgr.State().State != model.StateConnected {
		// 未连通时静默跳过，只记日志不报错
		t.logger.Debug("Channel not connected, skipping membership call",
			"target", target,
			"conversation_id", conversationId)
		return
	}

	inv := &proto.Invocation{
		Target:         target,
		UserId:         t.mgr.creds.UserId,
		ConversationId: conversationId,
	}

	var err error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(t.retryDelay)
		}
		if err = t.mgr.Invoke(inv); err == nil {
			return
		}
	}

	t.logger.Warn("Membership call dropped after retries",
		"target", target,
		"conversation_id", conversationId,
		"error", err)
}
