package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sudooom.im.client/config"
	"sudooom.im.client/proto"
)

// bridgeSubject 跨节点事件转发主题
const bridgeSubject = "im.relay.events"

// relayEnvelope 跨节点转发的事件信封
type relayEnvelope struct {
	NodeId         string       `json:"NodeId"`
	ConversationId int64        `json:"ConversationId,omitempty"`
	UserId         int64        `json:"UserId,omitempty"` // 定向投递时使用
	Event          *proto.Event `json:"Event"`
}

// Bridge 通过 NATS 把事件转发到其他 relay 节点。
// 单节点部署时不启用，事件只在本地 Hub 内扇出。
type Bridge struct {
	conn   *nats.Conn
	nodeId string
	logger *slog.Logger
}

func NewBridge(cfg config.NATSConfig, nodeId string, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &Bridge{conn: conn, nodeId: nodeId, logger: logger}, nil
}

// Publish 向其他节点广播事件
func (b *Bridge) Publish(conversationId, userId int64, event *proto.Event) {
	env := relayEnvelope{
		NodeId:         b.nodeId,
		ConversationId: conversationId,
		UserId:         userId,
		Event:          event,
	}
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error("Failed to marshal bridge envelope", "error", err)
		return
	}
	if err := b.conn.Publish(bridgeSubject, data); err != nil {
		b.logger.Warn("Failed to publish bridge event", "error", err)
	}
}

// Subscribe 订阅其他节点的事件，本节点发出的事件被过滤
func (b *Bridge) Subscribe(handler func(conversationId, userId int64, event *proto.Event)) error {
	_, err := b.conn.Subscribe(bridgeSubject, func(msg *nats.Msg) {
		var env relayEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			b.logger.Warn("Failed to unmarshal bridge envelope", "error", err)
			return
		}
		if env.NodeId == b.nodeId || env.Event == nil {
			return
		}
		handler(env.ConversationId, env.UserId, env.Event)
	})
	return err
}

func (b *Bridge) Close() {
	b.conn.Close()
}
