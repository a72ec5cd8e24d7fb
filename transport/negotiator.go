package transport

import (
	"context"
	"log/slog"
	"time"

	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
)

// DefaultDialTimeout 单个传输候选的建连时限
const DefaultDialTimeout = 15 * time.Second

// Negotiator 传输协商器
// 按固定优先级依次尝试各传输候选，返回第一个建连成功的通道；
// 全部失败才向上层报 ErrConnectionFailed
type Negotiator struct {
	dialers []Dialer
	timeout time.Duration
	logger  *slog.Logger
}

// Option Negotiator 可选参数
type Option func(*Negotiator)

// WithDialers 覆盖默认的传输候选列表（按优先级排列）
func WithDialers(dialers ...Dialer) Option {
	return func(n *Negotiator) {
		n.dialers = dialers
	}
}

// WithDialTimeout 覆盖单次建连时限
func WithDialTimeout(d time.Duration) Option {
	return func(n *Negotiator) {
		n.timeout = d
	}
}

// NewNegotiator 创建传输协商器
// 默认候选顺序：WebTransport 全双工流 -> SSE 推流 -> 长轮询
func NewNegotiator(logger *slog.Logger, opts ...Option) *Negotiator {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Negotiator{
		dialers: []Dialer{
			NewWebTransportDialer(),
			NewSSEDialer(),
			NewLongPollDialer(),
		},
		timeout: DefaultDialTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Open 建立通道
// 上层只拿到 Channel 接口，具体选中了哪个传输对调用方不可见
func (n *Negotiator) Open(ctx context.Context, endpoint string, creds Credentials) (Channel, error) {
	var lastErr error

	for _, d := range n.dialers {
		dialCtx, cancel := context.WithTimeout(ctx, n.timeout)
		ch, err := d.Dial(dialCtx, endpoint, creds)
		cancel()

		if err == nil {
			n.logger.Info("Transport negotiated",
				"transport", ch.Kind(),
				"endpoint", endpoint)
			return ch, nil
		}

		lastErr = err
		n.logger.Warn("Transport candidate failed, falling back",
			"transport", d.Kind(),
			"error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, apperrors.ErrConnectionFailed.Wrap(lastErr)
}

// Kinds 返回候选传输类型列表（按优先级）
func (n *Negotiator) Kinds() []model.TransportKind {
	kinds := make([]model.TransportKind, 0, len(n.dialers))
	for _, d := range n.dialers {
		kinds = append(kinds, d.Kind())
	}
	return kinds
}
