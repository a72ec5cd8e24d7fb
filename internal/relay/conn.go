package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrConnBusy   = errors.New("connection outbox full")
)

// Conn 中继侧的一个客户端连接
// 下行帧统一写入 outbox，由各传输各自的泵送逻辑消费：
// WebTransport 写流、SSE 写响应体、轮询按批次取走
type Conn struct {
	id         string
	kind       model.TransportKind
	userId     atomic.Int64
	platform   atomic.Value // string
	outbox     chan *proto.Frame
	closeChan  chan struct{}
	closeOnce  sync.Once
	lastActive atomic.Int64 // unix 毫秒
	createTime time.Time
}

// NewConn 创建连接
func NewConn(kind model.TransportKind) *Conn {
	c := &Conn{
		id:         uuid.NewString(),
		kind:       kind,
		outbox:     make(chan *proto.Frame, 256),
		closeChan:  make(chan struct{}),
		createTime: time.Now(),
	}
	c.Touch()
	return c
}

// newConnWithId 创建指定 Id 的连接（SSE/轮询的 cid 由客户端生成）
func newConnWithId(id string, kind model.TransportKind) *Conn {
	c := NewConn(kind)
	c.id = id
	return c
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Kind() model.TransportKind {
	return c.kind
}

func (c *Conn) UserID() int64 {
	return c.userId.Load()
}

func (c *Conn) Platform() string {
	if p, ok := c.platform.Load().(string); ok {
		return p
	}
	return ""
}

// BindUser 注册握手通过后绑定用户
func (c *Conn) BindUser(userId int64, platform string) {
	c.userId.Store(userId)
	c.platform.Store(platform)
}

// Send 投递一帧下行数据
// outbox 满时丢帧而不是阻塞扇出方
func (c *Conn) Send(f *proto.Frame) error {
	select {
	case <-c.closeChan:
		return ErrConnClosed
	case c.outbox <- f:
		return nil
	default:
		return ErrConnBusy
	}
}

// Outbox 下行帧队列
func (c *Conn) Outbox() <-chan *proto.Frame {
	return c.outbox
}

// Done 连接关闭信号
func (c *Conn) Done() <-chan struct{} {
	return c.closeChan
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
	})
}

// Touch 更新活跃时间
func (c *Conn) Touch() {
	c.lastActive.Store(time.Now().UnixMilli())
}

// LastActive 最近活跃时间
func (c *Conn) LastActive() time.Time {
	return time.UnixMilli(c.lastActive.Load())
}

// CreateTime 连接建立时间
func (c *Conn) CreateTime() time.Time {
	return c.createTime
}
