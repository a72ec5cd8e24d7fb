package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// SSEDialer 服务端推流传输
// 下行走 text/event-stream，上行降级为 POST /invoke
type SSEDialer struct {
	Client *http.Client
	logger *slog.Logger
}

// NewSSEDialer 创建 SSE 拨号器
func NewSSEDialer() *SSEDialer {
	return &SSEDialer{Client: http.DefaultClient, logger: slog.Default()}
}

func (d *SSEDialer) Kind() model.TransportKind {
	return model.TransportSSE
}

func (d *SSEDialer) Dial(ctx context.Context, endpoint string, creds Credentials) (Channel, error) {
	cid := uuid.NewString()
	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint+"/events?cid="+cid, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+creds.Token)

	// 推流本身不受建连时限约束，但等待响应头要受：
	// 建连超时前未完成握手就放弃该候选
	type dialResult struct {
		resp *http.Response
		err  error
	}
	resultChan := make(chan dialResult, 1)
	go func() {
		resp, err := d.Client.Do(req)
		resultChan <- dialResult{resp, err}
	}()

	var resp *http.Response
	select {
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case r := <-resultChan:
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		resp = r.resp
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("sse handshake failed: status %d", resp.StatusCode)
	}

	ch := &sseChannel{
		invoker: httpInvoker{
			client:    d.Client,
			invokeURL: endpoint + "/invoke?cid=" + cid,
			token:     creds.Token,
		},
		resp:      resp,
		cancel:    cancel,
		logger:    d.logger,
		recvChan:  make(chan *proto.Frame, 64),
		closeChan: make(chan struct{}),
	}
	go ch.readLoop()
	return ch, nil
}

type sseChannel struct {
	invoker   httpInvoker
	resp      *http.Response
	cancel    context.CancelFunc
	logger    *slog.Logger
	recvChan  chan *proto.Frame
	closeChan chan struct{}
	closeOnce sync.Once
}

func (c *sseChannel) Kind() model.TransportKind {
	return model.TransportSSE
}

func (c *sseChannel) Send(f *proto.Frame) error {
	select {
	case <-c.closeChan:
		return ErrChannelClosed
	default:
	}
	return c.invoker.invoke(f)
}

func (c *sseChannel) Receive() <-chan *proto.Frame {
	return c.recvChan
}

func (c *sseChannel) readLoop() {
	defer close(c.recvChan)
	defer c.resp.Body.Close()

	scanner := bufio.NewScanner(c.resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), proto.MaxFrameSize)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "data:") {
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
		if line != "" {
			// 忽略 event/id/retry 等其他字段
			continue
		}

		// 空行表示一条事件结束
		if data.Len() == 0 {
			continue
		}
		payload := data.String()
		data.Reset()

		var tf proto.TextFrame
		if err := json.Unmarshal([]byte(payload), &tf); err != nil {
			c.logger.Error("Failed to unmarshal SSE frame", "error", err)
			continue
		}

		select {
		case c.recvChan <- tf.Frame():
		case <-c.closeChan:
			return
		}
	}

	select {
	case <-c.closeChan:
	default:
		c.logger.Debug("SSE stream ended", "error", scanner.Err())
	}
}

func (c *sseChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.cancel()
	})
	return nil
}
