package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

const (
	// pollWait 服务端挂起单次轮询的最长时间
	pollWait = 25 * time.Second

	// pollRetryDelay 空响应后的短暂停顿，避免紧循环
	pollRetryDelay = 200 * time.Millisecond
)

// LongPollDialer 请求轮询传输，兜底候选
type LongPollDialer struct {
	Client *http.Client
	logger *slog.Logger
}

// NewLongPollDialer 创建长轮询拨号器
func NewLongPollDialer() *LongPollDialer {
	return &LongPollDialer{Client: http.DefaultClient, logger: slog.Default()}
}

func (d *LongPollDialer) Kind() model.TransportKind {
	return model.TransportLongPoll
}

func (d *LongPollDialer) Dial(ctx context.Context, endpoint string, creds Credentials) (Channel, error) {
	cid := uuid.NewString()
	pollURL := endpoint + "/poll?cid=" + cid

	// 建连探测：wait=0 立即返回，验证可达性与凭证
	frames, err := d.poll(ctx, pollURL, creds.Token, 0)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	ch := &pollChannel{
		invoker: httpInvoker{
			client:    d.Client,
			invokeURL: endpoint + "/invoke?cid=" + cid,
			token:     creds.Token,
		},
		dialer:    d,
		pollURL:   pollURL,
		token:     creds.Token,
		ctx:       pollCtx,
		cancel:    cancel,
		logger:    d.logger,
		recvChan:  make(chan *proto.Frame, 64),
		closeChan: make(chan struct{}),
	}
	go ch.pollLoop(frames)
	return ch, nil
}

// poll 执行一次轮询请求，返回批量帧
func (d *LongPollDialer) poll(ctx context.Context, pollURL, token string, wait time.Duration) ([]proto.TextFrame, error) {
	url := fmt.Sprintf("%s&wait=%d", pollURL, int(wait.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var frames []proto.TextFrame
	if err := json.Unmarshal(body, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

type pollChannel struct {
	invoker   httpInvoker
	dialer    *LongPollDialer
	pollURL   string
	token     string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	recvChan  chan *proto.Frame
	closeChan chan struct{}
	closeOnce sync.Once
}

func (c *pollChannel) Kind() model.TransportKind {
	return model.TransportLongPoll
}

func (c *pollChannel) Send(f *proto.Frame) error {
	select {
	case <-c.closeChan:
		return ErrChannelClosed
	default:
	}
	return c.invoker.invoke(f)
}

func (c *pollChannel) Receive() <-chan *proto.Frame {
	return c.recvChan
}

func (c *pollChannel) pollLoop(initial []proto.TextFrame) {
	defer close(c.recvChan)

	if !c.deliver(initial) {
		return
	}

	for {
		frames, err := c.dialer.poll(c.ctx, c.pollURL, c.token, pollWait)
		if err != nil {
			select {
			case <-c.closeChan:
			default:
				c.logger.Debug("Poll failed, channel closing", "error", err)
			}
			return
		}

		if !c.deliver(frames) {
			return
		}

		if len(frames) == 0 {
			select {
			case <-time.After(pollRetryDelay):
			case <-c.closeChan:
				return
			}
		}
	}
}

func (c *pollChannel) deliver(frames []proto.TextFrame) bool {
	for i := range frames {
		select {
		case c.recvChan <- frames[i].Frame():
		case <-c.closeChan:
			return false
		}
	}
	return true
}

func (c *pollChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.cancel()
	})
	return nil
}
