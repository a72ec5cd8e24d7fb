package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// WebTransportDialer 全双工流传输（QUIC/HTTP3）
// 首选传输：单条双向流承载全部帧
type WebTransportDialer struct {
	TLSConfig *tls.Config
	logger    *slog.Logger
}

// NewWebTransportDialer 创建 WebTransport 拨号器
func NewWebTransportDialer() *WebTransportDialer {
	return &WebTransportDialer{logger: slog.Default()}
}

func (d *WebTransportDialer) Kind() model.TransportKind {
	return model.TransportWebTransport
}

func (d *WebTransportDialer) Dial(ctx context.Context, endpoint string, creds Credentials) (Channel, error) {
	tlsConf := d.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{NextProtos: []string{"h3"}}
	}

	dialer := &webtransport.Dialer{
		TLSClientConfig: tlsConf,
		QUICConfig: &quic.Config{
			MaxIdleTimeout:  90 * time.Second,
			KeepAlivePeriod: 30 * time.Second,
			EnableDatagrams: true,
		},
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+creds.Token)

	resp, session, err := dialer.Dial(ctx, endpoint+"/webtransport", header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		session.CloseWithError(0, "upgrade rejected")
		return nil, fmt.Errorf("webtransport upgrade failed: status %d", resp.StatusCode)
	}

	stream, err := session.OpenStreamSync(ctx)
	if err != nil {
		session.CloseWithError(0, "open stream failed")
		return nil, err
	}

	ch := &wtChannel{
		session:   session,
		stream:    stream,
		logger:    d.logger,
		recvChan:  make(chan *proto.Frame, 64),
		writeChan: make(chan []byte, 256),
		closeChan: make(chan struct{}),
	}
	go ch.readLoop()
	go ch.writeLoop()
	return ch, nil
}

// wtChannel 基于 WebTransport 双向流的通道
type wtChannel struct {
	session   *webtransport.Session
	stream    *webtransport.Stream
	logger    *slog.Logger
	recvChan  chan *proto.Frame
	writeChan chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
}

func (c *wtChannel) Kind() model.TransportKind {
	return model.TransportWebTransport
}

func (c *wtChannel) Send(f *proto.Frame) error {
	select {
	case c.writeChan <- f.Encode():
		return nil
	case <-c.closeChan:
		return ErrChannelClosed
	}
}

func (c *wtChannel) Receive() <-chan *proto.Frame {
	return c.recvChan
}

func (c *wtChannel) readLoop() {
	defer close(c.recvChan)

	for {
		f, err := proto.ReadFrame(c.stream)
		if err != nil {
			select {
			case <-c.closeChan:
			default:
				c.logger.Debug("WebTransport read failed", "error", err)
			}
			return
		}

		select {
		case c.recvChan <- f:
		case <-c.closeChan:
			return
		}
	}
}

func (c *wtChannel) writeLoop() {
	for {
		select {
		case data := <-c.writeChan:
			if _, err := c.stream.Write(data); err != nil {
				c.logger.Error("Failed to write to stream", "error", err)
			}
		case <-c.closeChan:
			return
		}
	}
}

func (c *wtChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.stream.Close()
		c.session.CloseWithError(0, "connection closed")
	})
	return nil
}
