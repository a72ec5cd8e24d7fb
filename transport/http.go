package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sudooom.im.client/proto"
)

var ErrChannelClosed = errors.New("channel closed")

const invokeTimeout = 10 * time.Second

// httpInvoker SSE 与轮询共用的上行调用器
// 客户端到服务端方向没有推流能力，帧统一通过 POST /invoke 送达
type httpInvoker struct {
	client    *http.Client
	invokeURL string // 含 cid 查询参数
	token     string
}

func (i *httpInvoker) invoke(f *proto.Frame) error {
	data, err := json.Marshal(f.Text())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), invokeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.invokeURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+i.token)

	resp, err := i.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("invoke failed: status %d", resp.StatusCode)
	}
	return nil
}
