package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	apperrors "sudooom.im.client/errors"
	"sudooom.im.client/model"
)

// TokenFunc 每次请求时从会话存储取 Bearer token
type TokenFunc func() string

// Client 消息持久化 REST API 客户端
// 实时核心只把它当黑盒用：发送即持久化、按游标拉历史
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokenFunc  TokenFunc
	logger     *slog.Logger
}

// NewClient 创建 API 客户端
func NewClient(baseURL string, tokenFunc TokenFunc, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tokenFunc:  tokenFunc,
		logger:     logger,
	}
}

// SendRequest 消息持久化请求体
type SendRequest struct {
	ConversationId int64             `json:"ConversationId"`
	Content        string            `json:"Content"`
	MsgType        model.MessageType `json:"MsgType"`
}

// HistoryPage 一页历史消息
type HistoryPage struct {
	Messages   []*model.Message `json:"Messages"`
	NextCursor string           `json:"NextCursor,omitempty"`
}

// SendMessage 持久化一条消息，返回带服务端 Id 的消息
func (c *Client) SendMessage(ctx context.Context, conversationId int64, content string, msgType model.MessageType) (*model.Message, error) {
	body, err := json.Marshal(SendRequest{
		ConversationId: conversationId,
		Content:        content,
		MsgType:        msgType,
	})
	if err != nil {
		return nil, err
	}

	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/messages", body, &msg); err != nil {
		return nil, apperrors.ErrSendFailed.Wrap(err)
	}
	return &msg, nil
}

// FetchHistory 按游标拉取一页历史消息
func (c *Client) FetchHistory(ctx context.Context, conversationId int64, cursor string, limit int) (*HistoryPage, error) {
	path := fmt.Sprintf("/conversations/%d/messages", conversationId)
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var page HistoryPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokenFunc != nil {
		req.Header.Set("Authorization", "Bearer "+c.tokenFunc())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
