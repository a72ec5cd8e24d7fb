package transport

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sudooom.im.client/model"
	"sudooom.im.client/proto"
)

// Channel 一条已建立的双向通道
// Receive 返回单一有序事件流；底层传输异常断开时该 channel 被关闭
type Channel interface {
	Send(f *proto.Frame) error
	Receive() <-chan *proto.Frame
	Close() error
	Kind() model.TransportKind
}

// Dialer 单个传输候选的统一建连契约
type Dialer interface {
	Kind() model.TransportKind
	Dial(ctx context.Context, endpoint string, creds Credentials) (Channel, error)
}

// Credentials 建连凭证
type Credentials struct {
	UserId   int64
	Token    string // Bearer token，来自会话存储
	DeviceId string
	Platform string
}

// TokenExpireTime 解析 Token 获取过期时间（不验证签名，用于建连前快速判断）
func (c Credentials) TokenExpireTime() (time.Time, error) {
	token, _, err := jwt.NewParser().ParseUnverified(c.Token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, err
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, jwt.ErrTokenInvalidClaims
	}
	return exp.Time, nil
}

// TokenExpired Token 是否已过期
// 无法解析的 Token 不在此处拦截，交由服务端判定
func (c Credentials) TokenExpired() bool {
	exp, err := c.TokenExpireTime()
	if err != nil {
		return false
	}
	return time.Now().After(exp)
}
