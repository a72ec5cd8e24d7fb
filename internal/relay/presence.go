package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.client/config"
)

// presenceTTL 在线状态 TTL，心跳续期
const presenceTTL = 2 * time.Minute

// PresenceStore 用户在线状态存储
type PresenceStore interface {
	Register(ctx context.Context, userId int64, connId, platform string) error
	Unregister(ctx context.Context, userId int64, connId string) error
	Refresh(ctx context.Context, userId int64, connId string) error
	Close() error
}

// ============== 内存实现 ==============

// MemoryPresence 单节点开发模式的在线状态
type MemoryPresence struct {
	mu      sync.Mutex
	entries map[int64]map[string]time.Time
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{entries: make(map[int64]map[string]time.Time)}
}

func (p *MemoryPresence) Register(_ context.Context, userId int64, connId, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[userId]; !ok {
		p.entries[userId] = make(map[string]time.Time)
	}
	p.entries[userId][connId] = time.Now()
	return nil
}

func (p *MemoryPresence) Unregister(_ context.Context, userId int64, connId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conns, ok := p.entries[userId]; ok {
		delete(conns, connId)
		if len(conns) == 0 {
			delete(p.entries, userId)
		}
	}
	return nil
}

func (p *MemoryPresence) Refresh(_ context.Context, userId int64, connId string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conns, ok := p.entries[userId]; ok {
		if _, ok := conns[connId]; ok {
			conns[connId] = time.Now()
		}
	}
	return nil
}

// Online 用户是否在线
func (p *MemoryPresence) Online(userId int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries[userId]) > 0
}

func (p *MemoryPresence) Close() error {
	return nil
}

// ============== Redis 实现 ==============

// UserLocation 用户位置信息
type UserLocation struct {
	UserId    int64     `json:"UserId"`
	NodeId    string    `json:"NodeId"`
	ConnId    string    `json:"ConnId"`
	Platform  string    `json:"Platform"`
	LoginTime time.Time `json:"LoginTime"`
}

// RedisPresence 多节点部署时的在线状态，Key 带 TTL 由心跳续期
type RedisPresence struct {
	client *redis.Client
	nodeId string
	logger *slog.Logger
}

func NewRedisPresence(cfg config.RedisConfig, nodeId string, logger *slog.Logger) *RedisPresence {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &RedisPresence{client: client, nodeId: nodeId, logger: logger}
}

func presenceKey(userId int64, connId string) string {
	return fmt.Sprintf("im:user:presence:%d:%s", userId, connId)
}

func (p *RedisPresence) Register(ctx context.Context, userId int64, connId, platform string) error {
	location := UserLocation{
		UserId:    userId,
		NodeId:    p.nodeId,
		ConnId:    connId,
		Platform:  platform,
		LoginTime: time.Now(),
	}
	data, err := json.Marshal(location)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	err = p.client.Set(ctx, presenceKey(userId, connId), data, presenceTTL).Err()
	if err == nil {
		p.logger.Debug("Registered user presence",
			"userId", userId,
			"connId", connId,
			"nodeId", p.nodeId)
	}
	return err
}

func (p *RedisPresence) Unregister(ctx context.Context, userId int64, connId string) error {
	return p.client.Del(ctx, presenceKey(userId, connId)).Err()
}

func (p *RedisPresence) Refresh(ctx context.Context, userId int64, connId string) error {
	return p.client.Expire(ctx, presenceKey(userId, connId), presenceTTL).Err()
}

func (p *RedisPresence) Close() error {
	return p.client.Close()
}
