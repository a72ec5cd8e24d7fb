package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Relay   RelayConfig   `yaml:"relay"`
	NATS    NATSConfig    `yaml:"nats"`
	Redis   RedisConfig   `yaml:"redis"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

type ClientConfig struct {
	Endpoint          string        `yaml:"endpoint"`     // relay 基地址，如 https://host:4433
	APIBaseURL        string        `yaml:"api_base_url"` // 消息持久化 REST API 基地址
	DeviceID          string        `yaml:"device_id"`
	Platform          string        `yaml:"platform"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxReconnects     int           `yaml:"max_reconnects"`
}

type RelayConfig struct {
	Addr                   string        `yaml:"addr"`      // QUIC/WebTransport 监听地址
	HTTPAddr               string        `yaml:"http_addr"` // SSE/轮询/健康检查监听地址
	NodeID                 string        `yaml:"node_id"`
	CertFile               string        `yaml:"cert_file"`
	KeyFile                string        `yaml:"key_file"`
	HeartbeatTimeout       time.Duration `yaml:"heartbeat_timeout"`
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"` // 为空时禁用跨节点转发
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // 为空时使用内存在线状态
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret"`
	TokenExpire time.Duration `yaml:"token_expire"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
