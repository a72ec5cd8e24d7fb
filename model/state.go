package model

// ConnectionState 连接状态
type ConnectionState int

const (
	StateDisconnected ConnectionState = 0 // 未连接
	StateConnecting   ConnectionState = 1 // 首次建连中
	StateConnected    ConnectionState = 2 // 已连接
	StateReconnecting ConnectionState = 3 // 断线重连中
)

// String 状态名称
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// TransportKind 底层传输类型
type TransportKind string

const (
	TransportWebTransport TransportKind = "webtransport" // 全双工流（QUIC）
	TransportSSE          TransportKind = "sse"          // 服务端推流
	TransportLongPoll     TransportKind = "longpoll"     // 请求轮询
	TransportNone         TransportKind = ""
)

// ConnectionInfo 连接状态快照，由 Connection Manager 独占维护
type ConnectionInfo struct {
	State             ConnectionState `json:"State"`
	ReconnectAttempts int             `json:"ReconnectAttempts"`
	Transport         TransportKind   `json:"Transport"`
}
