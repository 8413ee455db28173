// Package connection 实现单个 WebSocket 连接的握手与会话状态机。
//
// 每个 Connection 是一个独立的 worker，串行处理自己邮箱中的消息：
//
//	WaitingForInit --init(host|client)--------------> Initialized
//	WaitingForInit --init(reconnect) + claim ok-----> Initialized
//	WaitingForInit --init(reconnect) + claim miss---> Stopped(bad_session_id_provided)
//	WaitingForInit --handshake deadline-------------> Stopped(init_timeout)
//	any            --malformed inbound--------------> Stopped(malformed_message)
//	any            --Stop(reason)-------------------> Stopped(reason)
//
// 进入 Stopped 时向 Directory 发出唯一一次 StopConnection。
package connection

import (
	"context"
	"time"
)

// StopReason 为连接终止的原因，同时也是 close 消息中的 reason 字段。
type StopReason string

const (
	StopInitTimeout          StopReason = "init_timeout"
	StopMalformedMessage     StopReason = "malformed_message"
	StopBadSessionIDProvided StopReason = "bad_session_id_provided"
	StopClientDisconnect     StopReason = "client_disconnect"
	StopServerBusy           StopReason = "server_busy"
	StopServerShutdown       StopReason = "server_shutdown"
)

func (r StopReason) String() string {
	return string(r)
}

// ClosesTransport 表示该原因是否需要服务端发送 close 消息并关闭底层连接。
// client_disconnect 时连接已经由对端断开。
func (r StopReason) ClosesTransport() bool {
	return r != StopClientDisconnect
}

// SessionState 是一个会话的持久部分，断线后可在宽限期内被重连取回。
type SessionState struct {
	SessionID   string
	RoomID      string
	StateString string
}

// Responder 是连接向对端写出消息的出口。
type Responder interface {
	ID() uint64
	// Send 编码并异步发送 msg，不阻塞调用方。
	Send(msg any) error
	// Close 发送完已入队的消息后关闭底层连接。
	Close() error
}

// Directory 是连接 worker 对会话目录的依赖。
type Directory interface {
	// StopConnection 通知目录连接已终止；state 在握手完成前为 nil。
	StopConnection(conn *Connection, state *SessionState, reason StopReason)
	// ClaimDanglingSession 原子地取回一个悬挂会话，阻塞直到目录给出结果。
	// claimant 为发起认领的连接 id。
	ClaimDanglingSession(ctx context.Context, claimant uint64, sessionID string) (*SessionState, bool)
}

const defaultHandshakeTimeout = 5 * time.Second

// Config 为连接 worker 的参数。
type Config struct {
	// HandshakeTimeout 为等待 init 的最长时间，<= 0 时取默认值 5s。
	HandshakeTimeout time.Duration
}

func (c Config) handshakeTimeout() time.Duration {
	if c.HandshakeTimeout <= 0 {
		return defaultHandshakeTimeout
	}
	return c.HandshakeTimeout
}
