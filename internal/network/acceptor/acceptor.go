package acceptor

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - SendQueueSize 控制每个连接的发送队列容量；
//   - ReadLimit 为单帧最大字节数，超过后连接被关闭（<= 0 表示不限制）；
//   - WriteTimeout 控制单帧写出超时。
type Config struct {
	SendQueueSize int
	ReadLimit     int64
	WriteTimeout  time.Duration

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader（不校验 Origin）。
	Upgrader *websocket.Upgrader

	// Codec 为会话发送路径使用的编解码器，为空时使用 JSON 文本帧。
	Codec codec.Codec
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 256,
		ReadLimit:     64 * 1024,
		WriteTimeout:  10 * time.Second,
	}
}

// Handler 由框架使用者实现，用于接收连接生命周期事件。
//
// 同一连接上的 OnConnected、OnMessage、OnClosed 在同一协程中按顺序调用；
// 不同连接之间并发调用。回调应尽快返回，避免阻塞读取。
type Handler interface {
	// OnConnected 在升级成功并创建好会话后被调用一次。
	OnConnected(sess session.Session)

	// OnMessage 在读取到一条完整的数据帧后被调用。
	OnMessage(sess session.Session, frame network.Frame)

	// OnClosed 在连接读循环结束后被调用一次；正常关闭时 err 为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在各阶段发生错误时被调用；握手失败时 sess 为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 作为 http.Handler 处理 WebSocket 升级；
//   - 为每个连接分配 ID、创建 Session，并调用 Handler 的各阶段回调；
//   - 维护当前活跃会话列表，便于关闭与监控。
type Acceptor interface {
	http.Handler

	// Shutdown 拒绝新连接，关闭所有会话，并等待读循环退出或 ctx 结束。
	Shutdown(ctx context.Context) error

	// Sessions 返回当前活跃会话的索引。
	Sessions() session.SessionManager
}
