package session

import (
	"context"
	"net"

	network "github.com/lk2023060901/vnsync-go/internal/network"
)

// Session 抽象了一条服务器侧 WebSocket 会话。
//
// 约定：
//   - 每个 Session 对应一条底层 WebSocket 连接；
//   - Session ID 使用 64 位无符号整型，由接入层分配，进程内永不复用；
//   - 框架层只关心会话本身，不关心 vnsync 的业务会话（SessionState）。
type Session interface {
	// ID 返回该会话在进程内的唯一标识。
	ID() uint64

	// Context 返回与该会话关联的上下文，会话结束时被取消。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// Send 将 msg 编码为文本帧并投递到发送队列。
	//
	// 该方法从不阻塞：队列已满时返回 merr.ErrSendQueueFull，
	// 会话已关闭时返回 merr.ErrConnectionClosed。
	Send(msg any) error

	// SendFrame 投递一条已经编码好的帧，语义同 Send。
	SendFrame(frame network.Frame) error

	// Close 优雅关闭会话：发送队列中已有的帧写完之后再关闭底层连接。
	//
	// 该方法不等待写出完成，可重复调用。
	Close() error

	// Done 在发送协程退出、底层连接关闭之后被关闭。
	Done() <-chan struct{}
}
