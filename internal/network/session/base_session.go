package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/metrics"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 10 * time.Second
)

// Options 为 BaseSession 的可选参数。
type Options struct {
	// SendQueueSize 为发送队列容量，<= 0 时使用默认值。
	SendQueueSize int
	// WriteTimeout 为单帧写出超时，<= 0 时使用默认值。
	WriteTimeout time.Duration
	// Codec 为空时使用 codec.NewJSON()。
	Codec codec.Codec
}

// BaseSession 是基于 gorilla/websocket 的 Session 实现。
//
// 写路径只在 sendLoop 协程中执行，gorilla/websocket 不支持并发写。
// 读路径由接入层负责。
type BaseSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn  *websocket.Conn
	codec codec.Codec

	remoteAddr net.Addr
	localAddr  net.Addr

	writeTimeout time.Duration

	mu        sync.RWMutex
	closing   bool
	sendQueue chan network.Frame
	closeReq  chan struct{}
	done      chan struct{}

	closeOnce sync.Once
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// NewBaseSession 创建会话并启动发送协程。
//
// parent 取消时会话立即关闭底层连接，不再写出队列中剩余的帧。
func NewBaseSession(parent context.Context, id uint64, conn *websocket.Conn, opts Options) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = defaultSendQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewJSON()
	}
	ctx, cancel := context.WithCancel(parent)

	s := &BaseSession{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		conn:         conn,
		codec:        opts.Codec,
		remoteAddr:   conn.RemoteAddr(),
		localAddr:    conn.LocalAddr(),
		writeTimeout: opts.WriteTimeout,
		sendQueue:    make(chan network.Frame, opts.SendQueueSize),
		closeReq:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	go s.sendLoop()

	return s
}

func (s *BaseSession) ID() uint64 {
	return s.id
}

func (s *BaseSession) Context() context.Context {
	return s.ctx
}

func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

func (s *BaseSession) Done() <-chan struct{} {
	return s.done
}

func (s *BaseSession) Send(msg any) error {
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.SendFrame(frame)
}

func (s *BaseSession) SendFrame(frame network.Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closing || s.ctx.Err() != nil {
		return merr.WrapErrConnectionClosed(s.id)
	}
	select {
	case s.sendQueue <- frame:
		return nil
	default:
		metrics.SendQueueRejectedTotal.Inc()
		return merr.WrapErrSendQueueFull(s.id, cap(s.sendQueue))
	}
}

func (s *BaseSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		close(s.closeReq)
	})
	return nil
}

// Abort 立即关闭底层连接，丢弃尚未写出的帧。
func (s *BaseSession) Abort() {
	s.cancel()
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 收到 Close 请求后先写完队列中已有的帧，再发送 WebSocket 关闭帧并关闭连接；
// ctx 取消或写出失败时直接关闭连接。
func (s *BaseSession) sendLoop() {
	defer close(s.done)
	defer s.conn.Close()
	defer s.cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.sendQueue:
			if err := s.write(frame); err != nil {
				return
			}
		case <-s.closeReq:
			s.drain()
			deadline := time.Now().Add(s.writeTimeout)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

// drain 写出 Close 之前已经入队的帧。Close 之后 SendFrame 不再入队，队列只减不增。
func (s *BaseSession) drain() {
	for {
		select {
		case frame := <-s.sendQueue:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *BaseSession) write(frame network.Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if err := s.conn.WriteMessage(int(frame.Type), frame.Data); err != nil {
		log.Debug("websocket write failed",
			log.FieldConnectionID(s.id),
			zap.Error(err))
		return err
	}
	return nil
}
