package connector

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/pkg/util/conc"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
	"github.com/lk2023060901/vnsync-go/pkg/util/retry"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int
	RecvQueueSize int

	// ReadTimeout 为 0 表示不设置读超时。
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DialAttempts 为拨号最大尝试次数，<= 0 时只尝试一次。
	DialAttempts uint
	// DialBackoff 为首次重试前的等待时间。
	DialBackoff time.Duration

	// Codec 为空时使用 JSON 文本帧。
	Codec codec.Codec
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 256,
		RecvQueueSize: 256,
		WriteTimeout:  10 * time.Second,
		DialAttempts:  1,
		DialBackoff:   100 * time.Millisecond,
	}
}

// ClientConn 抽象了客户端侧的一条 WebSocket 连接。
type ClientConn interface {
	Context() context.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Send 编码并发送一条业务消息；发送队列已满时阻塞直到 ctx 结束。
	Send(msg any) error
	// SendFrame 发送一条原始帧。
	SendFrame(frame network.Frame) error
	// Recv 返回收到的数据帧，连接结束后被关闭。
	Recv() <-chan network.Frame
	// Decode 使用连接的 Codec 解码一条帧。
	Decode(frame network.Frame, msg any) error

	// Close 发送 WebSocket 关闭帧并关闭连接。
	Close() error
	// Abort 不发送关闭帧，直接断开底层连接。
	Abort() error
	// Err 返回连接结束的原因，正常关闭时为 nil。
	Err() error
}

// Handler 描述客户端在各阶段的回调能力，所有方法均为可选。
type Handler interface {
	OnConnected(conn ClientConn)
	OnClosed(conn ClientConn, err error)
	OnError(conn ClientConn, stage network.Stage, err error)
}

// NopHandler 是空实现，便于只关心部分回调的调用方嵌入。
type NopHandler struct{}

func (NopHandler) OnConnected(ClientConn) {}
func (NopHandler) OnClosed(ClientConn, error) {}
func (NopHandler) OnError(ClientConn, network.Stage, error) {}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	Dial(ctx context.Context, urlStr string, header http.Header) (ClientConn, error)
}

// wsConnector 是基于 gorilla/websocket 的默认 Connector 实现。
type wsConnector struct {
	cfg Config
	h   Handler
}

// NewWSConnector 创建一个基于 WebSocket 的 Connector，h 可为 nil。
func NewWSConnector(cfg Config, h Handler) Connector {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.RecvQueueSize <= 0 {
		cfg.RecvQueueSize = def.RecvQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = def.DialAttempts
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = def.DialBackoff
	}
	if cfg.Codec == nil {
		cfg.Codec = codec.NewJSON()
	}
	if h == nil {
		h = NopHandler{}
	}
	return &wsConnector{cfg: cfg, h: h}
}

// Dial 拨号并在失败时按指数退避重试。
// 服务端明确拒绝升级（HTTP 4xx）时不再重试。
func (c *wsConnector) Dial(ctx context.Context, urlStr string, header http.Header) (ClientConn, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, func() error {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, urlStr, header)
		if err != nil {
			err = errors.Mark(errors.Wrapf(err, "dial %s", urlStr), network.ErrHandshakeFailed)
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(err)
			}
			return err
		}
		conn = ws
		return nil
	}, retry.Attempts(c.cfg.DialAttempts), retry.Sleep(c.cfg.DialBackoff))
	if err != nil {
		c.h.OnError(nil, network.StageHandshake, err)
		return nil, err
	}

	cc := newWSClientConn(conn, c.cfg, c.h)
	c.h.OnConnected(cc)
	return cc, nil
}

// wsClientConn 是基于 WebSocket 的 ClientConn 默认实现。
type wsClientConn struct {
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	cfg Config
	h   Handler

	remoteAddr net.Addr
	localAddr  net.Addr

	sendChan chan network.Frame
	recvChan chan network.Frame

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newWSClientConn(conn *websocket.Conn, cfg Config, h Handler) *wsClientConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClientConn{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		h:          h,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendChan:   make(chan network.Frame, cfg.SendQueueSize),
		recvChan:   make(chan network.Frame, cfg.RecvQueueSize),
	}

	// 使用 conc.Go 启动收发协程，避免直接使用原生 go 关键字。
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		c.sendLoop()
		return struct{}{}, nil
	})

	return c
}

func (c *wsClientConn) Context() context.Context { return c.ctx }
func (c *wsClientConn) RemoteAddr() net.Addr { return c.remoteAddr }
func (c *wsClientConn) LocalAddr() net.Addr { return c.localAddr }
func (c *wsClientConn) Recv() <-chan network.Frame { return c.recvChan }

func (c *wsClientConn) Decode(frame network.Frame, msg any) error {
	return c.cfg.Codec.Decode(frame, msg)
}

func (c *wsClientConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsClientConn) Send(msg any) error {
	frame, err := c.cfg.Codec.Encode(msg)
	if err != nil {
		c.h.OnError(c, network.StageEncode, err)
		return err
	}
	return c.SendFrame(frame)
}

func (c *wsClientConn) SendFrame(frame network.Frame) error {
	select {
	case <-c.ctx.Done():
		return merr.WrapErrConnectionClosed(0, "client")
	case c.sendChan <- frame:
		return nil
	}
}

func (c *wsClientConn) Close() error {
	// 关闭帧与数据帧走不同的写路径，gorilla 允许 WriteControl 与 WriteMessage 并发。
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
	return c.close(nil)
}

func (c *wsClientConn) Abort() error {
	return c.close(nil)
}

func (c *wsClientConn) close(cause error) error {
	var err error
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.cancel()
		err = c.conn.Close()
		c.h.OnClosed(c, cause)
	})
	return err
}

// recvLoop 持续读取 WebSocket 数据帧并投递到 recvChan，退出时关闭 recvChan。
func (c *wsClientConn) recvLoop() {
	defer close(c.recvChan)

	for {
		if c.cfg.ReadTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
				c.close(errors.Mark(err, network.ErrRecvFailed))
				return
			}
		}

		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			var cause error
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = errors.Mark(err, network.ErrRecvFailed)
				c.h.OnError(c, network.StageRecvRaw, cause)
			}
			c.close(cause)
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case c.recvChan <- network.Frame{Type: network.MessageType(mt), Data: data}:
		}
	}
}

// sendLoop 从 sendChan 读取帧并写入 WebSocket。
func (c *wsClientConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.sendChan:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.close(errors.Mark(err, network.ErrSendFailed))
				return
			}
			if err := c.conn.WriteMessage(int(frame.Type), frame.Data); err != nil {
				c.h.OnError(c, network.StageSend, err)
				c.close(errors.Mark(err, network.ErrSendFailed))
				return
			}
		}
	}
}
