package acceptor

import (
	"context"
	"net/http"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/session"
	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/metrics"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

// BaseAcceptor 是基于 gorilla/websocket 的 Acceptor 实现。
//
// 每个连接的读循环运行在 net/http 为该请求分配的协程中，
// 因此同一 Session 上的 Handler 回调天然串行。
type BaseAcceptor struct {
	cfg      Config
	handler  Handler
	upgrader *websocket.Upgrader
	sessions session.SessionManager

	nextID atomic.Uint64
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*BaseAcceptor)(nil)

// NewWebSocketAcceptor 创建一个 WebSocket 接入器。
func NewWebSocketAcceptor(cfg Config, h Handler) (*BaseAcceptor, error) {
	if h == nil {
		return nil, merr.WrapErrParameterMissing("handler", "acceptor")
	}
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BaseAcceptor{
		cfg:      cfg,
		handler:  h,
		upgrader: upgrader,
		sessions: session.NewBaseSessionManager(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (a *BaseAcceptor) Sessions() session.SessionManager {
	return a.sessions
}

// ServeHTTP 完成升级并在当前协程中运行该连接的读循环，直到连接结束。
func (a *BaseAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if a.closed.Load() {
		http.Error(w, merr.ErrServiceNotReady.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经向客户端写出了错误响应。
		a.handler.OnError(nil, network.StageHandshake, errors.Mark(err, network.ErrHandshakeFailed))
		return
	}

	a.wg.Add(1)
	defer a.wg.Done()
	if a.closed.Load() {
		_ = conn.Close()
		return
	}

	if a.cfg.ReadLimit > 0 {
		conn.SetReadLimit(a.cfg.ReadLimit)
	}

	id := a.nextID.Inc()
	sess := session.NewBaseSession(a.ctx, id, conn, session.Options{
		SendQueueSize: a.cfg.SendQueueSize,
		WriteTimeout:  a.cfg.WriteTimeout,
		Codec:         a.cfg.Codec,
	})
	if err := a.sessions.Register(sess); err != nil {
		a.handler.OnError(sess, network.StageHandshake, err)
		sess.Abort()
		return
	}
	metrics.AcceptedConnectionsTotal.Inc()

	a.handleConnection(sess, conn)
}

// handleConnection 处理单个连接的生命周期。
//
// 流程：
//  1. 调用 Handler.OnConnected；
//  2. 循环读取数据帧并回调 Handler.OnMessage；
//  3. 读失败后注销会话、关闭底层连接，并回调 Handler.OnClosed。
func (a *BaseAcceptor) handleConnection(sess *session.BaseSession, conn *websocket.Conn) {
	a.handler.OnConnected(sess)

	var cause error
	defer func() {
		_ = a.sessions.Unregister(sess.ID())
		// 读循环结束意味着对端已经不可达，未写出的帧直接丢弃。
		sess.Abort()
		a.handler.OnClosed(sess, cause)
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) && sess.Context().Err() == nil {
				cause = errors.Mark(err, network.ErrRecvFailed)
				a.handler.OnError(sess, network.StageRecvRaw, cause)
			}
			return
		}
		a.handler.OnMessage(sess, network.Frame{Type: network.MessageType(mt), Data: data})
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}

// Shutdown 拒绝新连接并优雅关闭所有会话。
//
// ctx 结束时仍未退出的连接被强制关闭。
func (a *BaseAcceptor) Shutdown(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.sessions.Range(func(sess session.Session) bool {
		_ = sess.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		return nil
	case <-ctx.Done():
		a.cancel()
		log.Warn("acceptor shutdown timed out, aborting remaining sessions",
			zap.Int("remaining", a.sessions.Count()))
		<-done
		return ctx.Err()
	}
}
