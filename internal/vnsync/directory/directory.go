// Package directory 实现服务端唯一的会话目录。
//
// Directory 由单个 worker 协程串行处理全部消息，独占以下状态：
//   - clients：连接 id 到连接 worker 的注册表；
//   - dangling：断线后等待重连的会话，每项带有一个宽限计时器；
//   - tombstones：由目录主动关闭、但传输层尚未上报断开的连接 id；
//   - stopping：传输层已上报断开、但 worker 尚未回报 StopConnection 的连接 id。
//
// 认领（ClaimDanglingSession）与过期都在该 worker 上执行，先到者生效，
// 因此同一个会话至多被一个连接成功取回。
// 认领未命中且仍有连接处于 stopping 时，认领会被挂起，
// 直到这些连接的会话进入 dangling 后再判定。
package directory

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/vnsync-go/internal/actor"
	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/connection"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/protocol"
	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/metrics"
	"github.com/lk2023060901/vnsync-go/pkg/util/conc"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
	"github.com/lk2023060901/vnsync-go/pkg/util/typeutil"
)

const defaultGraceWindow = 60 * time.Second

// Violation 描述一次内部不变量被破坏的情况。
type Violation struct {
	ConnectionID uint64
	Reason       string
}

// Config 为 Directory 的参数。
type Config struct {
	// HandshakeTimeout 传递给每个连接 worker。
	HandshakeTimeout time.Duration
	// GraceWindow 为断线会话保留的时长，<= 0 时取默认值 60s。
	GraceWindow time.Duration
	// MaxConnections 为同时存在的连接 worker 上限，0 表示不限。
	MaxConnections int
	// Codec 用于解码入站帧，为空时使用 JSON。
	Codec codec.Codec
	// OnViolation 在不变量被破坏时调用，为空时以 DPanic 级别记录日志。
	OnViolation func(Violation)
}

// Stats 是目录状态的快照。
type Stats struct {
	Clients  int `json:"clients"`
	Dangling int `json:"dangling"`
}

type danglingEntry struct {
	state *connection.SessionState
	timer *actor.Timer
	token uint64
}

type claimResult struct {
	state *connection.SessionState
	ok    bool
}

type message interface {
	isMessage()
}

type connectMsg struct {
	id        uint64
	responder connection.Responder
}

type disconnectMsg struct {
	id uint64
}

type routeMsg struct {
	id  uint64
	req protocol.Request
	err error
}

type stopConnectionMsg struct {
	conn   *connection.Connection
	state  *connection.SessionState
	reason connection.StopReason
}

type claimMsg struct {
	claimant  uint64
	sessionID string
	reply     chan<- claimResult
}

type expireMsg struct {
	sessionID string
	token     uint64
}

type statsMsg struct {
	reply chan<- Stats
}

type shutdownMsg struct{}

func (connectMsg) isMessage()        {}
func (disconnectMsg) isMessage()     {}
func (routeMsg) isMessage()          {}
func (stopConnectionMsg) isMessage() {}
func (claimMsg) isMessage()          {}
func (expireMsg) isMessage()         {}
func (statsMsg) isMessage()          {}
func (shutdownMsg) isMessage()       {}

// Directory 是会话目录。所有导出方法都可以在任意协程中调用。
type Directory struct {
	log.Binder

	cfg     Config
	codec   codec.Codec
	ctx     context.Context
	cancel  context.CancelFunc
	mailbox *actor.Mailbox[message]
	pool    *conc.Pool[struct{}]

	clients    map[uint64]*connection.Connection
	dangling   map[string]*danglingEntry
	tombstones typeutil.Set[uint64]
	stopping   typeutil.Set[uint64]
	deferred   []claimMsg
	lastToken  uint64

	stopOnce sync.Once
	done     chan struct{}
}

var _ connection.Directory = (*Directory)(nil)

// New 创建 Directory 并启动其 worker。
func New(cfg Config) *Directory {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = defaultGraceWindow
	}
	if cfg.OnViolation == nil {
		cfg.OnViolation = logViolation
	}
	c := cfg.Codec
	if c == nil {
		c = codec.NewJSON()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Directory{
		cfg:     cfg,
		codec:   c,
		ctx:     ctx,
		cancel:  cancel,
		mailbox: actor.NewMailbox[message](),
		pool: conc.NewPool[struct{}](cfg.MaxConnections,
			conc.WithNonBlocking(cfg.MaxConnections > 0),
			conc.WithPanicHandler(func(p any) {
				log.Error("connection worker panicked", zap.Any("panic", p), zap.Stack("stack"))
			}),
		),
		clients:    make(map[uint64]*connection.Connection),
		dangling:   make(map[string]*danglingEntry),
		tombstones: typeutil.NewSet[uint64](),
		stopping:   typeutil.NewSet[uint64](),
		done:       make(chan struct{}),
	}
	d.SetLogger(log.With(log.FieldComponent("directory")))
	go d.run()
	return d
}

func logViolation(v Violation) {
	log.DPanic("session directory invariant violated",
		log.FieldConnectionID(v.ConnectionID),
		zap.String("violation", v.Reason))
}

// Connect 为一个新建立的传输连接创建 worker 并登记。
// 目录已停止时返回 merr.ErrServiceNotReady。
func (d *Directory) Connect(id uint64, responder connection.Responder) error {
	if !d.mailbox.Post(connectMsg{id: id, responder: responder}) {
		return merr.WrapErrServiceNotReady("session directory", "stopped")
	}
	return nil
}

// Disconnect 处理传输层上报的断开，重复调用无副作用。
func (d *Directory) Disconnect(id uint64) {
	d.mailbox.Post(disconnectMsg{id: id})
}

// RouteMessage 在调用方协程中解码 frame，再交给对应的连接 worker。
func (d *Directory) RouteMessage(id uint64, frame network.Frame) {
	req, err := protocol.Decode(d.codec, frame)
	d.mailbox.Post(routeMsg{id: id, req: req, err: err})
}

// StopConnection 由连接 worker 在终止时调用。
func (d *Directory) StopConnection(conn *connection.Connection, state *connection.SessionState, reason connection.StopReason) {
	d.mailbox.Post(stopConnectionMsg{conn: conn, state: state, reason: reason})
}

// ClaimDanglingSession 原子地移除并返回一个悬挂会话，claimant 为发起认领的连接 id。
// 会话不存在、目录已停止或 ctx 结束时返回 false。
func (d *Directory) ClaimDanglingSession(ctx context.Context, claimant uint64, sessionID string) (*connection.SessionState, bool) {
	res, err := actor.Ask(ctx, d.mailbox, func(reply chan<- claimResult) message {
		return claimMsg{claimant: claimant, sessionID: sessionID, reply: reply}
	})
	if err != nil {
		d.Logger().Warn("claim dangling session failed", log.FieldSessionID(sessionID), zap.Error(err))
		return nil, false
	}
	return res.state, res.ok
}

// ExpireDanglingSession 在 token 匹配时移除悬挂会话，通常由宽限计时器触发。
func (d *Directory) ExpireDanglingSession(sessionID string, token uint64) {
	d.mailbox.Post(expireMsg{sessionID: sessionID, token: token})
}

// Stats 返回当前已登记连接数与悬挂会话数。
func (d *Directory) Stats(ctx context.Context) (Stats, error) {
	return actor.Ask(ctx, d.mailbox, func(reply chan<- Stats) message {
		return statsMsg{reply: reply}
	})
}

// Stop 终止所有连接 worker，以 server_shutdown 关闭剩余连接，
// 取消所有宽限计时器并等待 worker 退出。可重复调用。
func (d *Directory) Stop() {
	d.stopOnce.Do(func() {
		d.mailbox.Post(shutdownMsg{})
	})
	<-d.done
}

// Done 在 worker 退出后关闭。
func (d *Directory) Done() <-chan struct{} {
	return d.done
}

func (d *Directory) run() {
	defer close(d.done)
	for {
		msg, ok := d.mailbox.Receive()
		if !ok {
			return
		}
		if _, shutdown := msg.(shutdownMsg); shutdown {
			d.shutdown()
			return
		}
		d.handle(msg)
	}
}

func (d *Directory) handle(msg message) {
	switch m := msg.(type) {
	case connectMsg:
		d.handleConnect(m.id, m.responder)
	case disconnectMsg:
		d.handleDisconnect(m.id)
	case routeMsg:
		d.handleRoute(m)
	case stopConnectionMsg:
		d.handleStopConnection(m.conn, m.state, m.reason)
	case claimMsg:
		d.handleClaim(m)
	case expireMsg:
		d.handleExpire(m.sessionID, m.token)
	case statsMsg:
		m.reply <- Stats{Clients: len(d.clients), Dangling: len(d.dangling)}
	}
}

func (d *Directory) handleConnect(id uint64, responder connection.Responder) {
	if _, ok := d.clients[id]; ok {
		d.violate(id, "connection id registered twice")
		return
	}

	conn := connection.New(d.ctx, id, d, responder, connection.Config{HandshakeTimeout: d.cfg.HandshakeTimeout})
	_, err := d.pool.Submit(func() (struct{}, error) {
		conn.Run()
		return struct{}{}, nil
	})
	if err != nil {
		conn.Terminate()
		d.Logger().RatedWarn(1, "reject connection", log.FieldConnectionID(id), zap.Error(err))
		reason := connection.StopServerShutdown
		if errors.Is(err, merr.ErrServerBusy) {
			reason = connection.StopServerBusy
		}
		metrics.StopTotal.WithLabelValues(reason.String()).Inc()
		connection.CloseResponder(responder, reason)
		d.tombstones.Insert(id)
		return
	}

	d.clients[id] = conn
	d.updateGauges()
}

func (d *Directory) handleDisconnect(id uint64) {
	if conn, ok := d.clients[id]; ok {
		conn.Stop(connection.StopClientDisconnect)
		delete(d.clients, id)
		d.stopping.Insert(id)
		d.updateGauges()
		return
	}
	if d.tombstones.TryRemove(id) {
		d.Logger().Debug("disconnect of closed connection", log.FieldConnectionID(id))
	}
}

func (d *Directory) handleRoute(m routeMsg) {
	conn, ok := d.clients[m.id]
	if !ok {
		if d.tombstones.Contain(m.id) {
			return
		}
		d.violate(m.id, "message for unknown connection")
		return
	}
	if m.err != nil {
		conn.Malformed(m.err)
		return
	}
	conn.Deliver(m.req)
}

func (d *Directory) handleStopConnection(conn *connection.Connection, state *connection.SessionState, reason connection.StopReason) {
	defer conn.Terminate()
	defer d.retryDeferred()
	d.stopping.Remove(conn.ID())

	switch {
	case reason.ClosesTransport():
		// 未登记说明传输层已经上报断开，无需再关闭。
		if cur, ok := d.clients[conn.ID()]; ok && cur == conn {
			connection.CloseResponder(conn.Responder(), reason)
			delete(d.clients, conn.ID())
			d.tombstones.Insert(conn.ID())
		}
	case state != nil:
		d.insertDangling(state)
	}
	d.updateGauges()
}

func (d *Directory) insertDangling(state *connection.SessionState) {
	if old, ok := d.dangling[state.SessionID]; ok {
		old.timer.Cancel()
	}
	d.lastToken++
	token := d.lastToken
	d.dangling[state.SessionID] = &danglingEntry{
		state: state,
		token: token,
		timer: actor.SendAfter[message](d.mailbox, d.cfg.GraceWindow, expireMsg{sessionID: state.SessionID, token: token}),
	}
	d.Logger().Info("session dangling", log.FieldSessionID(state.SessionID), zap.Duration("grace", d.cfg.GraceWindow))
}

func (d *Directory) handleClaim(m claimMsg) {
	if res, ok := d.claim(m.sessionID); ok {
		m.reply <- res
		return
	}
	if d.awaitingStop(m.claimant) {
		d.deferred = append(d.deferred, m)
		return
	}
	m.reply <- d.missClaim(m.sessionID)
}

func (d *Directory) claim(sessionID string) (claimResult, bool) {
	entry, ok := d.dangling[sessionID]
	if !ok {
		return claimResult{}, false
	}
	entry.timer.Cancel()
	delete(d.dangling, sessionID)
	d.updateGauges()
	metrics.ReclaimTotal.WithLabelValues(metrics.SuccessLabel).Inc()
	d.Logger().Info("session reclaimed", log.FieldSessionID(sessionID))
	return claimResult{state: entry.state, ok: true}, true
}

func (d *Directory) missClaim(sessionID string) claimResult {
	metrics.ReclaimTotal.WithLabelValues(metrics.FailLabel).Inc()
	d.Logger().Info("claim missed", zap.Error(merr.WrapErrSessionNotFound(sessionID)))
	return claimResult{}
}

// awaitingStop 判断是否还有连接可能把会话交还目录。
// 自身阻塞在认领中的连接在得到应答前不会回报 StopConnection，不计入。
func (d *Directory) awaitingStop(claimant uint64) bool {
	if d.stopping.Len() == 0 {
		return false
	}
	blocked := typeutil.NewSet[uint64](claimant)
	for _, m := range d.deferred {
		blocked.Insert(m.claimant)
	}
	for id := range d.stopping {
		if !blocked.Contain(id) {
			return true
		}
	}
	return false
}

func (d *Directory) retryDeferred() {
	for i := 0; i < len(d.deferred); {
		m := d.deferred[i]
		res, ok := d.claim(m.sessionID)
		if !ok && d.awaitingStop(m.claimant) {
			i++
			continue
		}
		if !ok {
			res = d.missClaim(m.sessionID)
		}
		m.reply <- res
		d.deferred = append(d.deferred[:i], d.deferred[i+1:]...)
	}
}

func (d *Directory) handleExpire(sessionID string, token uint64) {
	entry, ok := d.dangling[sessionID]
	if !ok || entry.token != token {
		return
	}
	delete(d.dangling, sessionID)
	d.updateGauges()
	metrics.ExpiredSessionsTotal.Inc()
	d.Logger().Info("dangling session expired", log.FieldSessionID(sessionID))
}

func (d *Directory) shutdown() {
	for id, conn := range d.clients {
		conn.Terminate()
		connection.CloseResponder(conn.Responder(), connection.StopServerShutdown)
		delete(d.clients, id)
	}
	for sid, entry := range d.dangling {
		entry.timer.Cancel()
		delete(d.dangling, sid)
	}
	for _, m := range d.deferred {
		m.reply <- claimResult{}
	}
	d.deferred = nil
	d.updateGauges()

	d.cancel()
	d.mailbox.Close()
	d.pool.Release()
	d.Logger().Info("session directory stopped")
}

func (d *Directory) violate(id uint64, reason string) {
	metrics.InvariantViolationsTotal.Inc()
	d.cfg.OnViolation(Violation{ConnectionID: id, Reason: reason})
}

func (d *Directory) updateGauges() {
	metrics.ConnectedClients.Set(float64(len(d.clients)))
	metrics.DanglingSessions.Set(float64(len(d.dangling)))
}
