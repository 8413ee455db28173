package connection

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/vnsync-go/internal/actor"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/protocol"
	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/metrics"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

type fsmState int

const (
	stateWaitingForInit fsmState = iota
	stateInitialized
	stateStopped
)

func (s fsmState) String() string {
	switch s {
	case stateWaitingForInit:
		return "WaitingForInit"
	case stateInitialized:
		return "Initialized"
	case stateStopped:
		return "Stopped"
	default:
		return "Unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

type message interface {
	isMessage()
}

type inboundMsg struct {
	req protocol.Request
}

type malformedMsg struct {
	err error
}

type initTimeoutMsg struct{}

type stopMsg struct {
	reason StopReason
}

func (inboundMsg) isMessage()     {}
func (malformedMsg) isMessage()   {}
func (initTimeoutMsg) isMessage() {}
func (stopMsg) isMessage()        {}

// Connection 是单个连接的状态机 worker。
//
// 除 ID、Responder 外，所有状态只在 Run 所在的协程中读写；
// 外部通过 Deliver、Malformed、Stop 投递消息。
type Connection struct {
	log.Binder

	ctx       context.Context
	id        uint64
	dir       Directory
	responder Responder
	mailbox   *actor.Mailbox[message]
	timer     *actor.Timer
	startedAt time.Time

	state   fsmState
	session *SessionState
}

// New 创建一个处于 WaitingForInit 的连接并启动握手计时。
// ctx 用于阻塞式的重连认领，通常由 Directory 提供。
func New(ctx context.Context, id uint64, dir Directory, responder Responder, cfg Config) *Connection {
	c := &Connection{
		ctx:       ctx,
		id:        id,
		dir:       dir,
		responder: responder,
		mailbox:   actor.NewMailbox[message](),
		startedAt: time.Now(),
		state:     stateWaitingForInit,
	}
	c.SetLogger(log.With(log.FieldComponent("connection"), log.FieldConnectionID(id)))
	c.timer = actor.SendAfter[message](c.mailbox, cfg.handshakeTimeout(), initTimeoutMsg{})
	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Responder() Responder {
	return c.responder
}

// Run 处理邮箱中的消息，直到 Terminate 被调用。
func (c *Connection) Run() {
	for {
		msg, ok := c.mailbox.Receive()
		if !ok {
			return
		}
		c.handle(msg)
	}
}

// Deliver 投递一条已解码的请求。
func (c *Connection) Deliver(req protocol.Request) bool {
	return c.mailbox.Post(inboundMsg{req: req})
}

// Malformed 通知连接收到了无法解码的帧。
func (c *Connection) Malformed(err error) bool {
	return c.mailbox.Post(malformedMsg{err: err})
}

// Stop 请求以 reason 终止连接；对已终止的连接无效。
func (c *Connection) Stop(reason StopReason) bool {
	return c.mailbox.Post(stopMsg{reason: reason})
}

// Terminate 关闭邮箱并取消握手计时，Run 随之返回。未处理的消息被丢弃。
func (c *Connection) Terminate() {
	c.timer.Cancel()
	c.mailbox.Close()
}

func (c *Connection) handle(msg message) {
	if c.state == stateStopped {
		return
	}
	switch m := msg.(type) {
	case inboundMsg:
		c.handleRequest(m.req)
	case malformedMsg:
		c.Logger().Info("malformed message", zap.Error(m.err))
		c.stop(StopMalformedMessage)
	case initTimeoutMsg:
		if c.state != stateWaitingForInit {
			return
		}
		c.Logger().Info("handshake timed out", zap.Error(merr.WrapErrSessionInitTimeout(c.id)))
		metrics.HandshakeTotal.WithLabelValues("none", metrics.FailLabel).Inc()
		c.stop(StopInitTimeout)
	case stopMsg:
		c.stop(m.reason)
	}
}

func (c *Connection) handleRequest(req protocol.Request) {
	method := req.Body.Method()
	metrics.InboundMessagesTotal.WithLabelValues(string(method)).Inc()

	switch body := req.Body.(type) {
	case protocol.Init:
		if c.state != stateWaitingForInit {
			c.ignore(req)
			return
		}
		c.handleInit(req.ID, body)
	case protocol.GetStateString:
		if c.state != stateInitialized {
			c.ignore(req)
			return
		}
		c.send(protocol.NewGetStateStringReply(req.ID, c.session.StateString))
	case protocol.SetStateString:
		if c.state != stateInitialized {
			c.ignore(req)
			return
		}
		c.session.StateString = body.Value
		c.send(protocol.NewSetStateStringReply(req.ID))
	}
}

func (c *Connection) handleInit(id string, init protocol.Init) {
	c.timer.Cancel()

	switch init.Type {
	case protocol.InitHost:
		c.initialize(&SessionState{SessionID: uuid.NewString(), RoomID: uuid.NewString()}, init.Type)
		c.send(protocol.NewHostReply(id, c.session.SessionID, c.session.RoomID))
	case protocol.InitClient:
		c.initialize(&SessionState{SessionID: uuid.NewString(), RoomID: init.RoomID}, init.Type)
		c.send(protocol.NewClientReply(id, c.session.SessionID))
	case protocol.InitReconnect:
		state, ok := c.dir.ClaimDanglingSession(c.ctx, c.id, init.SessionID)
		if !ok || state == nil {
			c.Logger().Info("reconnect rejected", log.FieldSessionID(init.SessionID))
			metrics.HandshakeTotal.WithLabelValues(string(init.Type), metrics.FailLabel).Inc()
			c.stop(StopBadSessionIDProvided)
			return
		}
		c.initialize(state, init.Type)
		c.send(protocol.NewReconnectReply(id))
	}
}

func (c *Connection) initialize(state *SessionState, initType protocol.InitType) {
	c.session = state
	c.state = stateInitialized
	c.SetLogger(c.Logger().With(log.FieldSessionID(state.SessionID)))

	metrics.HandshakeTotal.WithLabelValues(string(initType), metrics.SuccessLabel).Inc()
	metrics.HandshakeLatency.WithLabelValues(string(initType)).
		Observe(float64(time.Since(c.startedAt).Milliseconds()))
	c.Logger().Info("session initialized", zap.String("initType", string(initType)))
}

func (c *Connection) ignore(req protocol.Request) {
	c.Logger().Debug("request ignored in current state",
		zap.String("method", string(req.Body.Method())),
		zap.Stringer("state", c.state))
}

func (c *Connection) send(msg any) {
	if err := c.responder.Send(msg); err != nil {
		c.Logger().RatedWarn(1, "failed to send reply", zap.Error(err))
	}
}

func (c *Connection) stop(reason StopReason) {
	if c.state == stateStopped {
		return
	}
	c.timer.Cancel()
	state := c.session
	c.state = stateStopped
	c.session = nil

	metrics.StopTotal.WithLabelValues(reason.String()).Inc()
	c.Logger().Info("connection stopped", log.FieldReason(reason.String()))
	c.dir.StopConnection(c, state, reason)
}

// CloseResponder 发送带原因的 close 消息后关闭传输，失败只记录限流日志。
func CloseResponder(r Responder, reason StopReason) {
	if err := r.Send(protocol.NewClose(reason.String())); err != nil {
		log.RatedWarn(1, "failed to send close", log.FieldConnectionID(r.ID()), zap.Error(err))
	}
	if err := r.Close(); err != nil {
		log.RatedWarn(1, "failed to close connection", log.FieldConnectionID(r.ID()), zap.Error(err))
	}
}
