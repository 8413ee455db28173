package server

import (
	"go.uber.org/zap"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/acceptor"
	"github.com/lk2023060901/vnsync-go/internal/network/session"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/connection"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/directory"
	"github.com/lk2023060901/vnsync-go/pkg/log"
)

// bridge 将传输层事件转换为目录操作。
type bridge struct {
	dir    *directory.Directory
	logger *log.MLogger
}

var _ acceptor.Handler = (*bridge)(nil)

func (b *bridge) OnConnected(sess session.Session) {
	if err := b.dir.Connect(sess.ID(), sess); err != nil {
		b.logger.RatedInfo(1, "reject connection", log.FieldConnectionID(sess.ID()), zap.Error(err))
		connection.CloseResponder(sess, connection.StopServerShutdown)
	}
}

func (b *bridge) OnMessage(sess session.Session, frame network.Frame) {
	b.dir.RouteMessage(sess.ID(), frame)
}

func (b *bridge) OnClosed(sess session.Session, err error) {
	if err != nil {
		b.logger.Debug("connection closed", log.FieldConnectionID(sess.ID()), zap.Error(err))
	}
	b.dir.Disconnect(sess.ID())
}

func (b *bridge) OnError(sess session.Session, stage network.Stage, err error) {
	fields := []zap.Field{zap.String("stage", string(stage)), zap.Error(err)}
	if sess != nil {
		fields = append(fields, log.FieldConnectionID(sess.ID()))
	}
	b.logger.RatedWarn(1, "transport error", fields...)
}
