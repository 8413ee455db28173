// Package server 组装 vnsync 会话服务：WebSocket 接入、会话目录、指标与健康检查。
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/vnsync-go/internal/json"
	"github.com/lk2023060901/vnsync-go/internal/network/acceptor"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/internal/vnsync"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/directory"
	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/metrics"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

const (
	healthPath             = "/healthz"
	defaultShutdownTimeout = 10 * time.Second
)

// Options 为 Server 的构造参数。
type Options struct {
	Config *vnsync.Config
	// Logger 为空时使用全局 Logger。
	Logger *log.MLogger
	// OnViolation 透传给 directory.Config。
	OnViolation func(directory.Violation)
	// ShutdownTimeout 为 Serve 在 ctx 结束后等待优雅关闭的时长。
	ShutdownTimeout time.Duration
}

// Server 持有目录、接入器与 HTTP 服务。
type Server struct {
	log.Binder

	cfg             *vnsync.Config
	dir             *directory.Directory
	acceptor        *acceptor.BaseAcceptor
	registry        *prometheus.Registry
	httpServer      *http.Server
	shutdownTimeout time.Duration

	shutdownOnce sync.Once
	shutdownErr  error
}

// New 创建 Server，会话目录随之启动。
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, merr.WrapErrParameterMissing("config", "server.New")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	cfg := opts.Config

	s := &Server{
		cfg:             cfg,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.With()
	}
	s.SetLogger(logger.With(log.FieldComponent("server")))

	wire := codec.NewJSON()
	s.dir = directory.New(directory.Config{
		HandshakeTimeout: cfg.Session.HandshakeTimeout,
		GraceWindow:      cfg.Session.GraceWindow,
		MaxConnections:   cfg.Server.MaxConnections,
		Codec:            wire,
		OnViolation:      opts.OnViolation,
	})

	acc, err := acceptor.NewWebSocketAcceptor(acceptor.Config{
		SendQueueSize: cfg.Server.SendQueueSize,
		ReadLimit:     cfg.Server.ReadLimit,
		WriteTimeout:  cfg.Server.WriteTimeout,
		Codec:         wire,
	}, &bridge{dir: s.dir, logger: s.Logger()})
	if err != nil {
		s.dir.Stop()
		return nil, err
	}
	s.acceptor = acc

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, acc)
	mux.HandleFunc(healthPath, s.handleHealth)
	if cfg.Metrics.Enable {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics.Register(s.registry)
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler 返回服务的 HTTP 路由，便于嵌入到 httptest 或其他服务中。
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Directory() *directory.Directory {
	return s.dir
}

// Registry 返回指标注册表，未开启指标时为 nil。
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// ListenAndServe 监听 server.addr 并提供服务，直到 ctx 结束或服务出错。
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return merr.WrapErrIoFailed(s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务。ctx 结束后执行优雅关闭，并在关闭完成后返回。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Logger().Info("vnsync server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.cfg.Server.Path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer done()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown 依次停止会话目录（以 server_shutdown 关闭剩余连接）、接入器与 HTTP 服务。
// 可重复调用，返回首次关闭的结果。
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.Logger().Info("vnsync server shutting down")
		s.dir.Stop()
		s.shutdownErr = merr.Combine(
			s.acceptor.Shutdown(ctx),
			s.httpServer.Shutdown(ctx),
		)
		if s.shutdownErr != nil {
			s.Logger().Warn("vnsync server shutdown incomplete", zap.Error(s.shutdownErr))
		}
	})
	return s.shutdownErr
}

type healthResponse struct {
	Status string `json:"status"`
	directory.Stats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	stats, err := s.dir.Stats(ctx)
	if err != nil {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	} else {
		resp.Stats = stats
	}

	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
