// Package application 是 vnsync-server 进程的运行时容器：
// 负责解析配置路径、初始化日志，并运行会话服务直到收到退出信号。
package application

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/vnsync-go/internal/vnsync"
	"github.com/lk2023060901/vnsync-go/internal/vnsync/server"
	"github.com/lk2023060901/vnsync-go/pkg/log"
)

const (
	defaultConfigPath = "./config.yaml"
	configPathEnv     = "VNSYNC_CONFIG_FILE_PATH"
)

// Application 持有配置与按模块命名的 Logger。
type Application struct {
	args    []string
	cfg     *vnsync.Config
	loggers map[string]*log.MLogger
}

// New 创建 Application，args 通常为 os.Args[1:]。
func New(args []string) *Application {
	return &Application{args: args}
}

// Run 加载配置、初始化日志并运行服务，直到 ctx 结束或收到 SIGINT/SIGTERM。
//
// 配置文件路径的优先级（后者覆盖前者）：
//  1. 默认值 ./config.yaml（不存在时只使用默认值与环境变量）；
//  2. 环境变量 VNSYNC_CONFIG_FILE_PATH；
//  3. 命令行 --config <path> 或 --config=<path>。
func (a *Application) Run(ctx context.Context) error {
	if err := a.Init(); err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	srv, err := server.New(server.Options{
		Config: a.cfg,
		Logger: a.Logger("server"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("vnsync server starting",
		zap.String("addr", a.cfg.Server.Addr),
		zap.Int("maxConnections", a.cfg.Server.MaxConnections),
		zap.Duration("handshakeTimeout", a.cfg.Session.HandshakeTimeout),
		zap.Duration("graceWindow", a.cfg.Session.GraceWindow))
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Error("vnsync server exited", zap.Error(err))
		return err
	}
	log.Info("vnsync server stopped")
	return nil
}

// Init 加载配置并初始化全局与模块 Logger。
func (a *Application) Init() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	return a.initLogging()
}

// Config 返回已加载的配置。
func (a *Application) Config() *vnsync.Config {
	return a.cfg
}

// Logger 返回配置中 logging.<name> 对应的 Logger，未配置时退回全局 Logger。
func (a *Application) Logger(name string) *log.MLogger {
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return log.With(log.FieldModule(name))
}

func (a *Application) loadConfig() (*vnsync.Config, error) {
	configPath, explicit, err := resolveConfigPath(a.args)
	if err != nil {
		return nil, err
	}
	if !explicit {
		if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
			configPath = ""
		}
	}

	cfg, err := vnsync.Load(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %q", configPath)
	}
	return cfg, nil
}

// resolveConfigPath 返回配置文件路径，以及该路径是否由环境变量或命令行显式指定。
func resolveConfigPath(args []string) (string, bool, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(configPathEnv); envPath != "" {
		configPath = envPath
		explicit = true
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return "", false, errors.New("missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if val, ok := strings.CutPrefix(arg, "--config="); ok && val != "" {
			configPath = val
			explicit = true
		}
	}
	return configPath, explicit, nil
}

// initLogging 先创建模块 Logger，再初始化全局 Logger，
// 保证 log.Ctx 使用的分级 Logger 来自全局配置。
func (a *Application) initLogging() error {
	if err := a.initModuleLoggers(); err != nil {
		return err
	}
	return initGlobalLoggerFromEnv()
}

// initGlobalLoggerFromEnv 根据 VNSYNC_LOG_* 环境变量配置全局 Logger。
//
//   - VNSYNC_LOG_ENABLE：为 "1"/"true" 时开启输出，默认开启；
//   - VNSYNC_LOG_LEVEL：日志级别，默认 "info"；
//   - VNSYNC_LOG_STDOUT：是否输出到标准输出，默认开启；
//   - VNSYNC_LOG_FILE_DIR：日志目录；
//   - VNSYNC_LOG_FILE：日志文件名，留空表示不写文件；
//   - VNSYNC_LOG_FORMAT：日志格式（text 或 json），默认 text；
//   - VNSYNC_LOG_DEVELOPMENT：开发模式，DPanic 级别日志直接 panic。
func initGlobalLoggerFromEnv() error {
	cfg := &log.Config{
		Level:       getenvDefault("VNSYNC_LOG_LEVEL", "info"),
		Format:      getenvDefault("VNSYNC_LOG_FORMAT", "text"),
		Stdout:      getenvBool("VNSYNC_LOG_STDOUT", true),
		Development: getenvBool("VNSYNC_LOG_DEVELOPMENT", false),
		File: log.FileLogConfig{
			RootPath: getenvDefault("VNSYNC_LOG_FILE_DIR", ""),
			Filename: getenvDefault("VNSYNC_LOG_FILE", ""),
		},
	}

	// 未开启时所有输出都被丢弃
	if !getenvBool("VNSYNC_LOG_ENABLE", true) {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// initModuleLoggers 为 logging 段中的每一项创建独立的 Logger，例如：
//
//	logging:
//	  server:
//	    level: debug
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: server.log
func (a *Application) initModuleLoggers() error {
	if len(a.cfg.Logging) == 0 {
		return nil
	}

	a.loggers = make(map[string]*log.MLogger, len(a.cfg.Logging))
	for name, lc := range a.cfg.Logging {
		cfgCopy := lc
		logger, _, err := log.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &log.MLogger{Logger: logger.With(log.FieldModule(name))}
	}
	return nil
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
