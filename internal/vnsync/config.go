// Package vnsync 汇总会话服务的配置。
package vnsync

import (
	"strings"
	"time"

	"github.com/lk2023060901/vnsync-go/pkg/log"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
	"github.com/lk2023060901/vnsync-go/pkg/util/viper"
)

// EnvPrefix 为环境变量覆盖的前缀，例如 VNSYNC_SERVER_ADDR。
const EnvPrefix = "VNSYNC"

// ServerConfig 为监听与传输相关配置。
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max-connections"`
	SendQueueSize  int           `mapstructure:"send-queue-size"`
	ReadLimit      int64         `mapstructure:"read-limit"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`
}

// SessionConfig 为握手与断线重连相关配置。
type SessionConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	GraceWindow      time.Duration `mapstructure:"grace-window"`
}

type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config 为 vnsync-server 的完整配置。
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Logging 为按名称区分的模块 Logger 配置，全局 Logger 由 VNSYNC_LOG_* 环境变量控制。
	Logging map[string]log.Config `mapstructure:"logging"`
}

var defaults = map[string]any{
	"server.addr":               ":8080",
	"server.path":               "/ws",
	"server.max-connections":    0,
	"server.send-queue-size":    256,
	"server.read-limit":         int64(64 << 10),
	"server.write-timeout":      10 * time.Second,
	"session.handshake-timeout": 5 * time.Second,
	"session.grace-window":      60 * time.Second,
	"metrics.enable":            true,
	"metrics.path":              "/metrics",
}

// NewConfigSource 返回已设置默认值并开启环境变量覆盖的配置源。
func NewConfigSource() *viper.Config {
	v := viper.New()
	v.AutomaticEnv(EnvPrefix)
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load 读取配置文件（path 为空时只使用默认值与环境变量）并校验。
func Load(path string) (*Config, error) {
	v := NewConfigSource()
	if path != "" {
		if err := v.LoadFile(path); err != nil {
			return nil, merr.WrapErrIoFailed(path, err)
		}
	}
	return Decode(v)
}

// Decode 从配置源反序列化并校验 Config。
func Decode(v *viper.Config) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, merr.WrapErrParameterInvalid("valid config", err.Error(), "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值是否合法，返回所有不合法项的组合错误。
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, merr.WrapErrParameterMissing("server.addr"))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, merr.WrapErrParameterInvalid("/...", c.Server.Path, "server.path"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, merr.WrapErrParameterInvalid[any](">= 0", c.Server.MaxConnections, "server.max-connections"))
	}
	errs = append(errs,
		checkPositive("server.send-queue-size", c.Server.SendQueueSize),
		checkPositive("server.read-limit", c.Server.ReadLimit),
		checkPositive("server.write-timeout", c.Server.WriteTimeout),
		checkPositive("session.handshake-timeout", c.Session.HandshakeTimeout),
		checkPositive("session.grace-window", c.Session.GraceWindow),
	)
	if c.Metrics.Enable {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, merr.WrapErrParameterInvalid("/...", c.Metrics.Path, "metrics.path"))
		} else if c.Metrics.Path == c.Server.Path {
			errs = append(errs, merr.WrapErrParameterInvalid("distinct from server.path", c.Metrics.Path, "metrics.path"))
		}
	}
	return merr.Combine(errs...)
}

func checkPositive[T int | int64 | time.Duration](key string, v T) error {
	if v > 0 {
		return nil
	}
	return merr.WrapErrParameterInvalid[any]("> 0", v, key)
}
