package viper

import (
	"path/filepath"
	"strings"

	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
//
// 优先级从高到低：环境变量、配置文件、默认值。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
func New() *Config {
	return &Config{
		v: spfviper.New(),
	}
}

// AutomaticEnv 开启环境变量覆盖。
// key 中的 '.' 与 '-' 会被替换为 '_'，例如前缀 VNSYNC 下
// server.max-connections 对应 VNSYNC_SERVER_MAX_CONNECTIONS。
func (c *Config) AutomaticEnv(prefix string) {
	c.v.SetEnvPrefix(prefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()
}

// SetDefault 为 key 设置默认值。
// 只有设置过默认值（或出现在配置文件中）的 key 才会在 Unmarshal 时读取环境变量。
func (c *Config) SetDefault(key string, value any) {
	c.v.SetDefault(key, value)
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	c.v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		c.v.SetConfigType("yaml")
	case ".json":
		c.v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return c.v.ReadInConfig()
}

// IsSet 判断 key 是否在任意来源中被设置。
func (c *Config) IsSet(key string) bool {
	return c.v.IsSet(key)
}

// Get 返回 key 对应的原始值。
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst any) error {
	return c.v.Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// 注意：该方法不会应用嵌套 key 的环境变量覆盖，需要覆盖时请使用 Unmarshal。
func (c *Config) UnmarshalKey(key string, dst any) error {
	return c.v.UnmarshalKey(key, dst)
}
