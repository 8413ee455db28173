// Package json 为项目内统一的 JSON 编解码入口，底层基于 bytedance/sonic。
//
// 使用 sonic.ConfigStd 以保持与 encoding/json 一致的行为（HTML 转义、map key 排序等），
// 避免不同模块之间因编码器配置不同导致的线上差异。
package json

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

var api = sonic.ConfigStd

// RawMessage 为延迟解码的 JSON 片段，sonic 对其行为与 encoding/json 一致。
type RawMessage = stdjson.RawMessage

// Marshal 将 v 编码为 JSON 字节。
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal 将 JSON 字节解码到 v 中，v 必须为指针。
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Valid 判断 data 是否为合法的 JSON 文本。
func Valid(data []byte) bool {
	return api.Valid(data)
}
