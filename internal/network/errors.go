package network

import "github.com/cockroachdb/errors"

// Stage 表示网络收发链路中的处理阶段。
//
// 主要用于在回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageHandshake Stage = "handshake" // WebSocket 升级
	StageRecvRaw   Stage = "recv_raw"  // 读取 WebSocket 帧
	StageDecode    Stage = "decode"    // 帧 -> 业务对象
	StageDispatch  Stage = "dispatch"  // 业务对象 -> 业务处理
	StageEncode    Stage = "encode"    // 业务对象 -> 帧
	StageSend      Stage = "send"      // 写出 WebSocket 帧
)

var (
	// ErrHandshakeFailed 表示 WebSocket 升级或拨号失败。
	ErrHandshakeFailed = errors.New("network:handshake_failed")

	// ErrRecvFailed 表示在读取底层连接数据时发生错误。
	ErrRecvFailed = errors.New("network:recv_failed")

	// ErrDecodeFailed 表示帧无法解码为业务对象。
	// 具体错误通过 errors.Mark 标记，可同时匹配 merr.ErrMalformedMessage。
	ErrDecodeFailed = errors.New("network:decode_failed")

	// ErrEncodeFailed 表示业务对象无法编码为帧。
	ErrEncodeFailed = errors.New("network:encode_failed")

	// ErrSendFailed 表示在发送数据到对端时发生错误。
	ErrSendFailed = errors.New("network:send_failed")
)
