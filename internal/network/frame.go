package network

import "github.com/gorilla/websocket"

// MessageType 与 gorilla/websocket 的数据帧类型取值一致。
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame 是一条完整的 WebSocket 数据帧。
type Frame struct {
	Type MessageType
	Data []byte
}

// TextFrame 构造一个文本帧。
func TextFrame(data []byte) Frame {
	return Frame{Type: TextMessage, Data: data}
}

// BinaryFrame 构造一个二进制帧。
func BinaryFrame(data []byte) Frame {
	return Frame{Type: BinaryMessage, Data: data}
}

func (f Frame) IsText() bool {
	return f.Type == TextMessage
}
