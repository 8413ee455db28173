package codec

import (
	"github.com/cockroachdb/errors"

	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/serializer"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

// Codec 抽象了“业务对象 <-> WebSocket 帧”的编解码流程。
//
// Pipeline（写出 Encode）：
//
//	msg --> serializer --> text frame
//
// Pipeline（读入 Decode）：
//
//	text frame --> serializer --> msg
//
// 二进制帧与无法解析的文本一律视为 malformed。
type Codec interface {
	// Encode 将业务对象编码为一条文本帧。
	Encode(msg any) (network.Frame, error)

	// Decode 将一条文本帧解码到 msg 中，msg 必须为指针。
	Decode(frame network.Frame, msg any) error
}

type textCodec struct {
	serializer serializer.Serializer
}

var _ Codec = (*textCodec)(nil)

// New 创建一个基于给定 Serializer 的文本帧 Codec。
func New(s serializer.Serializer) (Codec, error) {
	if s == nil {
		return nil, merr.WrapErrParameterMissing("serializer", "codec.New")
	}
	return &textCodec{serializer: s}, nil
}

// NewJSON 返回基于 internal/json 的默认 Codec。
func NewJSON() Codec {
	return &textCodec{serializer: serializer.JSONSerializer{}}
}

func (c *textCodec) Encode(msg any) (network.Frame, error) {
	data, err := c.serializer.Marshal(msg)
	if err != nil {
		return network.Frame{}, errors.Mark(errors.Wrap(err, "encode frame"), network.ErrEncodeFailed)
	}
	return network.TextFrame(data), nil
}

func (c *textCodec) Decode(frame network.Frame, msg any) error {
	if !frame.IsText() {
		return errors.Mark(merr.WrapErrMalformedMessage(frame.Type.String()+" frame"), network.ErrDecodeFailed)
	}
	if err := c.serializer.Unmarshal(frame.Data, msg); err != nil {
		return errors.Mark(merr.WrapErrMalformedMessage(err.Error()), network.ErrDecodeFailed)
	}
	return nil
}
