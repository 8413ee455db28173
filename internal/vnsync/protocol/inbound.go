// Package protocol 定义 vnsync 的 JSON 文本帧协议：入站请求的解码与校验，
// 以及出站应答与关闭消息的构造。
package protocol

import (
	"github.com/lk2023060901/vnsync-go/internal/json"
	network "github.com/lk2023060901/vnsync-go/internal/network"
	"github.com/lk2023060901/vnsync-go/internal/network/codec"
	"github.com/lk2023060901/vnsync-go/pkg/util/merr"
)

// Method 为消息体中的 method 字段。
type Method string

const (
	MethodInit           Method = "init"
	MethodGetStateString Method = "get_state_string"
	MethodSetStateString Method = "set_state_string"

	MethodReply Method = "reply"
	MethodClose Method = "close"
)

// InitType 为 init 请求中的 init_type 字段。
type InitType string

const (
	InitHost      InitType = "host"
	InitClient    InitType = "client"
	InitReconnect InitType = "reconnect"
)

// Request 是一条已解码并通过校验的入站请求。
type Request struct {
	ID   string
	Body Body
}

// Body 是入站请求体，具体类型为 Init、GetStateString 或 SetStateString。
type Body interface {
	Method() Method
	isBody()
}

// Init 为握手请求。RoomID 仅在 InitClient 时有效，SessionID 仅在 InitReconnect 时有效。
type Init struct {
	Type      InitType
	RoomID    string
	SessionID string
}

type GetStateString struct{}

type SetStateString struct {
	Value string
}

func (Init) Method() Method           { return MethodInit }
func (GetStateString) Method() Method { return MethodGetStateString }
func (SetStateString) Method() Method { return MethodSetStateString }

func (Init) isBody()           {}
func (GetStateString) isBody() {}
func (SetStateString) isBody() {}

// 线上格式按 method、init_type 分层解码；未知字段忽略，必填字段用指针区分缺失。
type wireRequest struct {
	ID   *string         `json:"id"`
	Body json.RawMessage `json:"body"`
}

type wireMethod struct {
	Method *string `json:"method"`
}

type wireInit struct {
	InitType *string `json:"init_type"`
}

type wireClientInit struct {
	RoomID *string `json:"room_id"`
}

type wireReconnectInit struct {
	SessionID *string `json:"session_id"`
}

type wireSetStateString struct {
	String *string `json:"string"`
}

// Decode 将一条入站帧解码为 Request。
//
// 二进制帧、非法 JSON、缺失必填字段、未知 method 或 init_type 均返回
// merr.ErrMalformedMessage。
func Decode(c codec.Codec, frame network.Frame) (Request, error) {
	var wire wireRequest
	if err := c.Decode(frame, &wire); err != nil {
		return Request{}, err
	}
	if wire.ID == nil {
		return Request{}, merr.WrapErrMalformedMessage("missing field id")
	}

	body, err := decodeBody(c, wire.Body)
	if err != nil {
		return Request{}, err
	}
	return Request{ID: *wire.ID, Body: body}, nil
}

func decodeBody(c codec.Codec, raw json.RawMessage) (Body, error) {
	if len(raw) == 0 {
		return nil, merr.WrapErrMalformedMessage("missing field body")
	}

	var m wireMethod
	if err := decodeRaw(c, raw, &m); err != nil {
		return nil, err
	}
	if m.Method == nil {
		return nil, merr.WrapErrMalformedMessage("missing field method")
	}

	switch Method(*m.Method) {
	case MethodInit:
		return decodeInit(c, raw)
	case MethodGetStateString:
		return GetStateString{}, nil
	case MethodSetStateString:
		var set wireSetStateString
		if err := decodeRaw(c, raw, &set); err != nil {
			return nil, err
		}
		if set.String == nil {
			return nil, merr.WrapErrMalformedMessage("missing field string")
		}
		return SetStateString{Value: *set.String}, nil
	default:
		return nil, merr.WrapErrMalformedMessage("unknown method " + *m.Method)
	}
}

func decodeInit(c codec.Codec, raw json.RawMessage) (Body, error) {
	var init wireInit
	if err := decodeRaw(c, raw, &init); err != nil {
		return nil, err
	}
	if init.InitType == nil {
		return nil, merr.WrapErrMalformedMessage("missing field init_type")
	}

	switch InitType(*init.InitType) {
	case InitHost:
		return Init{Type: InitHost}, nil
	case InitClient:
		var client wireClientInit
		if err := decodeRaw(c, raw, &client); err != nil {
			return nil, err
		}
		if client.RoomID == nil {
			return nil, merr.WrapErrMalformedMessage("missing field room_id")
		}
		return Init{Type: InitClient, RoomID: *client.RoomID}, nil
	case InitReconnect:
		var reconnect wireReconnectInit
		if err := decodeRaw(c, raw, &reconnect); err != nil {
			return nil, err
		}
		if reconnect.SessionID == nil {
			return nil, merr.WrapErrMalformedMessage("missing field session_id")
		}
		return Init{Type: InitReconnect, SessionID: *reconnect.SessionID}, nil
	default:
		return nil, merr.WrapErrMalformedMessage("unknown init_type " + *init.InitType)
	}
}

func decodeRaw(c codec.Codec, raw json.RawMessage, v any) error {
	return c.Decode(network.TextFrame(raw), v)
}
