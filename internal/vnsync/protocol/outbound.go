package protocol

// Reply 为对某条请求的应答，ID 与请求中的 id 一致。
type Reply struct {
	Method Method `json:"method"`
	ID     string `json:"id"`
	Data   any    `json:"data"`
}

// Close 在服务器主动终止连接之前发送。
type Close struct {
	Method Method `json:"method"`
	Reason string `json:"reason"`
}

// InitReply 为 init 应答的 data。
// host 携带 session_id 与 room_id，client 只携带 session_id，reconnect 两者都不携带。
type InitReply struct {
	ReplyTo   Method   `json:"reply_to"`
	InitType  InitType `json:"init_type"`
	SessionID string   `json:"session_id,omitempty"`
	RoomID    string   `json:"room_id,omitempty"`
}

// GetStateStringReply 为 get_state_string 应答的 data，空字符串同样输出。
type GetStateStringReply struct {
	ReplyTo Method `json:"reply_to"`
	String  string `json:"string"`
}

// SetStateStringReply 为 set_state_string 应答的 data。
type SetStateStringReply struct {
	ReplyTo Method `json:"reply_to"`
}

func newReply(id string, data any) Reply {
	return Reply{Method: MethodReply, ID: id, Data: data}
}

func NewHostReply(id, sessionID, roomID string) Reply {
	return newReply(id, InitReply{ReplyTo: MethodInit, InitType: InitHost, SessionID: sessionID, RoomID: roomID})
}

func NewClientReply(id, sessionID string) Reply {
	return newReply(id, InitReply{ReplyTo: MethodInit, InitType: InitClient, SessionID: sessionID})
}

func NewReconnectReply(id string) Reply {
	return newReply(id, InitReply{ReplyTo: MethodInit, InitType: InitReconnect})
}

func NewGetStateStringReply(id, value string) Reply {
	return newReply(id, GetStateStringReply{ReplyTo: MethodGetStateString, String: value})
}

func NewSetStateStringReply(id string) Reply {
	return newReply(id, SetStateStringReply{ReplyTo: MethodSetStateString})
}

func NewClose(reason string) Close {
	return Close{Method: MethodClose, Reason: reason}
}
