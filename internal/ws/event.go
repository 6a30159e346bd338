package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 入站与出站事件都走同一个信封结构：{"event": "...", "data": {...}}。
// 事件名沿用线上客户端已有的约定，不做改名。
const (
	EvtJoin          = "join"
	EvtSendMessage   = "send message"
	EvtEditMessage   = "edit message"
	EvtDeleteMessage = "delete message"
	EvtDeleteChat    = "delete chat"
	EvtDeleteUser    = "delete user"

	EvtMessageCreated = "message created"
	EvtMessageUpdated = "message updated"
	EvtMessageDeleted = "message deleted"
	EvtChatDeleted    = "chat deleted"

	EvtMessageError = "message error"
	EvtChatError    = "chat error"
	EvtUserError    = "user error"
	EvtLogout       = "logout"
)

var ErrUnknownEvent = errors.New("unknown event")

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinPayload struct {
	Room string `json:"room"`
}

type SendMessagePayload struct {
	ChatUUID     string `json:"chatUUID"`
	ReceiverUUID string `json:"receiverUUID"`
	Content      string `json:"content"`
}

type EditMessagePayload struct {
	Room       string `json:"room"`
	Message    string `json:"message"`
	NewMessage string `json:"newMessage"`
	Status     string `json:"status"`
}

type DeleteMessagePayload struct {
	Room    string `json:"room"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// DeleteChatPayload 的 chats 是客户端当前的会话列表快照，服务端只负责
// 过滤掉被删除的那一条并原样回播（echo 模式）。
type DeleteChatPayload struct {
	Room  string            `json:"room"`
	Chats []json.RawMessage `json:"chats"`
}

type DeleteUserPayload struct {
	User string `json:"user"`
}

// DecodeEvent 在连接边界把原始帧解析成封闭集合里的一种带类型载荷。
// 未知事件或载荷不合法时返回错误，不会进入同步器。
func DecodeEvent(frame []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", nil, fmt.Errorf("malformed frame: %w", err)
	}

	var payload any
	switch env.Event {
	case EvtJoin:
		payload = &JoinPayload{}
	case EvtSendMessage:
		payload = &SendMessagePayload{}
	case EvtEditMessage:
		payload = &EditMessagePayload{}
	case EvtDeleteMessage:
		payload = &DeleteMessagePayload{}
	case EvtDeleteChat:
		payload = &DeleteChatPayload{}
	case EvtDeleteUser:
		payload = &DeleteUserPayload{}
	default:
		return env.Event, nil, ErrUnknownEvent
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, payload); err != nil {
			return env.Event, nil, fmt.Errorf("malformed payload for %q: %w", env.Event, err)
		}
	}
	return env.Event, payload, nil
}

// EncodeEvent 序列化一个出站事件帧。
func EncodeEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
