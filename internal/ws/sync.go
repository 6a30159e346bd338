package ws

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Mariosam2/chat-app-backend/internal/service"
	"github.com/rs/zerolog/log"
)

// Synchronizer 是实时层的核心状态机。每个交换都是独立的
// validate → mutate → broadcast：校验操作者是合法参与者，
// 事务性地修改持久层，成功后把事件广播到会话对应的房间。
// 任何一步失败只给发起连接回一个私有错误事件，房间里其他人毫无感知。
type Synchronizer struct {
	hub      *Hub
	chats    *service.ChatService
	messages *service.MessageService
	users    *service.UserService
}

func NewSynchronizer(hub *Hub, chats *service.ChatService, messages *service.MessageService, users *service.UserService) *Synchronizer {
	return &Synchronizer{hub: hub, chats: chats, messages: messages, users: users}
}

type ErrorData struct {
	Error string `json:"error"`
}

type createdMessageData struct {
	Message service.MessageDTO `json:"message"`
}

type updatedMessageData struct {
	Message        string             `json:"message"`
	UpdatedMessage updatedMessageBody `json:"updatedMessage"`
	SenderUUID     string             `json:"senderUUID"`
}

type updatedMessageBody struct {
	UUID      string    `json:"uuid"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type deletedMessageData struct {
	MessageUUID string `json:"messageUUID"`
}

type deletedChatData struct {
	UpdatedChats []json.RawMessage `json:"updatedChats"`
}

// Dispatch 把一个已解码的入站事件路由到对应的交换。
// 调用方保证连接已通过握手认证（userUUID 非空）。
func (s *Synchronizer) Dispatch(c *Client, event string, payload any) {
	switch p := payload.(type) {
	case *JoinPayload:
		s.handleJoin(c, p)
	case *SendMessagePayload:
		s.handleSendMessage(c, p)
	case *EditMessagePayload:
		s.handleEditMessage(c, p)
	case *DeleteMessagePayload:
		s.handleDeleteMessage(c, p)
	case *DeleteChatPayload:
		s.handleDeleteChat(c, p)
	case *DeleteUserPayload:
		s.handleDeleteUser(c, p)
	default:
		c.Send(EvtMessageError, ErrorData{Error: "unknown event: " + event})
	}
}

// handleJoin 在加入广播组前校验成员关系：知道房间号不等于有权订阅，
// 非成员在进组前就被拒绝，写入路径上的检查只是兜底。
func (s *Synchronizer) handleJoin(c *Client, p *JoinPayload) {
	ok, err := s.chats.IsMember(c.userUUID, p.Room)
	if err != nil {
		c.Send(EvtChatError, ErrorData{Error: s.errorText(err, "join")})
		return
	}
	if !ok {
		c.Send(EvtChatError, ErrorData{Error: service.ErrChatNotFound.Error()})
		return
	}
	s.hub.Join(p.Room, c)
}

func (s *Synchronizer) handleSendMessage(c *Client, p *SendMessagePayload) {
	if p.Content == "" {
		c.Send(EvtMessageError, ErrorData{Error: "empty message content"})
		return
	}
	msg, err := s.messages.Send(c.userUUID, p.ReceiverUUID, p.ChatUUID, p.Content)
	if err != nil {
		c.Send(EvtMessageError, ErrorData{Error: s.errorText(err, "send message")})
		return
	}
	s.hub.Broadcast(p.ChatUUID, EvtMessageCreated, createdMessageData{Message: *msg})
}

func (s *Synchronizer) handleEditMessage(c *Client, p *EditMessagePayload) {
	if p.NewMessage == "" {
		c.Send(EvtMessageError, ErrorData{Error: "empty message content"})
		return
	}
	msg, err := s.messages.Edit(c.userUUID, p.Message, p.NewMessage)
	if err != nil {
		c.Send(EvtMessageError, ErrorData{Error: s.errorText(err, "edit message")})
		return
	}
	s.hub.Broadcast(p.Room, EvtMessageUpdated, updatedMessageData{
		Message:        p.Message,
		UpdatedMessage: updatedMessageBody{UUID: msg.UUID, Content: msg.Content, CreatedAt: msg.CreatedAt},
		SenderUUID:     msg.SenderUUID,
	})
}

// handleDeleteMessage 是单侧软删除：status 决定清掉哪一侧的外键。
// 事件仍然广播给双方，可见性的取舍由客户端解释。
func (s *Synchronizer) handleDeleteMessage(c *Client, p *DeleteMessagePayload) {
	deletedUUID, err := s.messages.DeleteForUser(c.userUUID, p.Message, p.Status == "sent")
	if err != nil {
		c.Send(EvtMessageError, ErrorData{Error: s.errorText(err, "delete message")})
		return
	}
	s.hub.Broadcast(p.Room, EvtMessageDeleted, deletedMessageData{MessageUUID: deletedUUID})
}

// handleDeleteChat 是全员硬删除。客户端随请求带上自己当前的会话列表，
// 服务端过滤掉被删除的那一条后原样回播（echo 模式，不重新计算列表）。
func (s *Synchronizer) handleDeleteChat(c *Client, p *DeleteChatPayload) {
	if err := s.chats.DeleteForAll(c.userUUID, p.Room); err != nil {
		c.Send(EvtChatError, ErrorData{Error: s.errorText(err, "delete chat")})
		return
	}
	updated := make([]json.RawMessage, 0, len(p.Chats))
	for _, raw := range p.Chats {
		var probe struct {
			UUID string `json:"uuid"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && probe.UUID == p.Room {
			continue
		}
		updated = append(updated, raw)
	}
	s.hub.Broadcast(p.Room, EvtChatDeleted, deletedChatData{UpdatedChats: updated})
}

// handleDeleteUser 只允许自助删除。级联清理成功后仅向发起连接发 logout，
// 对端只会通过各会话自身的删除事件感知到变化。
func (s *Synchronizer) handleDeleteUser(c *Client, p *DeleteUserPayload) {
	if p.User != c.userUUID {
		c.Send(EvtUserError, ErrorData{Error: "couldn't find the user"})
		return
	}
	if err := s.users.Delete(c.userUUID); err != nil {
		c.Send(EvtUserError, ErrorData{Error: s.errorText(err, "delete user")})
		return
	}
	c.Send(EvtLogout, struct{}{})
}

// errorText 把业务错误原样透给发起方，持久层故障只记日志、对外收敛成一句话。
func (s *Synchronizer) errorText(err error, exchange string) string {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrAlreadyDeleted),
		errors.Is(err, service.ErrNotParticipant):
		return err.Error()
	default:
		log.Error().Err(err).Str("exchange", exchange).Msg("synchronizer")
		return "an error occured during the " + exchange
	}
}
