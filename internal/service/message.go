package service

import (
	"errors"
	"sort"
	"time"

	"github.com/Mariosam2/chat-app-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageService 封装消息相关的业务逻辑。
// 所有多语句写操作都放进同一个事务，校验失败绝不产生半截写入。
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// MessageDTO 是对外输出的消息数据，只暴露公开 UUID。
type MessageDTO struct {
	UUID       string     `json:"uuid"`
	Content    string     `json:"content"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	SenderUUID string     `json:"senderUUID,omitempty"`
}

// UserMessageDTO 给请求方视角的消息打上 sent/received 标记。
type UserMessageDTO struct {
	UUID      string     `json:"uuid"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at"`
	Status    string     `json:"status"`
}

// Send 校验发送者、接收者以及双方在目标会话的有效成员关系后落库。
// 发送者身份来自连接的认证上下文，绝不信任客户端自报的 sender。
func (s *MessageService) Send(senderUUID, receiverUUID, chatUUID, content string) (*MessageDTO, error) {
	var out MessageDTO
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sender, err := findLiveUser(tx, senderUUID)
		if err != nil {
			return err
		}
		receiver, err := findLiveUser(tx, receiverUUID)
		if err != nil {
			return err
		}

		chat, err := findChat(tx, chatUUID)
		if err != nil {
			return err
		}

		// 双方都必须在目标会话里持有未软删除的成员行。
		var memberCount int64
		if err := tx.Model(&models.UserChat{}).
			Where("chat_id = ? AND user_id IN ? AND deleted_at IS NULL", chat.ID, []uint{sender.ID, receiver.ID}).
			Count(&memberCount).Error; err != nil {
			return err
		}
		if memberCount != 2 {
			return ErrNotParticipant
		}

		msg := models.Message{
			UUID:       uuid.NewString(),
			Content:    content,
			SenderID:   &sender.ID,
			ReceiverID: &receiver.ID,
			ChatID:     chat.ID,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		out = MessageDTO{UUID: msg.UUID, Content: msg.Content, CreatedAt: msg.CreatedAt, SenderUUID: sender.UUID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Edit 只允许原始发送者修改内容，status 仅供客户端展示，不参与鉴权。
func (s *MessageService) Edit(actorUUID, messageUUID, newContent string) (*MessageDTO, error) {
	var out MessageDTO
	err := s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := findLiveUser(tx, actorUUID)
		if err != nil {
			return err
		}
		var msg models.Message
		if err := tx.Where("uuid = ?", messageUUID).First(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if msg.SenderID == nil || *msg.SenderID != actor.ID {
			return ErrMessageNotFound
		}

		now := time.Now()
		if err := tx.Model(&models.Message{}).Where("id = ?", msg.ID).
			Updates(map[string]any{"content": newContent, "edited_at": &now}).Error; err != nil {
			return err
		}
		out = MessageDTO{UUID: msg.UUID, Content: newContent, CreatedAt: msg.CreatedAt, EditedAt: &now, SenderUUID: actor.UUID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteForUser 实现单侧软删除：按 asSender 把 sender_id 或 receiver_id 置空，
// 另一侧的视图不受影响。对应侧已为空时拒绝重复删除。
func (s *MessageService) DeleteForUser(actorUUID, messageUUID string, asSender bool) (string, error) {
	var deletedUUID string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := findLiveUser(tx, actorUUID)
		if err != nil {
			return err
		}
		var msg models.Message
		if err := tx.Where("uuid = ?", messageUUID).First(&msg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}

		side := msg.ReceiverID
		column := "receiver_id"
		if asSender {
			side = msg.SenderID
			column = "sender_id"
		}
		if side == nil {
			return ErrAlreadyDeleted
		}
		if *side != actor.ID {
			return ErrMessageNotFound
		}

		if err := tx.Model(&models.Message{}).Where("id = ?", msg.ID).
			Update(column, nil).Error; err != nil {
			return err
		}
		deletedUUID = msg.UUID
		return nil
	})
	if err != nil {
		return "", err
	}
	return deletedUUID, nil
}

// DeleteForAll 物理删除消息行（delete-for-all），双方都不再可见。
func (s *MessageService) DeleteForAll(messageUUID string) error {
	res := s.db.Where("uuid = ?", messageUUID).Delete(&models.Message{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// MessageUsers 是一条消息的两端，单侧软删除后对应侧为 null。
type MessageUsers struct {
	Sender   *UserRef `json:"sender"`
	Receiver *UserRef `json:"receiver"`
}

type UserRef struct {
	UUID string `json:"uuid"`
}

// Participants 返回消息的发送方与接收方 UUID。
func (s *MessageService) Participants(messageUUID string) (*MessageUsers, error) {
	var msg models.Message
	if err := s.db.Where("uuid = ?", messageUUID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	out := &MessageUsers{}
	if msg.SenderID != nil {
		var sender models.User
		if err := s.db.First(&sender, *msg.SenderID).Error; err != nil {
			return nil, err
		}
		out.Sender = &UserRef{UUID: sender.UUID}
	}
	if msg.ReceiverID != nil {
		var receiver models.User
		if err := s.db.First(&receiver, *msg.ReceiverID).Error; err != nil {
			return nil, err
		}
		out.Receiver = &UserRef{UUID: receiver.UUID}
	}
	return out, nil
}

// ListForUserInChat 合并某用户在某会话里已发送与已接收的消息，
// 打上 sent/received 标记并按创建时间升序返回。单侧软删除在这里生效：
// 对应外键已置空的消息对该用户不可见。
func (s *MessageService) ListForUserInChat(userUUID, chatUUID string) ([]UserMessageDTO, error) {
	user, err := findLiveUser(s.db, userUUID)
	if err != nil {
		return nil, err
	}
	chat, err := findChat(s.db, chatUUID)
	if err != nil {
		return nil, err
	}

	var sent, received []models.Message
	if err := s.db.Where("chat_id = ? AND sender_id = ?", chat.ID, user.ID).Find(&sent).Error; err != nil {
		return nil, err
	}
	if err := s.db.Where("chat_id = ? AND receiver_id = ?", chat.ID, user.ID).Find(&received).Error; err != nil {
		return nil, err
	}

	out := make([]UserMessageDTO, 0, len(sent)+len(received))
	for _, m := range sent {
		out = append(out, UserMessageDTO{UUID: m.UUID, Content: m.Content, CreatedAt: m.CreatedAt, EditedAt: m.EditedAt, Status: "sent"})
	}
	for _, m := range received {
		out = append(out, UserMessageDTO{UUID: m.UUID, Content: m.Content, CreatedAt: m.CreatedAt, EditedAt: m.EditedAt, Status: "received"})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// findLiveUser 按公开 UUID 查询未软删除的用户。
func findLiveUser(tx *gorm.DB, userUUID string) (*models.User, error) {
	var user models.User
	if err := tx.Where("uuid = ? AND deleted_at IS NULL", userUUID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func findChat(tx *gorm.DB, chatUUID string) (*models.Chat, error) {
	var chat models.Chat
	if err := tx.Where("uuid = ?", chatUUID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}
