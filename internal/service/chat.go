package service

import (
	"errors"
	"time"

	"github.com/Mariosam2/chat-app-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatService 封装会话相关的业务逻辑。会话严格两人，
// 任意一对用户之间最多存在一个未删除的会话。
type ChatService struct {
	db *gorm.DB
}

func NewChatService(db *gorm.DB) *ChatService {
	return &ChatService{db: db}
}

// UserDTO 是会话列表里对端用户的公开数据。
type UserDTO struct {
	UUID           string `json:"uuid"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture"`
}

// ChatDTO 是对外输出的会话数据：对端用户加上请求者可见的最后一条消息。
type ChatDTO struct {
	UUID        string          `json:"uuid"`
	CreatedAt   time.Time       `json:"created_at"`
	User        UserDTO         `json:"user"`
	LastMessage *UserMessageDTO `json:"lastMessage"`
}

// Create 先做重复配对检查：两名用户之间已有未删除的会话时返回既有会话，
// 绝不建第二个。检查是应用层的，不依赖数据库约束。
func (s *ChatService) Create(senderUUID, receiverUUID string) (*ChatDTO, bool, error) {
	var (
		out     ChatDTO
		created bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		sender, err := findLiveUser(tx, senderUUID)
		if err != nil {
			return err
		}
		receiver, err := findLiveUser(tx, receiverUUID)
		if err != nil {
			return err
		}

		existing, err := findPairChat(tx, sender.ID, receiver.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			out = ChatDTO{
				UUID:      existing.UUID,
				CreatedAt: existing.CreatedAt,
				User:      UserDTO{UUID: receiver.UUID, Username: receiver.Username, ProfilePicture: receiver.ProfilePicture},
			}
			return nil
		}

		chat := models.Chat{UUID: uuid.NewString()}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		memberships := []models.UserChat{
			{UserID: sender.ID, ChatID: chat.ID},
			{UserID: receiver.ID, ChatID: chat.ID},
		}
		if err := tx.Create(&memberships).Error; err != nil {
			return err
		}
		created = true
		out = ChatDTO{
			UUID:      chat.UUID,
			CreatedAt: chat.CreatedAt,
			User:      UserDTO{UUID: receiver.UUID, Username: receiver.Username, ProfilePicture: receiver.ProfilePicture},
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &out, created, nil
}

// ListForUser 是聊天列表的可见性入口：只返回请求者成员行未软删除的会话，
// 附带对端用户数据和请求者可见的最后一条消息。
func (s *ChatService) ListForUser(userUUID string) ([]ChatDTO, error) {
	user, err := findLiveUser(s.db, userUUID)
	if err != nil {
		return nil, err
	}

	var chats []models.Chat
	if err := s.db.
		Joins("JOIN user_chats ON user_chats.chat_id = chats.id AND user_chats.user_id = ? AND user_chats.deleted_at IS NULL", user.ID).
		Order("chats.id").
		Find(&chats).Error; err != nil {
		return nil, err
	}

	out := make([]ChatDTO, 0, len(chats))
	for _, chat := range chats {
		var counterpart models.User
		err := s.db.
			Joins("JOIN user_chats ON user_chats.user_id = users.id AND user_chats.chat_id = ?", chat.ID).
			Where("users.id <> ?", user.ID).
			First(&counterpart).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}

		dto := ChatDTO{
			UUID:      chat.UUID,
			CreatedAt: chat.CreatedAt,
			User:      UserDTO{UUID: counterpart.UUID, Username: counterpart.Username, ProfilePicture: counterpart.ProfilePicture},
		}

		var last models.Message
		err = s.db.
			Where("chat_id = ? AND (sender_id = ? OR receiver_id = ?)", chat.ID, user.ID, user.ID).
			Order("created_at DESC").
			First(&last).Error
		if err == nil {
			status := "received"
			if last.SenderID != nil && *last.SenderID == user.ID {
				status = "sent"
			}
			dto.LastMessage = &UserMessageDTO{UUID: last.UUID, Content: last.Content, CreatedAt: last.CreatedAt, EditedAt: last.EditedAt, Status: status}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

// MemberUUIDs 返回会话全部成员的公开 UUID，含已单侧删除会话的成员。
func (s *ChatService) MemberUUIDs(chatUUID string) ([]string, error) {
	chat, err := findChat(s.db, chatUUID)
	if err != nil {
		return nil, err
	}
	var uuids []string
	if err := s.db.Model(&models.User{}).
		Joins("JOIN user_chats ON user_chats.user_id = users.id AND user_chats.chat_id = ?", chat.ID).
		Pluck("users.uuid", &uuids).Error; err != nil {
		return nil, err
	}
	return uuids, nil
}

// IsMember 判断用户在会话里是否持有未软删除的成员行。
func (s *ChatService) IsMember(userUUID, chatUUID string) (bool, error) {
	user, err := findLiveUser(s.db, userUUID)
	if err != nil {
		return false, err
	}
	chat, err := findChat(s.db, chatUUID)
	if err != nil {
		return false, err
	}
	var count int64
	if err := s.db.Model(&models.UserChat{}).
		Where("chat_id = ? AND user_id = ? AND deleted_at IS NULL", chat.ID, user.ID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteForMe 软删除请求者自己的成员行，对端的视图不受影响。
func (s *ChatService) DeleteForMe(userUUID, chatUUID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		user, err := findLiveUser(tx, userUUID)
		if err != nil {
			return err
		}
		chat, err := findChat(tx, chatUUID)
		if err != nil {
			return err
		}
		now := time.Now()
		res := tx.Model(&models.UserChat{}).
			Where("chat_id = ? AND user_id = ? AND deleted_at IS NULL", chat.ID, user.ID).
			Update("deleted_at", &now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrChatNotFound
		}
		return nil
	})
}

// DeleteForAll 物理删除会话及其全部成员行，不依赖数据库级联。
// 操作者必须在会话里持有未软删除的成员行。
func (s *ChatService) DeleteForAll(actorUUID, chatUUID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		actor, err := findLiveUser(tx, actorUUID)
		if err != nil {
			return err
		}
		chat, err := findChat(tx, chatUUID)
		if err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.UserChat{}).
			Where("chat_id = ? AND user_id = ? AND deleted_at IS NULL", chat.ID, actor.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrChatNotFound
		}

		if err := tx.Delete(&models.Chat{}, chat.ID).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ?", chat.ID).Delete(&models.UserChat{}).Error
	})
}

// findPairChat 找到两名用户之间双方成员行都未软删除的会话。
func findPairChat(tx *gorm.DB, userA, userB uint) (*models.Chat, error) {
	var chat models.Chat
	err := tx.
		Joins("JOIN user_chats a ON a.chat_id = chats.id AND a.user_id = ? AND a.deleted_at IS NULL", userA).
		Joins("JOIN user_chats b ON b.chat_id = chats.id AND b.user_id = ? AND b.deleted_at IS NULL", userB).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &chat, nil
}
