package service

import (
	"gorm.io/gorm"

	"github.com/Mariosam2/chat-app-backend/internal/models"
)

// SearchService 实现用户与消息的模糊检索，套用与会话列表相同的可见性规则。
type SearchService struct {
	db *gorm.DB
}

func NewSearchService(db *gorm.DB) *SearchService {
	return &SearchService{db: db}
}

// MessageMatch 是命中消息加上对话另一端的用户数据。
type MessageMatch struct {
	Content string  `json:"content"`
	User    UserDTO `json:"user"`
}

// SearchResults 聚合两类命中。
type SearchResults struct {
	Users    []UserDTO      `json:"users"`
	Messages []MessageMatch `json:"messages"`
}

// Search 按用户名子串检索其他用户，并在请求者可见的消息里检索内容。
// 软删除用户与已单侧删除的消息不会出现在结果里。
func (s *SearchService) Search(userUUID, query string) (*SearchResults, error) {
	user, err := findLiveUser(s.db, userUUID)
	if err != nil {
		return nil, err
	}

	results := &SearchResults{Users: []UserDTO{}, Messages: []MessageMatch{}}

	var users []models.User
	if err := s.db.
		Where("username ILIKE ? AND uuid <> ? AND deleted_at IS NULL", "%"+query+"%", userUUID).
		Limit(20).
		Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		results.Users = append(results.Users, UserDTO{UUID: u.UUID, Username: u.Username, ProfilePicture: u.ProfilePicture})
	}

	var chatIDs []uint
	if err := s.db.Model(&models.UserChat{}).
		Where("user_id = ? AND deleted_at IS NULL", user.ID).
		Pluck("chat_id", &chatIDs).Error; err != nil {
		return nil, err
	}
	if len(chatIDs) == 0 {
		return results, nil
	}

	var messages []models.Message
	if err := s.db.
		Where("content ILIKE ? AND chat_id IN ? AND sender_id IS NOT NULL", "%"+query+"%", chatIDs).
		Where("sender_id = ? OR receiver_id = ?", user.ID, user.ID).
		Order("created_at DESC").
		Limit(1).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	for _, m := range messages {
		counterpartID := m.SenderID
		if counterpartID != nil && *counterpartID == user.ID {
			counterpartID = m.ReceiverID
		}
		if counterpartID == nil {
			continue
		}
		var counterpart models.User
		if err := s.db.First(&counterpart, *counterpartID).Error; err != nil {
			continue
		}
		results.Messages = append(results.Messages, MessageMatch{
			Content: m.Content,
			User:    UserDTO{UUID: counterpart.UUID, Username: counterpart.Username, ProfilePicture: counterpart.ProfilePicture},
		})
	}
	return results, nil
}
