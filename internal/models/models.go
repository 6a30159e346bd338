package models

import "time"

type User struct {
	ID             uint   `gorm:"primaryKey"`
	UUID           string `gorm:"uniqueIndex;size:36;not null"`
	Username       string `gorm:"uniqueIndex;size:64;not null"`
	Email          string `gorm:"uniqueIndex;size:255;not null"`
	Password       string `gorm:"not null" json:"-"`
	ProfilePicture string `gorm:"size:255"`
	CreatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
}

type Chat struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"uniqueIndex;size:36;not null"`
	CreatedAt time.Time
}

// UserChat 是用户与会话的关联表，每个成员都有独立的软删除时间戳（"仅对我删除"）。
type UserChat struct {
	UserID    uint `gorm:"primaryKey;autoIncrement:false"`
	ChatID    uint `gorm:"primaryKey;autoIncrement:false"`
	DeletedAt *time.Time `gorm:"index"`
}

// Message 的 sender_id / receiver_id 可独立置空，实现单侧的"仅对我删除"。
type Message struct {
	ID         uint   `gorm:"primaryKey"`
	UUID       string `gorm:"uniqueIndex;size:36;not null"`
	Content    string `gorm:"type:text;not null"`
	SenderID   *uint  `gorm:"index"`
	ReceiverID *uint  `gorm:"index"`
	ChatID     uint   `gorm:"index:idx_msg_chat_id;not null"`
	CreatedAt  time.Time
	EditedAt   *time.Time
}

type RefreshToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uint       `gorm:"index;not null"`
	Token     string     `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time  `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
