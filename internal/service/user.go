package service

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/Mariosam2/chat-app-backend/internal/auth"
	"github.com/Mariosam2/chat-app-backend/internal/config"
	"github.com/Mariosam2/chat-app-backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// ErrWeakPassword 由 handler 映射为 400 并附 password 字段提示。
var ErrWeakPassword = errors.New("password must be at least of 8 characters with one lowercase, one uppercase, one number and one symbol")

// StrongPassword 要求至少 8 位且包含大小写字母、数字与符号。
func StrongPassword(pw string) bool {
	if len(pw) < 8 {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	return lower && upper && digit && symbol
}

// Register 注册新用户。用户名与邮箱的唯一性用计数预检，
// 以便区分两种冲突并给前端正确的 invalidField 提示。
func (s *UserService) Register(username, email, password string) (*UserDTO, error) {
	if !StrongPassword(password) {
		return nil, ErrWeakPassword
	}

	var out UserDTO
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrUsernameTaken
		}
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrEmailTaken
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		user := models.User{UUID: uuid.NewString(), Username: username, Email: email, Password: hash}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		out = UserDTO{UUID: user.UUID, Username: user.Username}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	User         UserDTO
}

// Login 校验邮箱密码并签发 token 对，软删除用户视为不存在。
func (s *UserService) Login(email, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("email = ? AND deleted_at IS NULL", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.Password, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.UUID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:  at,
		RefreshToken: rt,
		User:         UserDTO{UUID: user.UUID, Username: user.Username, ProfilePicture: user.ProfilePicture},
	}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return err
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		var user models.User
		if err := tx.Where("id = ? AND deleted_at IS NULL", rec.UserID).First(&user).Error; err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(user.UUID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Logout 吊销一个 refresh token。token 不存在时静默成功。
func (s *UserService) Logout(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return auth.RevokeRefreshToken(s.db, refreshToken)
}

// Get 返回未软删除用户的公开数据。
func (s *UserService) Get(userUUID string) (*UserDTO, error) {
	user, err := findLiveUser(s.db, userUUID)
	if err != nil {
		return nil, err
	}
	return &UserDTO{UUID: user.UUID, Username: user.Username, ProfilePicture: user.ProfilePicture}, nil
}

// Update 修改用户名或头像。
func (s *UserService) Update(userUUID, username, profilePicture string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		user, err := findLiveUser(tx, userUUID)
		if err != nil {
			return err
		}
		if username != "" && username != user.Username {
			var count int64
			if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, user.ID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrUsernameTaken
			}
			user.Username = username
		}
		if profilePicture != "" {
			user.ProfilePicture = strings.TrimSpace(profilePicture)
		}
		return tx.Save(user).Error
	})
}

// Delete 执行账号删除的级联清理，五步在同一个事务里：
//  1. 软删除用户行；
//  2. 软删除该用户全部成员行；
//  3. 物理删除该用户参与的所有会话（对端的会话历史一并消失，策略如此）；
//  4. 把该用户发送的消息 sender_id 置空；
//  5. 把该用户接收的消息 receiver_id 置空，内容为对端保留。
func (s *UserService) Delete(userUUID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		user, err := findLiveUser(tx, userUUID)
		if err != nil {
			return err
		}
		now := time.Now()

		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).
			Update("deleted_at", &now).Error; err != nil {
			return err
		}

		var chatIDs []uint
		if err := tx.Model(&models.UserChat{}).Where("user_id = ?", user.ID).
			Pluck("chat_id", &chatIDs).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.UserChat{}).Where("user_id = ?", user.ID).
			Update("deleted_at", &now).Error; err != nil {
			return err
		}

		if len(chatIDs) > 0 {
			if err := tx.Where("id IN ?", chatIDs).Delete(&models.Chat{}).Error; err != nil {
				return err
			}
			if err := tx.Where("chat_id IN ?", chatIDs).Delete(&models.UserChat{}).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Message{}).Where("sender_id = ?", user.ID).
			Update("sender_id", nil).Error; err != nil {
			return err
		}
		return tx.Model(&models.Message{}).Where("receiver_id = ?", user.ID).
			Update("receiver_id", nil).Error
	})
}
