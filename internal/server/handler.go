package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Mariosam2/chat-app-backend/internal/auth"
	"github.com/Mariosam2/chat-app-backend/internal/config"
	"github.com/Mariosam2/chat-app-backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	cfg       config.Config
	userSvc   *service.UserService
	chatSvc   *service.ChatService
	msgSvc    *service.MessageService
	searchSvc *service.SearchService
}

func NewHandler(cfg config.Config, userSvc *service.UserService, chatSvc *service.ChatService, msgSvc *service.MessageService, searchSvc *service.SearchService) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, chatSvc: chatSvc, msgSvc: msgSvc, searchSvc: searchSvc}
}

// Register 处理用户注册请求。字段校验失败时附带 invalidField 提示前端定位输入框。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username        string `json:"username"`
		Email           string `json:"email" binding:"required,email"`
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enter a valid email (ex: example@mail.com)", "invalidField": "email"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be at least 3 characters long", "invalidField": "username"})
		return
	}
	if req.Password != req.ConfirmPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "passwords are not equal", "invalidField": "password"})
		return
	}
	user, err := h.userSvc.Register(req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "invalidField": "password"})
		case errors.Is(err, service.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "invalidField": "username"})
		case errors.Is(err, service.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "invalidField": "email"})
		default:
			log.Error().Err(err).Str("username", req.Username).Msg("register")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// Login 校验邮箱密码，签发访问令牌并把 refresh token 写进 httpOnly cookie。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": result.AccessToken, "authUser": result.User})
}

// RefreshToken 从 cookie 读旧 refresh token，旋转后写回新的。
func (h *Handler) RefreshToken(c *gin.Context) {
	oldRT, err := c.Cookie(auth.RefreshCookie)
	if err != nil || oldRT == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}
	result, err := h.userSvc.RefreshTokens(oldRT)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.setRefreshCookie(c, result.RefreshToken)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": result.AccessToken})
}

// Logout 吊销 refresh token 并清掉 cookie。
func (h *Handler) Logout(c *gin.Context) {
	rt, _ := c.Cookie(auth.RefreshCookie)
	if err := h.userSvc.Logout(rt); err != nil {
		log.Warn().Err(err).Msg("logout")
	}
	c.SetCookie(auth.RefreshCookie, "", -1, "/", "", h.cfg.Env != "dev", true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) setRefreshCookie(c *gin.Context, token string) {
	maxAge := h.cfg.RefreshTokenTTLDays * 24 * 3600
	c.SetSameSite(http.SameSiteNoneMode)
	c.SetCookie(auth.RefreshCookie, token, maxAge, "/", "", h.cfg.Env != "dev", true)
}

// GetUser 返回用户公开资料。
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.userSvc.Get(c.Param("userUUID"))
	if err != nil {
		h.respondError(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// UpdateUser 修改用户名或头像，仅限本人。
func (h *Handler) UpdateUser(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	var req struct {
		Username       string `json:"username"`
		ProfilePicture string `json:"profile_picture"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Username != "" && len(strings.TrimSpace(req.Username)) < 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be at least 3 characters long", "invalidField": "username"})
		return
	}
	if err := h.userSvc.Update(c.Param("userUUID"), strings.TrimSpace(req.Username), req.ProfilePicture); err != nil {
		h.respondError(c, err, "update user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "user edited successfully"})
}

// DeleteUser 执行与 ws 层相同的账号删除级联，仅限本人。
func (h *Handler) DeleteUser(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	if err := h.userSvc.Delete(c.Param("userUUID")); err != nil {
		h.respondError(c, err, "delete user")
		return
	}
	c.SetCookie(auth.RefreshCookie, "", -1, "/", "", h.cfg.Env != "dev", true)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "user deleted successfully"})
}

// GetChatUsers 返回会话成员的 UUID 列表。
func (h *Handler) GetChatUsers(c *gin.Context) {
	users, err := h.chatSvc.MemberUUIDs(c.Param("chatUUID"))
	if err != nil {
		h.respondError(c, err, "get chat users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

// GetMessageUsers 返回消息两端的 UUID，已单侧删除的一侧为 null。
func (h *Handler) GetMessageUsers(c *gin.Context) {
	users, err := h.msgSvc.Participants(c.Param("messageUUID"))
	if err != nil {
		h.respondError(c, err, "get message users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": users})
}

// GetUserChats 返回请求者可见的会话列表（成员行未软删除），
// 每条附带对端用户与请求者可见的最后一条消息。
func (h *Handler) GetUserChats(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	chats, err := h.chatSvc.ListForUser(c.Param("userUUID"))
	if err != nil {
		h.respondError(c, err, "list chats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats})
}

// CreateChat 创建会话。发起者身份来自令牌，不接受 body 里自报的 sender。
func (h *Handler) CreateChat(c *gin.Context) {
	var req struct {
		ReceiverUUID string `json:"receiverUUID" binding:"required,uuid"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	chat, created, err := h.chatSvc.Create(auth.GetUserUUID(c), req.ReceiverUUID)
	if err != nil {
		h.respondError(c, err, "create chat")
		return
	}
	msg := "chat created successfully"
	if !created {
		msg = "users have a chat already"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg, "chat": chat})
}

// DeleteChatForMe 软删除请求者自己的成员行，仅限本人。
func (h *Handler) DeleteChatForMe(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	if err := h.chatSvc.DeleteForMe(c.Param("userUUID"), c.Param("chatUUID")); err != nil {
		h.respondError(c, err, "delete chat for me")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "chat deleted for user only"})
}

// DeleteChatForAll 物理删除会话，操作者必须是会话成员。
func (h *Handler) DeleteChatForAll(c *gin.Context) {
	if err := h.chatSvc.DeleteForAll(auth.GetUserUUID(c), c.Param("chatUUID")); err != nil {
		h.respondError(c, err, "delete chat for all")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "chat deleted for all successfully"})
}

// GetChatUserMessages 返回请求者在某会话里可见的消息（sent/received 标记，升序）。
func (h *Handler) GetChatUserMessages(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	messages, err := h.msgSvc.ListForUserInChat(c.Param("userUUID"), c.Param("chatUUID"))
	if err != nil {
		h.respondError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

// DeleteMessageForAll 物理删除消息行。
func (h *Handler) DeleteMessageForAll(c *gin.Context) {
	if err := h.msgSvc.DeleteForAll(c.Param("messageUUID")); err != nil {
		h.respondError(c, err, "delete message for all")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "message deleted for all"})
}

// Search 按关键词检索用户与消息，范围限定在请求者可见的数据内。
func (h *Handler) Search(c *gin.Context) {
	if !h.requireSelf(c) {
		return
	}
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	results, err := h.searchSvc.Search(c.Param("userUUID"), query)
	if err != nil {
		h.respondError(c, err, "search")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

// requireSelf 校验路径里的 userUUID 与令牌主体一致，资源只对本人开放。
func (h *Handler) requireSelf(c *gin.Context) bool {
	if c.Param("userUUID") != auth.GetUserUUID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// respondError 把业务错误映射到 HTTP 状态码，持久层故障只记日志。
func (h *Handler) respondError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrChatNotFound),
		errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyDeleted),
		errors.Is(err, service.ErrNotParticipant):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "invalidField": "username"})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "invalidField": "email"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		log.Error().Err(err).Str("op", op).Msg("handler")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
