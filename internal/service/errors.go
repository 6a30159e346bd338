package service

import "errors"

// 业务层通用错误，handler 与 ws 层可根据错误类型映射到 HTTP 状态码或私有错误事件。
var (
	ErrUsernameTaken      = errors.New("username already taken")
	ErrEmailTaken         = errors.New("email already taken")
	ErrInvalidCredentials = errors.New("wrong credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrChatNotFound       = errors.New("chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotParticipant     = errors.New("users are not related to the chat")
	ErrAlreadyDeleted     = errors.New("message already deleted for this user")
	ErrForbidden          = errors.New("forbidden")
)
