package service

import (
	"errors"

	"chatrelay/internal/chat"
)

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomNotFound       = chat.ErrRoomNotFound
)
