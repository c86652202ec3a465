package chat

import "errors"

// 房间层错误，网关据此决定向请求方发出的事件。
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidKey    = errors.New("invalid room key")
	ErrSessionClosed = errors.New("session closed")
	ErrTxNotWritable = errors.New("store transaction is read-only")
)

// 发给客户端的拒绝原因。
const (
	ReasonRoomNotFound = "Room does not exist or has expired"
	ReasonInvalidKey   = "Invalid room key"
)
