package chat

import "chatrelay/internal/models"

// 实时协议事件名。
const (
	EventConnect    = "connect"
	EventJoinRoom   = "join_room"
	EventMessage    = "message"
	EventUserLeft   = "user_left"
	EventDisconnect = "disconnect"

	EventAccessDenied  = "access_denied"
	EventAccessGranted = "access_granted"
	EventUserList      = "user_list"
	EventRoomExpired   = "room_expired"
	EventError         = "error"
)

// Event 是一帧出站事件，Data 为空时序列化后省略。
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// AccessGranted 是 access_granted 的负载。
type AccessGranted struct {
	Key      string           `json:"key"`
	Theme    string           `json:"theme"`
	Messages []models.Message `json:"messages"`
}

// JoinRequest 是 join_room 的负载。
type JoinRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username" validate:"required,max=64"`
	Key      string `json:"key"`
}

// MessageRequest 是入站 message 的负载。
type MessageRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username" validate:"max=64"`
	Message  string `json:"message"`
}

func accessDenied(reason string) Event { return Event{Name: EventAccessDenied, Data: reason} }

func userList(members []string) Event { return Event{Name: EventUserList, Data: members} }

func messageEvent(m models.Message) Event { return Event{Name: EventMessage, Data: m} }

func roomExpired() Event { return Event{Name: EventRoomExpired} }

func systemMessage(text string) models.Message {
	return models.Message{Username: models.SystemUsername, Message: text, Type: models.MessageTypeSystem}
}
