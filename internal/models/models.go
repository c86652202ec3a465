package models

import "time"

// MessageType 区分用户消息与系统通知。
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
)

// SystemUsername 是系统通知使用的保留用户名。
const SystemUsername = "System"

// Message 是房间内的一条聊天或系统事件，时间戳在写入日志时分配。
type Message struct {
	Username  string      `json:"username"`
	Message   string      `json:"message"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RoomInfo 是房间的只读快照，供管理端列表使用。
type RoomInfo struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Theme        string    `json:"theme"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
	Members      []string  `json:"members"`
	MessageCount int       `json:"message_count"`
}

// Admin 是管理员凭据表，只保存 bcrypt 哈希。
type Admin struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
