package service

import (
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// RoomService 是管理端创建与查看房间的入口。
type RoomService struct {
	store *chat.Store
	bc    chat.Broadcaster
}

func NewRoomService(store *chat.Store, bc chat.Broadcaster) *RoomService {
	return &RoomService{store: store, bc: bc}
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	Theme        string    `json:"theme"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
	Members      []string  `json:"members"`
	MessageCount int       `json:"message_count"`
	Online       int       `json:"online"`
}

func (s *RoomService) toDTO(info models.RoomInfo) RoomDTO {
	return RoomDTO{
		ID:           info.ID,
		Key:          info.Key,
		Theme:        info.Theme,
		Expiry:       info.Expiry,
		CreatedAt:    info.CreatedAt,
		Members:      info.Members,
		MessageCount: info.MessageCount,
		Online:       s.bc.Online(info.ID),
	}
}

// Create 创建一个 durationMinutes 分钟后过期的房间。
func (s *RoomService) Create(durationMinutes int, theme string) RoomDTO {
	info := s.store.Create(durationMinutes, theme)
	log.Info().Str("room_id", info.ID).Time("expiry", info.Expiry).Msg("room created")
	return s.toDTO(info)
}

// List 返回全部房间，附带各房间的在线连接数。
func (s *RoomService) List() []RoomDTO {
	return lo.Map(s.store.List(), func(info models.RoomInfo, _ int) RoomDTO { return s.toDTO(info) })
}

func (s *RoomService) Get(roomID string) (*RoomDTO, error) {
	info, ok := s.store.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	dto := s.toDTO(info)
	return &dto, nil
}
