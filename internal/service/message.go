package service

import (
	"chatrelay/internal/chat"
	"chatrelay/internal/models"
)

// MessageService 封装管理端查看房间历史的逻辑。
type MessageService struct {
	store *chat.Store
}

func NewMessageService(store *chat.Store) *MessageService {
	return &MessageService{store: store}
}

// ListByRoom 按写入顺序分页返回房间消息以及消息总数。
func (s *MessageService) ListByRoom(roomID string, limit, offset int) ([]models.Message, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	msgs, err := s.store.Messages(roomID)
	if err != nil {
		return nil, 0, err
	}
	total := len(msgs)
	if offset >= total {
		return []models.Message{}, total, nil
	}
	end := min(offset+limit, total)
	return msgs[offset:end], total, nil
}
