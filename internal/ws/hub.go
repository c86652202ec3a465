package ws

import (
	"encoding/json"
	"sync"

	"chatrelay/internal/chat"

	"github.com/rs/zerolog/log"
)

// frameSender 由 Client 实现，广播时复用同一份编码结果。
type frameSender interface {
	enqueue(b []byte) error
}

// closer 由 Client 实现，用于踢掉发送缓冲已满的连接。
type closer interface {
	Close()
}

// Hub 按房间 ID 维护广播组，实现 chat.Broadcaster。
// 一条连接可以同时处于多个组中。
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[chat.Conn]struct{}
	joined map[chat.Conn]map[string]struct{}
	// live 记录所有已升级的连接，包括尚未加入房间的。
	live map[*Client]struct{}
}

var _ chat.Broadcaster = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		groups: make(map[string]map[chat.Conn]struct{}),
		joined: make(map[chat.Conn]map[string]struct{}),
		live:   make(map[*Client]struct{}),
	}
}

func (h *Hub) attach(c *Client) {
	h.mu.Lock()
	h.live[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	delete(h.live, c)
	h.mu.Unlock()
}

// Connections 返回当前打开的 websocket 连接数。
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.live)
}

// CloseAll 关闭所有打开的连接，用于优雅停服。
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.live))
	for c := range h.live {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
	log.Info().Int("count", len(clients)).Msg("closed client connections")
}

// Subscribe 把连接加入房间广播组，组不存在时懒创建。
func (h *Hub) Subscribe(roomID string, c chat.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group := h.groups[roomID]
	if group == nil {
		group = make(map[chat.Conn]struct{})
		h.groups[roomID] = group
	}
	group[c] = struct{}{}
	rooms := h.joined[c]
	if rooms == nil {
		rooms = make(map[string]struct{})
		h.joined[c] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Unsubscribe 把连接移出它所在的全部广播组。
func (h *Hub) Unsubscribe(c chat.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c)
}

func (h *Hub) unsubscribeLocked(c chat.Conn) {
	for roomID := range h.joined[c] {
		if group := h.groups[roomID]; group != nil {
			delete(group, c)
			if len(group) == 0 {
				delete(h.groups, roomID)
			}
		}
	}
	delete(h.joined, c)
}

// Publish 把事件投递给组内每条连接的发送缓冲。缓冲已满的连接会被移出所有组并关闭。
func (h *Hub) Publish(roomID string, evt chat.Event) {
	b, err := json.Marshal(evt)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("event", evt.Name).Msg("encode event")
		return
	}
	var failed []chat.Conn
	h.mu.RLock()
	for c := range h.groups[roomID] {
		if err := deliver(c, evt, b); err != nil {
			failed = append(failed, c)
		}
	}
	h.mu.RUnlock()
	h.evict(failed)
}

func deliver(c chat.Conn, evt chat.Event, b []byte) error {
	if fs, ok := c.(frameSender); ok {
		return fs.enqueue(b)
	}
	return c.Emit(evt)
}

func (h *Hub) evict(conns []chat.Conn) {
	if len(conns) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range conns {
		h.unsubscribeLocked(c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		log.Warn().Str("conn_id", c.ID()).Msg("client removed due to full send buffer")
		if cl, ok := c.(closer); ok {
			cl.Close()
		}
	}
}

// Drop 解散房间广播组，连接本身保持打开。
func (h *Hub) Drop(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.groups[roomID] {
		if rooms := h.joined[c]; rooms != nil {
			delete(rooms, roomID)
			if len(rooms) == 0 {
				delete(h.joined, c)
			}
		}
	}
	delete(h.groups, roomID)
}

// Online 返回房间广播组中的连接数，供 REST 接口复用。
func (h *Hub) Online(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[roomID])
}
