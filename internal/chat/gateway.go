package chat

import (
	"errors"
	"fmt"
	"slices"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks chatrelay/internal/chat Conn,Broadcaster

// Conn 是网关眼中的一条客户端连接。Emit 只做入队，不得阻塞。
type Conn interface {
	ID() string
	RemoteAddr() string
	Emit(evt Event) error
}

// Broadcaster 按房间 ID 维护广播组。Publish 只做入队，不得阻塞，
// 这样它可以在 Store 事务内调用，保证组内观察到的顺序与消息日志一致。
type Broadcaster interface {
	Subscribe(roomID string, c Conn)
	Unsubscribe(c Conn)
	Publish(roomID string, evt Event)
	Drop(roomID string)
	Online(roomID string) int
}

// State 是单条连接的协议状态。
type State int

const (
	StateUnauthenticated State = iota
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session 记录一条连接的协议状态，只由该连接的读循环访问。
type Session struct {
	conn     Conn
	state    State
	roomID   string
	username string
	// joined 记录该连接加入过的每个房间及其所用的用户名。
	joined map[string]string
}

func (s *Session) Conn() Conn { return s.conn }

func (s *Session) State() State { return s.state }

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) Username() string { return s.username }

// Usernames 返回该连接加入房间时用过的所有用户名，已排序且去重。
func (s *Session) Usernames() []string {
	names := lo.Uniq(lo.Values(s.joined))
	slices.Sort(names)
	return names
}

// Gateway 把入站事件翻译成 Store 调用，并把结果作为出站事件发出。
type Gateway struct {
	store             *Store
	bc                Broadcaster
	leaveOnDisconnect bool
}

// GatewayOption 配置 Gateway。
type GatewayOption func(*Gateway)

// WithLeaveOnDisconnect 让断开连接等同于该连接已加入用户名的 user_left。
func WithLeaveOnDisconnect(enabled bool) GatewayOption {
	return func(g *Gateway) { g.leaveOnDisconnect = enabled }
}

func NewGateway(store *Store, bc Broadcaster, opts ...GatewayOption) *Gateway {
	g := &Gateway{store: store, bc: bc}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect 为新连接创建未认证会话。
func (g *Gateway) Connect(conn Conn) *Session {
	log.Info().Str("conn_id", conn.ID()).Str("remote", conn.RemoteAddr()).Msg("client connected")
	return &Session{conn: conn, state: StateUnauthenticated, joined: make(map[string]string)}
}

// JoinRoom 校验房间与 key；通过后订阅广播组、登记成员、回放历史并广播名单与加入通知。
// 返回的错误只用于调用方记录，拒绝原因已经通过 access_denied 发给请求方。
func (g *Gateway) JoinRoom(s *Session, req JoinRequest) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	err := g.store.Update(func(tx *Tx) error {
		if req.RoomID == "" || !tx.Exists(req.RoomID) {
			return ErrRoomNotFound
		}
		if !tx.IsValidKey(req.RoomID, req.Key) {
			return ErrInvalidKey
		}
		info, _ := tx.Get(req.RoomID)
		history, err := tx.Messages(req.RoomID)
		if err != nil {
			return err
		}
		if err := tx.Join(req.RoomID, req.Username); err != nil {
			return err
		}
		g.bc.Subscribe(req.RoomID, s.conn)
		s.state = StateJoined
		s.roomID = req.RoomID
		s.username = req.Username
		s.joined[req.RoomID] = req.Username

		g.emit(s, Event{Name: EventAccessGranted, Data: AccessGranted{Key: info.Key, Theme: info.Theme, Messages: history}})
		members, err := tx.Members(req.RoomID)
		if err != nil {
			return err
		}
		g.bc.Publish(req.RoomID, userList(members))
		return g.appendAndPublish(tx, req.RoomID, systemMessage(req.Username+" has joined the chat"))
	})
	switch {
	case errors.Is(err, ErrRoomNotFound):
		g.deny(s, req.RoomID, ReasonRoomNotFound)
	case errors.Is(err, ErrInvalidKey):
		g.deny(s, req.RoomID, ReasonInvalidKey)
	case err != nil:
		log.Error().Err(err).Str("room_id", req.RoomID).Msg("join room")
	default:
		log.Info().Str("room_id", req.RoomID).Str("username", req.Username).Msg("joined room")
	}
	return err
}

// SendMessage 向 roomId 追加用户消息并广播；房间已不存在时只回复请求方 room_expired。
func (g *Gateway) SendMessage(s *Session, req MessageRequest) error {
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	err := g.store.Update(func(tx *Tx) error {
		return g.appendAndPublish(tx, req.RoomID, models.Message{
			Username: req.Username,
			Message:  req.Message,
			Type:     models.MessageTypeUser,
		})
	})
	if errors.Is(err, ErrRoomNotFound) {
		g.emit(s, roomExpired())
	}
	return err
}

// UserLeft 在所有含有 username 的房间里移除该成员，并逐个房间广播新名单与离开通知。
// 返回受影响的房间 ID。
func (g *Gateway) UserLeft(s *Session, username string) ([]string, error) {
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	return g.userLeft(username)
}

func (g *Gateway) userLeft(username string) ([]string, error) {
	var affected []string
	err := g.store.Update(func(tx *Tx) error {
		for _, roomID := range tx.RoomsWithMember(username) {
			left, err := tx.Leave(roomID, username)
			if err != nil {
				return err
			}
			if !left {
				continue
			}
			affected = append(affected, roomID)
			members, err := tx.Members(roomID)
			if err != nil {
				return err
			}
			g.bc.Publish(roomID, userList(members))
			if err := g.appendAndPublish(tx, roomID, systemMessage(username+" has left the chat")); err != nil {
				return err
			}
		}
		return nil
	})
	return affected, err
}

// Disconnect 把会话置为关闭并退出所有广播组。
func (g *Gateway) Disconnect(s *Session) {
	if s.state == StateClosed {
		return
	}
	wasJoined := s.state == StateJoined
	s.state = StateClosed
	g.bc.Unsubscribe(s.conn)
	log.Info().Str("conn_id", s.conn.ID()).Str("room_id", s.roomID).Msg("client disconnected")
	if !g.leaveOnDisconnect || !wasJoined {
		return
	}
	for _, username := range s.Usernames() {
		if _, err := g.userLeft(username); err != nil {
			log.Error().Err(err).Str("username", username).Msg("leave on disconnect")
		}
	}
}

func (g *Gateway) appendAndPublish(tx *Tx, roomID string, msg models.Message) error {
	stored, err := tx.Append(roomID, msg)
	if err != nil {
		return err
	}
	metrics.ChatMessagesTotal.WithLabelValues(string(stored.Type)).Inc()
	g.bc.Publish(roomID, messageEvent(stored))
	return nil
}

func (g *Gateway) deny(s *Session, roomID, reason string) {
	metrics.JoinDeniedTotal.WithLabelValues(reason).Inc()
	log.Warn().Str("room_id", roomID).Str("reason", reason).Msg("join denied")
	g.emit(s, accessDenied(reason))
}

func (g *Gateway) emit(s *Session, evt Event) {
	if err := s.conn.Emit(evt); err != nil {
		log.Warn().Err(err).Str("conn_id", s.conn.ID()).Str("event", evt.Name).Msg("emit")
	}
}
