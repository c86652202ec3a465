package chat

import (
	"slices"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/models"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	keyLength    = 8
	defaultTheme = "#eee"
)

// room 是单个聊天会话的全部状态，只能在 Store 的锁内访问。
type room struct {
	id        string
	key       string
	theme     string
	createdAt time.Time
	expiry    time.Time
	members   []string
	present   map[string]struct{}
	messages  []models.Message
}

func (r *room) info() models.RoomInfo {
	return models.RoomInfo{
		ID:           r.id,
		Key:          r.key,
		Theme:        r.theme,
		Expiry:       r.expiry,
		CreatedAt:    r.createdAt,
		Members:      append(make([]string, 0, len(r.members)), r.members...),
		MessageCount: len(r.messages),
	}
}

// Option 配置 Store。
type Option func(*Store)

// WithClock 替换时间源，测试用它模拟房间过期。
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store 是内存中的房间表，成员与消息日志都挂在房间下，由一把粗粒度锁保护。
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*room
	now   func() time.Time
}

func NewStore(opts ...Option) *Store {
	s := &Store{rooms: make(map[string]*room), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now 返回 Store 使用的当前时间。
func (s *Store) Now() time.Time { return s.now() }

// Update 在独占锁内执行 fn；fn 内对房间的修改与随后的广播对其他调用者是原子的。
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s, writable: true})
}

// View 在共享锁内执行只读的 fn。
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{s: s})
}

// Tx 是一次加锁访问的句柄，离开 Update/View 后不得再使用。
type Tx struct {
	s        *Store
	writable bool
}

func (tx *Tx) Now() time.Time { return tx.s.now() }

// Create 生成新的房间 ID 与 8 位 key，过期时间为当前时间加 duration。
func (tx *Tx) Create(duration time.Duration, theme string) (models.RoomInfo, error) {
	if !tx.writable {
		return models.RoomInfo{}, ErrTxNotWritable
	}
	if theme == "" {
		theme = defaultTheme
	}
	id := uuid.NewString()
	for tx.s.rooms[id] != nil {
		id = uuid.NewString()
	}
	now := tx.s.now()
	r := &room{
		id:        id,
		key:       uuid.NewString()[:keyLength],
		theme:     theme,
		createdAt: now,
		expiry:    now.Add(duration),
		present:   make(map[string]struct{}),
	}
	tx.s.rooms[id] = r
	metrics.RoomsActive.Inc()
	return r.info(), nil
}

func (tx *Tx) Get(roomID string) (models.RoomInfo, bool) {
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return models.RoomInfo{}, false
	}
	return r.info(), true
}

func (tx *Tx) Exists(roomID string) bool {
	_, ok := tx.s.rooms[roomID]
	return ok
}

// IsValidKey 仅在房间存在且 key 完全相等时返回 true。
func (tx *Tx) IsValidKey(roomID, key string) bool {
	r, ok := tx.s.rooms[roomID]
	return ok && r.key == key
}

// Delete 删除房间及其成员与消息，房间不存在时为空操作。
func (tx *Tx) Delete(roomID string) error {
	if !tx.writable {
		return ErrTxNotWritable
	}
	if _, ok := tx.s.rooms[roomID]; ok {
		delete(tx.s.rooms, roomID)
		metrics.RoomsActive.Dec()
	}
	return nil
}

// ListExpired 返回 expiry 不晚于 now 的房间，按过期时间升序。
func (tx *Tx) ListExpired(now time.Time) []string {
	expired := lo.Filter(lo.Values(tx.s.rooms), func(r *room, _ int) bool {
		return !r.expiry.After(now)
	})
	slices.SortFunc(expired, func(a, b *room) int {
		if c := a.expiry.Compare(b.expiry); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return lo.Map(expired, func(r *room, _ int) string { return r.id })
}

// List 返回所有房间的快照，按创建时间升序。
func (tx *Tx) List() []models.RoomInfo {
	rooms := lo.Values(tx.s.rooms)
	slices.SortFunc(rooms, func(a, b *room) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return lo.Map(rooms, func(r *room, _ int) models.RoomInfo { return r.info() })
}

// Join 把 username 加入成员集合，已存在时保持原位置。
func (tx *Tx) Join(roomID, username string) error {
	if !tx.writable {
		return ErrTxNotWritable
	}
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if _, dup := r.present[username]; dup {
		return nil
	}
	r.present[username] = struct{}{}
	r.members = append(r.members, username)
	return nil
}

// Leave 从房间成员中移除 username，返回该用户此前是否在房间内。
func (tx *Tx) Leave(roomID, username string) (bool, error) {
	if !tx.writable {
		return false, ErrTxNotWritable
	}
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return false, nil
	}
	if _, ok := r.present[username]; !ok {
		return false, nil
	}
	delete(r.present, username)
	r.members = slices.DeleteFunc(r.members, func(m string) bool { return m == username })
	return true, nil
}

// RoomsWithMember 返回当前成员中含有 username 的所有房间。
func (tx *Tx) RoomsWithMember(username string) []string {
	var ids []string
	for id, r := range tx.s.rooms {
		if _, ok := r.present[username]; ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (tx *Tx) Members(roomID string) ([]string, error) {
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return append(make([]string, 0, len(r.members)), r.members...), nil
}

// Append 写入消息并分配时间戳；同一房间内时间戳单调不减。
func (tx *Tx) Append(roomID string, msg models.Message) (models.Message, error) {
	if !tx.writable {
		return models.Message{}, ErrTxNotWritable
	}
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	ts := tx.s.now()
	if n := len(r.messages); n > 0 && ts.Before(r.messages[n-1].Timestamp) {
		ts = r.messages[n-1].Timestamp
	}
	msg.Timestamp = ts
	r.messages = append(r.messages, msg)
	return msg, nil
}

// Messages 按写入顺序返回房间消息的副本，空房间返回非 nil 的空切片。
func (tx *Tx) Messages(roomID string) ([]models.Message, error) {
	r, ok := tx.s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return append(make([]models.Message, 0, len(r.messages)), r.messages...), nil
}

// 以下方法各自开启一次事务，供管理端与测试直接调用。

// Create 创建一个 durationMinutes 分钟后过期的房间。
func (s *Store) Create(durationMinutes int, theme string) models.RoomInfo {
	var info models.RoomInfo
	_ = s.Update(func(tx *Tx) error {
		var err error
		info, err = tx.Create(time.Duration(durationMinutes)*time.Minute, theme)
		return err
	})
	return info
}

func (s *Store) Get(roomID string) (info models.RoomInfo, ok bool) {
	_ = s.View(func(tx *Tx) error {
		info, ok = tx.Get(roomID)
		return nil
	})
	return info, ok
}

func (s *Store) IsValidKey(roomID, key string) (ok bool) {
	_ = s.View(func(tx *Tx) error {
		ok = tx.IsValidKey(roomID, key)
		return nil
	})
	return ok
}

func (s *Store) Delete(roomID string) {
	_ = s.Update(func(tx *Tx) error { return tx.Delete(roomID) })
}

func (s *Store) ListExpired(now time.Time) (ids []string) {
	_ = s.View(func(tx *Tx) error {
		ids = tx.ListExpired(now)
		return nil
	})
	return ids
}

func (s *Store) List() (rooms []models.RoomInfo) {
	_ = s.View(func(tx *Tx) error {
		rooms = tx.List()
		return nil
	})
	return rooms
}

func (s *Store) Join(roomID, username string) error {
	return s.Update(func(tx *Tx) error { return tx.Join(roomID, username) })
}

func (s *Store) Leave(roomID, username string) (left bool) {
	_ = s.Update(func(tx *Tx) error {
		var err error
		left, err = tx.Leave(roomID, username)
		return err
	})
	return left
}

func (s *Store) Members(roomID string) (members []string, err error) {
	err = s.View(func(tx *Tx) error {
		members, err = tx.Members(roomID)
		return err
	})
	return members, err
}

func (s *Store) Append(roomID string, msg models.Message) (stored models.Message, err error) {
	err = s.Update(func(tx *Tx) error {
		stored, err = tx.Append(roomID, msg)
		return err
	})
	return stored, err
}

func (s *Store) Messages(roomID string) (msgs []models.Message, err error) {
	err = s.View(func(tx *Tx) error {
		msgs, err = tx.Messages(roomID)
		return err
	})
	return msgs, err
}
