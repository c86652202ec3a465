package chat

import (
	"sync"
	"testing"
	"time"

	"chatrelay/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func TestStore_Create(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	a := s.Create(1, "")
	b := s.Create(30, "dark")

	require.NotEqual(t, a.ID, b.ID)
	require.Len(t, a.Key, 8)
	require.Equal(t, "#eee", a.Theme)
	require.Equal(t, "dark", b.Theme)
	require.Equal(t, clock.Now().Add(time.Minute), a.Expiry)
	require.Equal(t, clock.Now().Add(30*time.Minute), b.Expiry)
	require.Empty(t, a.Members)

	msgs, err := s.Messages(a.ID)
	require.NoError(t, err)
	require.NotNil(t, msgs)
	require.Empty(t, msgs)
}

func TestStore_IsValidKey(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")

	tests := []struct {
		name   string
		roomID string
		key    string
		want   bool
	}{
		{"matching key", r.ID, r.Key, true},
		{"wrong key", r.ID, "nope", false},
		{"empty key", r.ID, "", false},
		{"key prefix", r.ID, r.Key[:4], false},
		{"unknown room", "missing", r.Key, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, s.IsValidKey(tt.roomID, tt.key))
		})
	}
}

func TestStore_JoinIsIdempotentAndKeepsOrder(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")

	require.NoError(t, s.Join(r.ID, "alice"))
	require.NoError(t, s.Join(r.ID, "bob"))
	require.NoError(t, s.Join(r.ID, "alice"))

	members, err := s.Members(r.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, members)

	require.ErrorIs(t, s.Join("missing", "alice"), ErrRoomNotFound)
}

func TestStore_Leave(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")
	require.NoError(t, s.Join(r.ID, "alice"))
	require.NoError(t, s.Join(r.ID, "bob"))

	require.True(t, s.Leave(r.ID, "alice"))
	require.False(t, s.Leave(r.ID, "alice"))
	require.False(t, s.Leave("missing", "bob"))

	members, err := s.Members(r.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, members)
}

func TestStore_MembersReturnsCopy(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")
	require.NoError(t, s.Join(r.ID, "alice"))

	members, err := s.Members(r.ID)
	require.NoError(t, err)
	members[0] = "mallory"

	again, err := s.Members(r.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, again)
}

func TestStore_AppendOrdersAndTimestamps(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	r := s.Create(5, "")

	first, err := s.Append(r.ID, models.Message{Username: "alice", Message: "hi", Type: models.MessageTypeUser})
	require.NoError(t, err)
	require.Equal(t, clock.Now(), first.Timestamp)

	clock.Advance(time.Second)
	second, err := s.Append(r.ID, models.Message{Username: "bob", Message: "yo", Type: models.MessageTypeUser})
	require.NoError(t, err)

	// 时钟回拨时不早于上一条。
	clock.Set(first.Timestamp.Add(-time.Hour))
	third, err := s.Append(r.ID, models.Message{Username: "alice", Message: "again", Type: models.MessageTypeUser})
	require.NoError(t, err)
	require.False(t, third.Timestamp.Before(second.Timestamp))

	msgs, err := s.Messages(r.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "hi", msgs[0].Message)
	require.Equal(t, "yo", msgs[1].Message)
	require.Equal(t, "again", msgs[2].Message)

	_, err = s.Append("missing", models.Message{Message: "lost"})
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestStore_ListExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	short := s.Create(1, "")
	long := s.Create(10, "")

	require.Empty(t, s.ListExpired(clock.Now()))
	require.Equal(t, []string{short.ID}, s.ListExpired(short.Expiry))
	require.Equal(t, []string{short.ID, long.ID}, s.ListExpired(long.Expiry.Add(time.Second)))
}

func TestStore_DeleteRemovesEverything(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")
	require.NoError(t, s.Join(r.ID, "alice"))
	_, err := s.Append(r.ID, models.Message{Message: "hi"})
	require.NoError(t, err)

	s.Delete(r.ID)
	s.Delete(r.ID)

	_, ok := s.Get(r.ID)
	require.False(t, ok)
	require.False(t, s.IsValidKey(r.ID, r.Key))
	_, err = s.Members(r.ID)
	require.ErrorIs(t, err, ErrRoomNotFound)
	_, err = s.Messages(r.ID)
	require.ErrorIs(t, err, ErrRoomNotFound)
	require.Empty(t, s.List())
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")

	err := s.View(func(tx *Tx) error { return tx.Join(r.ID, "alice") })
	require.ErrorIs(t, err, ErrTxNotWritable)

	err = s.View(func(tx *Tx) error {
		_, err := tx.Create(time.Minute, "")
		return err
	})
	require.ErrorIs(t, err, ErrTxNotWritable)
}

func TestStore_RoomsWithMember(t *testing.T) {
	s := NewStore()
	r1 := s.Create(5, "")
	r2 := s.Create(5, "")
	r3 := s.Create(5, "")
	require.NoError(t, s.Join(r1.ID, "alice"))
	require.NoError(t, s.Join(r2.ID, "bob"))
	require.NoError(t, s.Join(r3.ID, "alice"))

	var ids []string
	require.NoError(t, s.View(func(tx *Tx) error {
		ids = tx.RoomsWithMember("alice")
		return nil
	}))
	require.ElementsMatch(t, []string{r1.ID, r3.ID}, ids)
}

func TestStore_ConcurrentJoinAndAppend(t *testing.T) {
	s := NewStore()
	r := s.Create(5, "")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Join(r.ID, "user")
			_, _ = s.Append(r.ID, models.Message{Username: "user", Message: "m"})
		}()
	}
	wg.Wait()

	members, err := s.Members(r.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"user"}, members)
	msgs, err := s.Messages(r.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}
}
