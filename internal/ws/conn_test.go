package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *chat.Store, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := chat.NewStore()
	hub := NewHub()
	gw := chat.NewGateway(store, hub)
	r := gin.New()
	r.GET("/ws", Serve(gw, hub, opts))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, hub
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteJSON(frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func TestServe_JoinAndChat(t *testing.T) {
	srv, store, _ := newTestServer(t, Options{MaxMessageBytes: 4096})
	room := store.Create(5, "")

	alice := dial(t, srv)
	send(t, alice, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Username: "alice", Key: room.Key})

	f := read(t, alice)
	if f.Event != chat.EventAccessGranted {
		t.Fatalf("first event = %s, want access_granted", f.Event)
	}
	var granted struct {
		Key      string            `json:"key"`
		Theme    string            `json:"theme"`
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(f.Data, &granted); err != nil {
		t.Fatalf("decode access_granted: %v", err)
	}
	if granted.Key != room.Key || granted.Theme != "#eee" || granted.Messages == nil || len(granted.Messages) != 0 {
		t.Errorf("access_granted = %s", f.Data)
	}

	f = read(t, alice)
	if f.Event != chat.EventUserList || string(f.Data) != `["alice"]` {
		t.Errorf("second event = %s %s, want user_list [alice]", f.Event, f.Data)
	}
	f = read(t, alice)
	if f.Event != chat.EventMessage || !strings.Contains(string(f.Data), "alice has joined the chat") {
		t.Errorf("third event = %s %s", f.Event, f.Data)
	}

	send(t, alice, chat.EventMessage, chat.MessageRequest{RoomID: room.ID, Username: "alice", Message: "hello"})
	f = read(t, alice)
	var msg struct {
		Username string `json:"username"`
		Message  string `json:"message"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if f.Event != chat.EventMessage || msg.Username != "alice" || msg.Message != "hello" || msg.Type != "user" {
		t.Errorf("message event = %s %s", f.Event, f.Data)
	}
}

func TestServe_WrongKey(t *testing.T) {
	srv, store, _ := newTestServer(t, Options{MaxMessageBytes: 4096})
	room := store.Create(5, "")

	c := dial(t, srv)
	send(t, c, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Username: "mallory", Key: "wrong"})

	f := read(t, c)
	if f.Event != chat.EventAccessDenied || string(f.Data) != `"Invalid room key"` {
		t.Errorf("event = %s %s, want access_denied", f.Event, f.Data)
	}
	if members, _ := store.Members(room.ID); len(members) != 0 {
		t.Errorf("members = %v, want none", members)
	}
}

func TestServe_InvalidPayload(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{MaxMessageBytes: 4096})

	c := dial(t, srv)
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"event":"join_room","data":42}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := read(t, c)
	if f.Event != chat.EventError || string(f.Data) != `"invalid payload"` {
		t.Errorf("event = %s %s, want error invalid payload", f.Event, f.Data)
	}
}

func TestServe_RateLimited(t *testing.T) {
	limiter := mw.NewRateLimiter(rate.Every(time.Hour), 1, time.Minute)
	srv, store, _ := newTestServer(t, Options{MaxMessageBytes: 4096, Limiter: limiter})
	room := store.Create(5, "")

	c := dial(t, srv)
	send(t, c, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Username: "alice", Key: "wrong"})
	if f := read(t, c); f.Event != chat.EventAccessDenied {
		t.Fatalf("event = %s, want access_denied", f.Event)
	}

	send(t, c, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Username: "alice", Key: room.Key})
	f := read(t, c)
	if f.Event != chat.EventError || string(f.Data) != `"rate limited"` {
		t.Errorf("event = %s %s, want error rate limited", f.Event, f.Data)
	}
}

func TestServe_DisconnectLeavesGroups(t *testing.T) {
	srv, store, hub := newTestServer(t, Options{MaxMessageBytes: 4096})
	room := store.Create(5, "")

	c := dial(t, srv)
	send(t, c, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Username: "alice", Key: room.Key})
	for i := 0; i < 3; i++ {
		read(t, c)
	}
	if hub.Online(room.ID) != 1 {
		t.Fatalf("Online() = %d, want 1", hub.Online(room.ID))
	}

	c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Online(room.ID) != 0 || hub.Connections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection still tracked: online=%d live=%d", hub.Online(room.ID), hub.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if members, _ := store.Members(room.ID); len(members) != 1 {
		t.Errorf("members = %v, want alice kept after disconnect", members)
	}
}

func TestServe_JoinRequiresUsername(t *testing.T) {
	srv, store, _ := newTestServer(t, Options{MaxMessageBytes: 4096})
	room := store.Create(5, "")

	c := dial(t, srv)
	send(t, c, chat.EventJoinRoom, chat.JoinRequest{RoomID: room.ID, Key: room.Key})

	f := read(t, c)
	if f.Event != chat.EventError || string(f.Data) != `"invalid payload"` {
		t.Errorf("event = %s %s, want error invalid payload", f.Event, f.Data)
	}
	if members, _ := store.Members(room.ID); len(members) != 0 {
		t.Errorf("members = %v, want none", members)
	}
}
