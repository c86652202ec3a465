package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/metrics"
	"chatrelay/internal/mw"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

var (
	errClientClosed = errors.New("client closed")
	errSendBufFull  = errors.New("send buffer full")
)

var validate = validator.New()

// Options 控制单条 websocket 连接的限制。
type Options struct {
	MaxMessageBytes int64
	// Limiter 按连接 ID 限制入站事件速率，为 nil 时不限速。
	Limiter     *mw.RL
	CheckOrigin func(r *http.Request) bool
}

// envelope 是每一帧的外层结构。
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client 是一条 websocket 连接，实现 chat.Conn。
// send 从不关闭；done 关闭后写循环退出并关闭底层连接。
type Client struct {
	id     string
	remote string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

var _ chat.Conn = (*Client)(nil)

func newClient(conn *websocket.Conn, remote string) *Client {
	return &Client{
		id:     uuid.NewString(),
		remote: remote,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) RemoteAddr() string { return c.remote }

// Emit 编码事件并放入发送缓冲。
func (c *Client) Emit(evt chat.Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

func (c *Client) enqueue(b []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return errSendBufFull
	}
}

// Close 通知写循环退出，可重复调用。
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Serve 升级为 websocket，并把该连接上的事件交给网关处理。
func Serve(gw *chat.Gateway, hub *Hub, opts Options) gin.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: opts.CheckOrigin}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", c.Request.RemoteAddr).Msg("websocket upgrade")
			return
		}
		client := newClient(conn, c.Request.RemoteAddr)
		hub.attach(client)
		metrics.WsConnections.Inc()
		session := gw.Connect(client)

		go client.writePump()
		client.readPump(gw, session, opts)

		gw.Disconnect(session)
		client.Close()
		hub.detach(client)
		if opts.Limiter != nil {
			opts.Limiter.Forget(client.id)
		}
		metrics.WsConnections.Dec()
	}
}

func (c *Client) readPump(gw *chat.Gateway, s *chat.Session, opts Options) {
	if opts.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(opts.MaxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("read")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if opts.Limiter != nil && !opts.Limiter.Allow(c.id) {
			_ = c.Emit(chat.Event{Name: chat.EventError, Data: "rate limited"})
			continue
		}
		c.dispatch(gw, s, data)
	}
}

// dispatch 解码一帧入站事件并调用对应的网关操作，无法解码的帧只记录日志。
func (c *Client) dispatch(gw *chat.Gateway, s *chat.Session, data []byte) {
	var in envelope
	if err := json.Unmarshal(data, &in); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Msg("decode frame")
		return
	}
	switch in.Event {
	case chat.EventJoinRoom:
		var req chat.JoinRequest
		if !c.decode(in, &req) {
			return
		}
		_ = gw.JoinRoom(s, req)
	case chat.EventMessage:
		var req chat.MessageRequest
		if !c.decode(in, &req) {
			return
		}
		if err := gw.SendMessage(s, req); err != nil && !errors.Is(err, chat.ErrRoomNotFound) {
			log.Error().Err(err).Str("room_id", req.RoomID).Msg("send message")
		}
	case chat.EventUserLeft:
		var username string
		if err := json.Unmarshal(in.Data, &username); err != nil {
			log.Debug().Err(err).Str("conn_id", c.id).Msg("decode user_left")
			return
		}
		if _, err := gw.UserLeft(s, username); err != nil {
			log.Error().Err(err).Str("username", username).Msg("user left")
		}
	default:
		log.Debug().Str("conn_id", c.id).Str("event", in.Event).Msg("unknown event")
	}
}

func (c *Client) decode(in envelope, v any) bool {
	if err := json.Unmarshal(in.Data, v); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Str("event", in.Event).Msg("decode payload")
		_ = c.Emit(chat.Event{Name: chat.EventError, Data: "invalid payload"})
		return false
	}
	if err := validate.Struct(v); err != nil {
		log.Debug().Err(err).Str("conn_id", c.id).Str("event", in.Event).Msg("validate payload")
		_ = c.Emit(chat.Event{Name: chat.EventError, Data: "invalid payload"})
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
