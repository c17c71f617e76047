package notifications

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"mazl/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// Client is one push channel of a user: a websocket connection plus its
// outbound buffer. A user may hold several clients (devices, tabs).
type Client struct {
	// ID is the channel handle, unique per connection.
	ID string

	UserID      uint
	ConnectedAt time.Time

	// The websocket connection. Nil in tests that only inspect Send.
	Conn *websocket.Conn

	// Buffered channel of outbound frames. One slot beyond sendBufferSize is
	// kept for the messages_dropped notice.
	Send chan []byte

	// IncomingHandler is called for every frame read from the peer.
	IncomingHandler func(*Client, []byte)

	// OnActivity is called when the peer proves liveness (frame or pong).
	OnActivity func(userID uint)

	hubName   string
	closeOnce sync.Once
	sendMu    sync.Mutex
}

// NewClient creates a client for userID with an empty outbound buffer.
func NewClient(hubName string, conn *websocket.Conn, userID uint) *Client {
	return &Client{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize+1),
		hubName:     hubName,
	}
}

// ReadPump pumps frames from the websocket connection to IncomingHandler.
// It returns when the peer goes away or misses a pong; the caller owns cleanup.
func (c *Client) ReadPump() {
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("ReadPump Error (User %d): %v", c.UserID, err)
			}
			return
		}
		c.touch()

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps frames from Send to the websocket connection and keeps
// the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a frame without blocking. A full or closed buffer drops the
// frame and counts it; it reports whether the frame was queued. The first drop
// of an overflow queues a messages_dropped notice in the reserved slot.
func (c *Client) TrySend(message []byte) (queued bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName, "closed").Inc()
			queued = false
		}
	}()

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if len(c.Send) < sendBufferSize {
		c.Send <- message
		return true
	}

	observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName, "full").Inc()
	log.Printf("Client %d (%s): Buffer full, dropped message", c.UserID, c.hubName)

	// Let the client detect the gap and re-fetch history.
	select {
	case c.Send <- dropNotice:
	default:
	}
	return false
}

// SendError queues an error frame for this channel only.
func (c *Client) SendError(code, message string) {
	frame, err := json.Marshal(map[string]interface{}{
		"type": "error",
		"payload": map[string]string{
			"code":    code,
			"message": message,
		},
	})
	if err != nil {
		return
	}
	c.TrySend(frame)
}

// Close closes the outbound buffer, which makes WritePump send a close frame.
// Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) touch() {
	if c.OnActivity != nil {
		c.OnActivity(c.UserID)
	}
}
