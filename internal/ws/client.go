package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one websocket connection. A user may hold several.
type Client struct {
	id     uuid.UUID
	userID int64
	conn   *websocket.Conn
	hub    *Hub

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(h *Hub, userID int64, conn *websocket.Conn) *Client {
	return &Client{
		id:     uuid.New(),
		userID: userID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, h.buffer),
	}
}

func (c *Client) ID() uuid.UUID { return c.id }

func (c *Client) UserID() int64 { return c.userID }

// enqueue queues a frame without blocking. It reports false if the buffer is
// full or the connection is gone.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Int64("user_id", c.userID).Msg("websocket read error")
			}
			return
		}
		if c.hub.intents == nil {
			continue
		}
		if reply := c.hub.intents.Dispatch(context.Background(), c, data); reply != nil {
			if !c.enqueue(reply) {
				log.Warn().Int64("user_id", c.userID).Str("conn_id", c.id.String()).Msg("send buffer full, dropping reply")
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
