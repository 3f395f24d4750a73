// Package ws is the presence and fan-out router: it tracks live websocket
// connections per user, delivers core events to them and feeds client
// intents back into the core.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/metrics"
)

const DefaultBuffer = 256

// OfflineNotifier is told about new messages for recipients with no open
// connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, userIDs []int64, e events.Event)
}

type Hub struct {
	registry   Registry
	register   chan *Client
	unregister chan *Client
	events     chan events.Event
	done       chan struct{}
	intents    *Dispatcher
	offline    OfflineNotifier
	translate  func(string) string
	buffer     int
}

type Option func(*Hub)

func WithRegistry(r Registry) Option {
	return func(h *Hub) { h.registry = r }
}

func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithOfflineNotifier(n OfflineNotifier) Option {
	return func(h *Hub) { h.offline = n }
}

func WithDispatcher(d *Dispatcher) Option {
	return func(h *Hub) { h.intents = d }
}

// WithTranslator localizes error messages sent back to clients.
func WithTranslator(fn func(string) string) Option {
	return func(h *Hub) { h.translate = fn }
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS layer in front of the router
		return true
	},
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		registry:   NewMemoryRegistry(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		buffer:     DefaultBuffer,
		translate:  func(s string) string { return s },
	}
	for _, opt := range opts {
		opt(h)
	}
	h.events = make(chan events.Event, h.buffer)
	return h
}

// SetDispatcher wires the intent handler after construction, for callers
// whose services need the hub as their publisher first.
func (h *Hub) SetDispatcher(d *Dispatcher) {
	h.intents = d
}

// Publish hands an event to the router without blocking. When the queue is
// full the event is dropped and counted.
func (h *Hub) Publish(e events.Event) {
	select {
	case h.events <- e:
		metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
	default:
		metrics.EventsDropped.WithLabelValues(string(e.Type)).Inc()
		log.Warn().Str("event", string(e.Type)).Int64("chat_id", e.ChatID).Msg("event queue full, dropping event")
	}
}

// IsUserOnline reports whether the user has at least one open connection.
func (h *Hub) IsUserOnline(userID int64) bool {
	return h.registry.Online(userID)
}

func (h *Hub) Connections() int {
	return h.registry.Count()
}

// Run serves registrations and event delivery until ctx is done. Open
// connections are closed on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registry.Add(client)
			metrics.WsConnections.Inc()
			log.Debug().Int64("user_id", client.userID).Str("conn_id", client.id.String()).
				Int("total", h.registry.Count()).Msg("client connected")

		case client := <-h.unregister:
			if h.registry.Remove(client) {
				client.close()
				metrics.WsConnections.Dec()
				log.Debug().Int64("user_id", client.userID).Str("conn_id", client.id.String()).
					Int("total", h.registry.Count()).Msg("client disconnected")
			}

		case e := <-h.events:
			h.deliver(ctx, e)
		}
	}
}

func (h *Hub) shutdown() {
	for _, c := range h.registry.All() {
		if h.registry.Remove(c) {
			c.close()
			metrics.WsConnections.Dec()
		}
	}
	log.Info().Msg("realtime router stopped")
}

// join registers a connection with the running router.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// leave unregisters a connection; it never blocks once the router stopped.
func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// deliver writes one frame to every eligible connection of the event's
// recipients. A connection appears under exactly one user, so each receives
// the frame at most once.
func (h *Hub) deliver(ctx context.Context, e events.Event) {
	frame, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event", string(e.Type)).Msg("failed to encode event")
		return
	}

	seen := make(map[uuid.UUID]struct{})
	var offline []int64
	for _, userID := range lo.Uniq(e.Recipients) {
		if e.ExcludeActor && userID == e.ActorID {
			continue
		}
		conns := h.registry.Connections(userID)
		if len(conns) == 0 && userID != e.ActorID {
			offline = append(offline, userID)
		}
		for _, c := range conns {
			if _, dup := seen[c.id]; dup {
				continue
			}
			seen[c.id] = struct{}{}
			if e.Scope == events.ScopeRoom && !h.registry.InRoom(e.ChatID, c) {
				continue
			}
			if !c.enqueue(frame) {
				metrics.EventsDropped.WithLabelValues(string(e.Type)).Inc()
				log.Warn().Int64("user_id", userID).Str("conn_id", c.id.String()).
					Str("event", string(e.Type)).Msg("send buffer full, dropping frame")
			}
		}
	}

	if e.Type == events.MessageCreated && h.offline != nil && len(offline) > 0 {
		go h.offline.NotifyOffline(context.WithoutCancel(ctx), offline, e)
	}
}

// HandleWebSocket upgrades an authenticated request and starts its pumps.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": h.translate("unauthorized"), "code": "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the handshake error response
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(h, userID.(int64), conn)
	if !h.join(client) {
		conn.Close()
		return
	}

	go client.readPump()
	go client.writePump()
}
