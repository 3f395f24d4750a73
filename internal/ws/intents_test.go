package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/testutil"
)

type wireFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Intent    string          `json:"intent"`
	Code      string          `json:"code"`
	ChatID    int64           `json:"chat_id"`
	ActorID   int64           `json:"actor_id"`
	Payload   json.RawMessage `json:"payload"`
}

type liveServer struct {
	url string
	hub *Hub
}

func newLiveServer(t *testing.T) (*liveServer, *testutil.Clock, func(string) int64, func(...int64) int64) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := testutil.NewStore(t)
	clock := testutil.NewClock(time.Now().UTC())
	hub := NewHub()
	engine := message.New(s, hub, message.WithClock(clock.Now))
	hub.SetDispatcher(NewDispatcher(hub, engine, s))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Query("uid"), 10, 64)
		if err == nil {
			c.Set("user_id", id)
		}
		hub.HandleWebSocket(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	user := func(name string) int64 { return testutil.CreateUser(t, s, name) }
	group := func(ids ...int64) int64 { return testutil.CreateGroupChat(t, s, ids[0], ids[1:]...).ID }
	return &liveServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", hub: hub}, clock, user, group
}

func (l *liveServer) dial(t *testing.T, userID int64) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(l.url+"?uid="+strconv.FormatInt(userID, 10), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return l.hub.IsUserOnline(userID) }, time.Second, time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func read(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) wireFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := read(t, conn); f.Type == typ {
			return f
		}
	}
	t.Fatalf("no %s frame", typ)
	return wireFrame{}
}

func TestSendIntentFansOut(t *testing.T) {
	srv, _, user, group := newLiveServer(t)
	alice, bob, carol := user("alice"), user("bob"), user("carol")
	chatID := group(alice, bob, carol)

	aliceConn := srv.dial(t, alice)
	bobConn := srv.dial(t, bob)

	send(t, aliceConn, map[string]any{"type": "send", "request_id": "r1", "chat_id": chatID, "content": "hello"})

	var acked, created bool
	for i := 0; i < 2; i++ {
		f := read(t, aliceConn)
		switch f.Type {
		case "ack":
			assert.Equal(t, "r1", f.RequestID)
			assert.Equal(t, "send", f.Intent)
			acked = true
		case "message.created":
			created = true
		}
	}
	assert.True(t, acked)
	assert.True(t, created, "sender's own device receives the echo")

	f := readUntil(t, bobConn, "message.created")
	assert.Equal(t, chatID, f.ChatID)
	var payload struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, "hello", payload.Message.Content)
}

func TestIntentErrors(t *testing.T) {
	srv, _, user, group := newLiveServer(t)
	alice, bob, carol, mallory := user("alice"), user("bob"), user("carol"), user("mallory")
	chatID := group(alice, bob, carol)

	conn := srv.dial(t, mallory)

	send(t, conn, map[string]any{"type": "join_chat", "request_id": "j", "chat_id": chatID})
	f := read(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "forbidden", f.Code)
	assert.Equal(t, "j", f.RequestID)

	send(t, conn, map[string]any{"type": "dance", "request_id": "d"})
	f = read(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Equal(t, "validation_error", f.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f = read(t, conn)
	assert.Equal(t, "validation_error", f.Code)

	send(t, conn, map[string]any{"type": "view_once", "request_id": "v", "message_id": 4242})
	f = read(t, conn)
	assert.Equal(t, "not_found", f.Code)
}

func TestTypingReachesJoinedRoomOnly(t *testing.T) {
	srv, _, user, group := newLiveServer(t)
	alice, bob, carol := user("alice"), user("bob"), user("carol")
	chatID := group(alice, bob, carol)

	aliceConn := srv.dial(t, alice)
	bobConn := srv.dial(t, bob)
	carolConn := srv.dial(t, carol)

	for _, c := range []*websocket.Conn{aliceConn, bobConn} {
		send(t, c, map[string]any{"type": "join_chat", "request_id": "j", "chat_id": chatID})
		assert.Equal(t, "ack", read(t, c).Type)
	}

	send(t, aliceConn, map[string]any{"type": "typing", "request_id": "t", "chat_id": chatID})
	assert.Equal(t, "ack", read(t, aliceConn).Type)

	f := read(t, bobConn)
	assert.Equal(t, "typing", f.Type)
	assert.Equal(t, alice, f.ActorID)

	// carol never joined the room; the next frame she sees is the send echo
	send(t, aliceConn, map[string]any{"type": "send", "request_id": "s", "chat_id": chatID, "content": "hi"})
	assert.Equal(t, "message.created", read(t, carolConn).Type)
}

func TestViewOnceOverSocket(t *testing.T) {
	srv, _, user, group := newLiveServer(t)
	alice, bob, carol := user("alice"), user("bob"), user("carol")
	chatID := group(alice, bob, carol)

	aliceConn := srv.dial(t, alice)
	bobConn := srv.dial(t, bob)

	send(t, aliceConn, map[string]any{"type": "send", "request_id": "s", "chat_id": chatID, "content": "secret", "is_view_once": true})
	ack := readUntil(t, aliceConn, "ack")
	var sent struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(ack.Payload, &sent))

	created := readUntil(t, bobConn, "message.created")
	var locked struct {
		Message struct {
			Content string `json:"content"`
			Locked  bool   `json:"locked"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(created.Payload, &locked))
	assert.Empty(t, locked.Message.Content)
	assert.True(t, locked.Message.Locked)

	send(t, bobConn, map[string]any{"type": "view_once", "request_id": "v1", "message_id": sent.ID})
	opened := readUntil(t, bobConn, "ack")
	var content struct {
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(opened.Payload, &content))
	assert.Equal(t, "secret", content.Content)

	viewed := readUntil(t, aliceConn, "message.viewed")
	assert.Equal(t, bob, viewed.ActorID)

	send(t, bobConn, map[string]any{"type": "view_once", "request_id": "v2", "message_id": sent.ID})
	f := readUntil(t, bobConn, "error")
	assert.Equal(t, "gone", f.Code)
}
