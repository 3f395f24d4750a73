// Package events is the typed vocabulary the chat core emits after a state
// change. Producers hand events to a Publisher; the realtime router is the
// production Publisher.
package events

import (
	"time"

	"github.com/4xmen/gapchat/internal/models"
)

type Type string

const (
	MessageCreated Type = "message.created"
	MessageEdited  Type = "message.edited"
	MessageDeleted Type = "message.deleted"
	MessageViewed  Type = "message.viewed"
	MessageRead    Type = "message.read"
	Typing         Type = "typing"
	StopTyping     Type = "stop_typing"
	MemberJoined   Type = "chat.member_joined"
	MemberLeft     Type = "chat.member_left"
)

// Scope selects which connections of the recipients receive an event.
type Scope int

const (
	// ScopeParticipants reaches every live connection of every recipient.
	ScopeParticipants Scope = iota
	// ScopeRoom reaches only connections that joined the chat room.
	ScopeRoom
)

type Event struct {
	Type   Type  `json:"type"`
	ChatID int64 `json:"chat_id"`
	// ActorID is the user whose action produced the event.
	ActorID int64 `json:"actor_id"`
	// Recipients are the user ids the event is addressed to, usually the chat
	// participants at emit time.
	Recipients   []int64 `json:"-"`
	ExcludeActor bool    `json:"-"`
	Scope        Scope   `json:"-"`
	Payload      any     `json:"payload"`
}

type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

type Created struct {
	Message *models.Message `json:"message"`
}

type Edited struct {
	MessageID int64           `json:"message_id"`
	Message   *models.Message `json:"message"`
}

type Deleted struct {
	MessageID int64              `json:"message_id"`
	Scope     models.DeleteScope `json:"scope"`
}

type Viewed struct {
	MessageID int64 `json:"message_id"`
	ViewerID  int64 `json:"viewer_id"`
	// Purged is set on the single event that accompanies the transition of
	// the message to its deleted terminal state.
	Purged bool `json:"purged,omitempty"`
}

type Read struct {
	MessageID int64     `json:"message_id"`
	ReaderID  int64     `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type TypingState struct {
	UserID int64 `json:"user_id"`
}

type Membership struct {
	UserID int64 `json:"user_id"`
}
