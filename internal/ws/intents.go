package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/models"
)

// MessageService is the slice of the message engine reachable over the
// socket.
type MessageService interface {
	Send(ctx context.Context, senderID int64, in message.SendInput) (*models.Message, error)
	Edit(ctx context.Context, senderID, messageID int64, content string) (*models.Message, error)
	Delete(ctx context.Context, senderID, messageID int64, scope models.DeleteScope) error
	ConsumeViewOnce(ctx context.Context, viewerID, messageID int64) (*models.Message, error)
	MarkRead(ctx context.Context, readerID, messageID int64) (bool, error)
	MarkAllRead(ctx context.Context, readerID, chatID int64) ([]int64, error)
}

type Membership interface {
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
}

// Intent is an inbound client frame.
type Intent struct {
	Type       string             `json:"type"`
	RequestID  string             `json:"request_id,omitempty"`
	ChatID     int64              `json:"chat_id,omitempty"`
	MessageID  int64              `json:"message_id,omitempty"`
	Content    string             `json:"content,omitempty"`
	MediaType  models.MediaType   `json:"media_type,omitempty"`
	IsViewOnce bool               `json:"is_view_once,omitempty"`
	ReplyToID  *int64             `json:"reply_to_id,omitempty"`
	Scope      models.DeleteScope `json:"scope,omitempty"`
}

// Reply answers an intent on the connection that sent it.
type Reply struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

const (
	IntentJoinChat   = "join_chat"
	IntentLeaveChat  = "leave_chat"
	IntentTyping     = "typing"
	IntentStopTyping = "stop_typing"
	IntentSend       = "send"
	IntentEdit       = "edit"
	IntentDelete     = "delete"
	IntentViewOnce   = "view_once"
	IntentRead       = "read"
	IntentReadAll    = "read_all"
)

var errUnknownIntent = errors.New("unknown intent")

type Dispatcher struct {
	messages MessageService
	members  Membership
	hub      *Hub
}

func NewDispatcher(hub *Hub, messages MessageService, members Membership) *Dispatcher {
	return &Dispatcher{messages: messages, members: members, hub: hub}
}

// Dispatch runs one intent for c and returns the encoded reply frame.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, data []byte) []byte {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
		return d.encode(d.failure(in, apperr.Validation("ws.dispatch", "invalid request")))
	}

	payload, err := d.handle(ctx, c, in)
	if err != nil {
		if errors.Is(err, errUnknownIntent) {
			err = apperr.Validation("ws.dispatch", "unknown intent")
		}
		return d.encode(d.failure(in, err))
	}
	return d.encode(Reply{Type: "ack", RequestID: in.RequestID, Intent: in.Type, Payload: payload})
}

func (d *Dispatcher) handle(ctx context.Context, c *Client, in Intent) (any, error) {
	switch in.Type {
	case IntentJoinChat:
		if err := d.requireMember(ctx, "ws.join_chat", in.ChatID, c.userID); err != nil {
			return nil, err
		}
		d.hub.registry.Join(in.ChatID, c)
		return map[string]any{"chat_id": in.ChatID}, nil

	case IntentLeaveChat:
		d.hub.registry.Leave(in.ChatID, c)
		return map[string]any{"chat_id": in.ChatID}, nil

	case IntentTyping, IntentStopTyping:
		participants, err := d.participants(ctx, "ws."+in.Type, in.ChatID, c.userID)
		if err != nil {
			return nil, err
		}
		typ := events.Typing
		if in.Type == IntentStopTyping {
			typ = events.StopTyping
		}
		d.hub.Publish(events.Event{
			Type:         typ,
			ChatID:       in.ChatID,
			ActorID:      c.userID,
			Recipients:   participants,
			ExcludeActor: true,
			Scope:        events.ScopeRoom,
			Payload:      events.TypingState{UserID: c.userID},
		})
		return nil, nil

	case IntentSend:
		return d.messages.Send(ctx, c.userID, message.SendInput{
			ChatID:     in.ChatID,
			Content:    in.Content,
			MediaType:  in.MediaType,
			IsViewOnce: in.IsViewOnce,
			ReplyToID:  in.ReplyToID,
		})

	case IntentEdit:
		return d.messages.Edit(ctx, c.userID, in.MessageID, in.Content)

	case IntentDelete:
		scope := in.Scope
		if scope == models.DeleteScopeNone {
			scope = models.DeleteScopeSender
		}
		if err := d.messages.Delete(ctx, c.userID, in.MessageID, scope); err != nil {
			return nil, err
		}
		return map[string]any{"message_id": in.MessageID, "scope": scope}, nil

	case IntentViewOnce:
		return d.messages.ConsumeViewOnce(ctx, c.userID, in.MessageID)

	case IntentRead:
		changed, err := d.messages.MarkRead(ctx, c.userID, in.MessageID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": in.MessageID, "changed": changed}, nil

	case IntentReadAll:
		ids, err := d.messages.MarkAllRead(ctx, c.userID, in.ChatID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"chat_id": in.ChatID, "message_ids": lo.Ternary(ids == nil, []int64{}, ids)}, nil
	}
	return nil, errUnknownIntent
}

func (d *Dispatcher) participants(ctx context.Context, op string, chatID, userID int64) ([]int64, error) {
	if chatID <= 0 {
		return nil, apperr.Validation(op, "chat_id is required")
	}
	participants, err := d.members.ParticipantIDs(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if len(participants) == 0 {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if !lo.Contains(participants, userID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}
	return participants, nil
}

func (d *Dispatcher) requireMember(ctx context.Context, op string, chatID, userID int64) error {
	_, err := d.participants(ctx, op, chatID, userID)
	return err
}

func (d *Dispatcher) failure(in Intent, err error) Reply {
	kind := apperr.KindOf(err)
	if kind == apperr.KindUnknown {
		log.Error().Err(err).Str("intent", in.Type).Msg("intent failed")
	}
	return Reply{
		Type:      "error",
		RequestID: in.RequestID,
		Intent:    in.Type,
		Code:      kind.Code(),
		Error:     d.hub.translate(apperr.Message(err)),
	}
}

func (d *Dispatcher) encode(r Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("intent", r.Intent).Msg("failed to encode reply")
		return nil
	}
	return b
}
