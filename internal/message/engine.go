// Package message implements the message lifecycle: send, edit within a
// fixed window, dual-scope deletion, view-once consumption, read receipts and
// the visibility predicate applied on every read path.
package message

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/models"
	"github.com/4xmen/gapchat/internal/receipt"
	"github.com/4xmen/gapchat/internal/store"
)

const DefaultEditWindow = 15 * time.Minute

type Store interface {
	GetChat(ctx context.Context, id int64) (*models.Chat, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	ListMessages(ctx context.Context, chatID int64) ([]*models.Message, error)
	InsertMessage(ctx context.Context, m *models.Message) error
	EditMessage(ctx context.Context, id, senderID int64, content string, at, notBefore time.Time) (bool, error)
	HideForSender(ctx context.Context, id, senderID int64) (bool, error)
	DeleteForEveryone(ctx context.Context, id, senderID int64) (bool, error)
	AppendViewer(ctx context.Context, id, viewerID int64, at time.Time) (bool, error)
	AppendReader(ctx context.Context, id, readerID int64, at time.Time) (bool, error)
	MarkChatRead(ctx context.Context, chatID, readerID int64, at time.Time) ([]int64, error)
	receipt.Store
}

type Engine struct {
	store      Store
	receipts   *receipt.Aggregator
	pub        events.Publisher
	validate   *validator.Validate
	editWindow time.Duration
	now        func() time.Time
}

type Option func(*Engine)

func WithEditWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.editWindow = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(s Store, pub events.Publisher, opts ...Option) *Engine {
	if pub == nil {
		pub = events.Discard{}
	}
	e := &Engine{
		store:      s,
		receipts:   receipt.New(s, pub),
		pub:        pub,
		validate:   validator.New(),
		editWindow: DefaultEditWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type SendInput struct {
	ChatID     int64            `json:"chat_id" validate:"required,gt=0"`
	Content    string           `json:"content" validate:"required,max=10000"`
	MediaType  models.MediaType `json:"media_type" validate:"omitempty,oneof=text image video"`
	IsViewOnce bool             `json:"is_view_once"`
	ReplyToID  *int64           `json:"reply_to_id" validate:"omitempty,gt=0"`
}

type ReadStatus struct {
	MessageID int64                `json:"message_id"`
	ReadBy    []models.ReadReceipt `json:"read_by"`
}

func (e *Engine) Send(ctx context.Context, senderID int64, in SendInput) (*models.Message, error) {
	const op = "message.send"

	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	if in.MediaType == "" {
		in.MediaType = models.MediaText
	}
	if err := e.validate.Struct(in); err != nil {
		return nil, validationError(op, err)
	}

	chat, err := e.chat(ctx, op, in.ChatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(senderID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}

	var target *models.Message
	if in.ReplyToID != nil {
		target, err = e.store.GetMessage(ctx, *in.ReplyToID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Internal(op, err)
		}
		if target == nil || target.ChatID != chat.ID {
			return nil, apperr.Validation(op, "reply target must be a message in the same chat")
		}
	}

	m := &models.Message{
		ChatID:     chat.ID,
		SenderID:   senderID,
		Content:    in.Content,
		MediaType:  in.MediaType,
		IsViewOnce: in.IsViewOnce,
		ReplyToID:  in.ReplyToID,
		CreatedAt:  e.now().UTC(),
	}
	if err := e.store.InsertMessage(ctx, m); err != nil {
		return nil, apperr.Internal(op, err)
	}

	saved, err := e.store.GetMessage(ctx, m.ID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	log.Debug().Int64("message_id", saved.ID).Int64("chat_id", chat.ID).Int64("user_id", senderID).
		Bool("view_once", saved.IsViewOnce).Msg("message sent")

	out := broadcastView(saved)
	if target != nil {
		out.ReplyTo = replyPreview(broadcastViewer, target)
	}
	e.pub.Publish(events.Event{
		Type:       events.MessageCreated,
		ChatID:     chat.ID,
		ActorID:    senderID,
		Recipients: chat.Participants,
		Payload:    events.Created{Message: out},
	})

	if target != nil {
		saved.ReplyTo = replyPreview(senderID, target)
	}
	return saved, nil
}

func (e *Engine) Edit(ctx context.Context, senderID, messageID int64, content string) (*models.Message, error) {
	const op = "message.edit"

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperr.Validation(op, "content is required")
	}
	if err := e.validate.Var(content, "max=10000"); err != nil {
		return nil, validationError(op, err)
	}

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != senderID {
		return nil, apperr.Forbidden(op, "can only edit own messages")
	}
	if m.IsDeleted || m.DeleteScope != models.DeleteScopeNone {
		return nil, apperr.InvalidState(op, "message is deleted")
	}
	if m.IsViewOnce {
		return nil, apperr.InvalidState(op, "view-once messages cannot be edited")
	}

	now := e.now().UTC()
	if now.Sub(m.CreatedAt) > e.editWindow {
		return nil, apperr.InvalidState(op, "edit window has passed")
	}

	edited, err := e.store.EditMessage(ctx, messageID, senderID, content, now, now.Add(-e.editWindow))
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !edited {
		// deleted or aged out between the check and the conditional update
		return nil, apperr.InvalidState(op, "message can no longer be edited")
	}

	saved, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	participants, err := e.store.ParticipantIDs(ctx, saved.ChatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	e.pub.Publish(events.Event{
		Type:       events.MessageEdited,
		ChatID:     saved.ChatID,
		ActorID:    senderID,
		Recipients: participants,
		Payload:    events.Edited{MessageID: saved.ID, Message: broadcastView(saved)},
	})
	return saved, nil
}

// Delete removes a message for its sender only or tombstones it for everyone.
func (e *Engine) Delete(ctx context.Context, senderID, messageID int64, scope models.DeleteScope) error {
	const op = "message.delete"

	if !scope.Valid() {
		return apperr.Validation(op, "scope must be sender or everyone")
	}

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != senderID {
		return apperr.Forbidden(op, "can only delete own messages")
	}
	if m.DeleteScope == models.DeleteScopeEveryone {
		return apperr.Gone(op, "message already deleted")
	}

	var (
		changed    bool
		recipients []int64
	)
	switch scope {
	case models.DeleteScopeSender:
		if m.DeleteScope == models.DeleteScopeSender {
			return nil
		}
		changed, err = e.store.HideForSender(ctx, messageID, senderID)
		recipients = []int64{senderID}
	case models.DeleteScopeEveryone:
		changed, err = e.store.DeleteForEveryone(ctx, messageID, senderID)
		if err == nil {
			recipients, err = e.store.ParticipantIDs(ctx, m.ChatID)
		}
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !changed {
		return apperr.Gone(op, "message already deleted")
	}

	log.Info().Int64("message_id", messageID).Int64("chat_id", m.ChatID).
		Str("scope", string(scope)).Msg("message deleted")

	e.pub.Publish(events.Event{
		Type:       events.MessageDeleted,
		ChatID:     m.ChatID,
		ActorID:    senderID,
		Recipients: recipients,
		Payload:    events.Deleted{MessageID: messageID, Scope: scope},
	})
	return nil
}

// ConsumeViewOnce reveals a view-once message to viewerID exactly once. The
// returned message carries the content; IsDeleted reports whether this open
// completed the set of viewers and purged the message.
func (e *Engine) ConsumeViewOnce(ctx context.Context, viewerID, messageID int64) (*models.Message, error) {
	const op = "message.view_once"

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if !m.IsViewOnce {
		return nil, apperr.InvalidState(op, "not a view-once message")
	}
	if m.SenderID == viewerID {
		return nil, apperr.Forbidden(op, "cannot open your own view-once message")
	}

	participants, err := e.store.ParticipantIDs(ctx, m.ChatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !lo.Contains(participants, viewerID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}
	if m.IsDeleted {
		return nil, apperr.Gone(op, "message has been deleted")
	}
	if m.ViewedByUser(viewerID) {
		return nil, apperr.Gone(op, "message already viewed")
	}

	// view-once messages cannot be edited, so the content read above is the
	// content this viewer is entitled to even if a concurrent open purges it
	content := m.Content

	appended, err := e.store.AppendViewer(ctx, messageID, viewerID, e.now())
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !appended {
		return nil, apperr.Gone(op, "message already viewed")
	}

	purged, err := e.receipts.ViewRecorded(ctx, m, participants, viewerID, true)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	out := redact(m, false)
	out.Content = content
	out.ViewedBy = append(out.ViewedBy, viewerID)
	out.IsDeleted = purged
	return out, nil
}

// MarkRead records a read receipt. Reading twice, or reading your own
// message, is a no-op; the result reports whether anything changed.
func (e *Engine) MarkRead(ctx context.Context, readerID, messageID int64) (bool, error) {
	const op = "message.read"

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return false, err
	}
	participants, err := e.store.ParticipantIDs(ctx, m.ChatID)
	if err != nil {
		return false, apperr.Internal(op, err)
	}
	if !lo.Contains(participants, readerID) {
		return false, apperr.Forbidden(op, "not a participant")
	}
	if m.SenderID == readerID {
		return false, nil
	}

	readAt := e.now().UTC()
	appended, err := e.store.AppendReader(ctx, messageID, readerID, readAt)
	if err != nil {
		return false, apperr.Internal(op, err)
	}
	e.receipts.ReadRecorded(m, participants, readerID, readAt, appended)
	return appended, nil
}

// MarkAllRead reads every unread message of the chat not sent by readerID in
// one batch and returns the ids that changed.
func (e *Engine) MarkAllRead(ctx context.Context, readerID, chatID int64) ([]int64, error) {
	const op = "message.read_all"

	chat, err := e.chat(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(readerID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}

	readAt := e.now().UTC()
	ids, err := e.store.MarkChatRead(ctx, chatID, readerID, readAt)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	e.receipts.ChatRead(chatID, chat.Participants, readerID, ids, readAt)
	return ids, nil
}

// Get returns a single message as viewerID may see it.
func (e *Engine) Get(ctx context.Context, viewerID, messageID int64) (*models.Message, error) {
	const op = "message.get"

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if err := e.requireParticipant(ctx, op, m.ChatID, viewerID); err != nil {
		return nil, err
	}
	out, ok := Project(viewerID, m)
	if !ok {
		return nil, apperr.Gone(op, "message is no longer available")
	}
	if m.ReplyToID != nil {
		if target, err := e.store.GetMessage(ctx, *m.ReplyToID); err == nil {
			out.ReplyTo = replyPreview(viewerID, target)
		}
	}
	return out, nil
}

// List returns the chat history as viewerID may see it, oldest first.
func (e *Engine) List(ctx context.Context, viewerID, chatID int64) ([]*models.Message, error) {
	const op = "message.list"

	if err := e.requireParticipant(ctx, op, chatID, viewerID); err != nil {
		return nil, err
	}
	all, err := e.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	byID := lo.KeyBy(all, func(m *models.Message) int64 { return m.ID })
	out := make([]*models.Message, 0, len(all))
	for _, m := range all {
		p, ok := Project(viewerID, m)
		if !ok {
			continue
		}
		if m.ReplyToID != nil {
			if target, found := byID[*m.ReplyToID]; found {
				p.ReplyTo = replyPreview(viewerID, target)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// History returns the edit history of a message to its sender.
func (e *Engine) History(ctx context.Context, requesterID, messageID int64) ([]models.EditEntry, error) {
	const op = "message.history"

	m, err := e.message(ctx, op, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != requesterID {
		return nil, apperr.Forbidden(op, "only the sender can view edit history")
	}
	if m.DeleteScope == models.DeleteScopeEveryone {
		return nil, apperr.Gone(op, "message has been deleted")
	}
	if m.EditHistory == nil {
		return []models.EditEntry{}, nil
	}
	return m.EditHistory, nil
}

// ReadStatus lists who read each of requesterID's own messages in a chat.
func (e *Engine) ReadStatus(ctx context.Context, requesterID, chatID int64) ([]ReadStatus, error) {
	const op = "message.read_status"

	if err := e.requireParticipant(ctx, op, chatID, requesterID); err != nil {
		return nil, err
	}
	all, err := e.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	own := lo.Filter(all, func(m *models.Message, _ int) bool {
		return m.SenderID == requesterID && VisibleTo(requesterID, m) != Hidden
	})
	return lo.Map(own, func(m *models.Message, _ int) ReadStatus {
		return ReadStatus{MessageID: m.ID, ReadBy: m.ReadBy}
	}), nil
}

func (e *Engine) chat(ctx context.Context, op string, chatID int64) (*models.Chat, error) {
	chat, err := e.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return chat, nil
}

func (e *Engine) message(ctx context.Context, op string, messageID int64) (*models.Message, error) {
	m, err := e.store.GetMessage(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "message not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return m, nil
}

func (e *Engine) requireParticipant(ctx context.Context, op string, chatID, userID int64) error {
	participants, err := e.store.ParticipantIDs(ctx, chatID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if len(participants) == 0 {
		return apperr.NotFound(op, "chat not found")
	}
	if !lo.Contains(participants, userID) {
		return apperr.Forbidden(op, "not a participant")
	}
	return nil
}

func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.Validation(op, strings.ToLower(fe.Field())+" failed "+fe.Tag()+" validation")
	}
	return apperr.Validation(op, err.Error())
}
