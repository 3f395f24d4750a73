// Package invite issues and redeems group invite links.
package invite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/models"
	"github.com/4xmen/gapchat/internal/store"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultAttempts = 5
	codeBytes       = 16
)

type Store interface {
	GetChat(ctx context.Context, id int64) (*models.Chat, error)
	ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	InsertInviteLink(ctx context.Context, l *models.InviteLink) error
	GetInviteByCode(ctx context.Context, code string) (*models.InviteLink, error)
	GetInviteByID(ctx context.Context, id int64) (*models.InviteLink, error)
	ListInviteLinks(ctx context.Context, chatID int64, activeOnly bool) ([]models.InviteLink, error)
	RedeemInvite(ctx context.Context, code string, userID int64, now time.Time) (int64, error)
	DeactivateInvite(ctx context.Context, id int64) (bool, error)
	DeactivateExpired(ctx context.Context, now time.Time, chatID *int64) (int64, error)
}

// CodeSource draws a fresh invite code.
type CodeSource func() (string, error)

// RandomCode returns 16 bytes from crypto/rand, hex encoded.
func RandomCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type Manager struct {
	store    Store
	pub      events.Publisher
	codes    CodeSource
	ttl      time.Duration
	attempts int
	now      func() time.Time
}

type Option func(*Manager)

func WithCodeSource(src CodeSource) Option {
	return func(m *Manager) { m.codes = src }
}

// WithDefaultTTL sets the lifetime used when Generate is called without one.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

func WithAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(s Store, pub events.Publisher, opts ...Option) *Manager {
	if pub == nil {
		pub = events.Discard{}
	}
	m := &Manager{
		store:    s,
		pub:      pub,
		codes:    RandomCode,
		ttl:      DefaultTTL,
		attempts: DefaultAttempts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate issues a new link for a group chat the requester belongs to. A
// zero ttl falls back to the configured default; a nil maxUses means
// unlimited.
func (m *Manager) Generate(ctx context.Context, requesterID, chatID int64, ttl time.Duration, maxUses *int) (*models.InviteLink, error) {
	const op = "invite.generate"

	if ttl < 0 {
		return nil, apperr.Validation(op, "ttl must be positive")
	}
	if ttl == 0 {
		ttl = m.ttl
	}
	if maxUses != nil && *maxUses < 1 {
		return nil, apperr.Validation(op, "max_uses must be at least 1")
	}

	chat, err := m.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !chat.IsGroup {
		return nil, apperr.Validation(op, "invite links are only available for group chats")
	}
	if !chat.HasParticipant(requesterID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}

	now := m.now().UTC()
	for attempt := 1; attempt <= m.attempts; attempt++ {
		code, err := m.codes()
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		exists, err := m.store.CodeExists(ctx, code)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		if exists {
			log.Warn().Int64("chat_id", chatID).Int("attempt", attempt).Msg("invite code collision")
			continue
		}

		link := &models.InviteLink{
			Code:      code,
			ChatID:    chatID,
			CreatedBy: requesterID,
			ExpiresAt: now.Add(ttl),
			MaxUses:   maxUses,
			CreatedAt: now,
		}
		err = m.store.InsertInviteLink(ctx, link)
		switch {
		case errors.Is(err, store.ErrDuplicateCode):
			// taken between the check and the insert
			log.Warn().Int64("chat_id", chatID).Int("attempt", attempt).Msg("invite code collision")
			continue
		case errors.Is(err, store.ErrNotGroup):
			return nil, apperr.Validation(op, "invite links are only available for group chats")
		case err != nil:
			return nil, apperr.Internal(op, err)
		}

		log.Info().Int64("chat_id", chatID).Int64("invite_id", link.ID).Int64("user_id", requesterID).
			Time("expires_at", link.ExpiresAt).Msg("invite link created")
		return link, nil
	}
	return nil, apperr.Conflict(op, "could not generate a unique invite code")
}

// Redeem adds userID to the chat behind code. The usage increment and the
// membership insert are one conditional store operation; when it rejects,
// the link is re-read only to report why.
func (m *Manager) Redeem(ctx context.Context, userID int64, code string) (*models.Chat, error) {
	const op = "invite.redeem"

	if code == "" {
		return nil, apperr.Validation(op, "code is required")
	}

	now := m.now().UTC()
	chatID, err := m.store.RedeemInvite(ctx, code, userID, now)
	if errors.Is(err, store.ErrRedeemRejected) {
		return nil, m.rejection(ctx, op, code, userID, now)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	chat, err := m.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}

	log.Info().Int64("chat_id", chatID).Int64("user_id", userID).Msg("invite link redeemed")

	m.pub.Publish(events.Event{
		Type:       events.MemberJoined,
		ChatID:     chatID,
		ActorID:    userID,
		Recipients: chat.Participants,
		Payload:    events.Membership{UserID: userID},
	})
	return chat, nil
}

func (m *Manager) rejection(ctx context.Context, op, code string, userID int64, now time.Time) error {
	link, err := m.store.GetInviteByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(op, "invite link not found")
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !link.IsActive {
		return apperr.NotFound(op, "invite link not found")
	}
	if link.Expired(now) {
		if _, err := m.store.DeactivateInvite(ctx, link.ID); err != nil {
			log.Warn().Err(err).Int64("invite_id", link.ID).Msg("failed to deactivate expired invite link")
		}
		return apperr.Expired(op, "invite link has expired")
	}

	participants, err := m.store.ParticipantIDs(ctx, link.ChatID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if lo.Contains(participants, userID) {
		return apperr.AlreadyMember(op, "already a member of this chat")
	}
	if link.Exhausted() {
		return apperr.LimitReached(op, "invite link usage limit reached")
	}
	return apperr.InvalidState(op, "invite link could not be redeemed")
}

// Revoke deactivates a link. Only the chat admin or the link's creator may
// revoke it; the record is kept.
func (m *Manager) Revoke(ctx context.Context, requesterID, inviteID int64) error {
	const op = "invite.revoke"

	link, err := m.store.GetInviteByID(ctx, inviteID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(op, "invite link not found")
	}
	if err != nil {
		return apperr.Internal(op, err)
	}

	if link.CreatedBy != requesterID {
		chat, err := m.store.GetChat(ctx, link.ChatID)
		if err != nil {
			return apperr.Internal(op, err)
		}
		if !chat.IsAdmin(requesterID) {
			return apperr.Forbidden(op, "only the admin or the link creator can revoke it")
		}
	}

	changed, err := m.store.DeactivateInvite(ctx, inviteID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if changed {
		log.Info().Int64("invite_id", inviteID).Int64("chat_id", link.ChatID).Int64("user_id", requesterID).
			Msg("invite link revoked")
	}
	return nil
}

// SweepExpired deactivates every link whose expiry has passed.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeactivateExpired(ctx, m.now(), nil)
	if err != nil {
		return 0, apperr.Internal("invite.sweep", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("expired invite links deactivated")
	}
	return n, nil
}

// List returns the active links of a chat after sweeping its expired ones.
func (m *Manager) List(ctx context.Context, requesterID, chatID int64) ([]models.InviteLink, error) {
	const op = "invite.list"

	participants, err := m.store.ParticipantIDs(ctx, chatID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if len(participants) == 0 {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if !lo.Contains(participants, requesterID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}

	if _, err := m.store.DeactivateExpired(ctx, m.now(), &chatID); err != nil {
		return nil, apperr.Internal(op, err)
	}
	links, err := m.store.ListInviteLinks(ctx, chatID, true)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return links, nil
}
