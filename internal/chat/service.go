// Package chat manages conversations and their membership: one-to-one chats
// created on demand and admin-run groups.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/4xmen/gapchat/internal/apperr"
	"github.com/4xmen/gapchat/internal/events"
	"github.com/4xmen/gapchat/internal/message"
	"github.com/4xmen/gapchat/internal/models"
	"github.com/4xmen/gapchat/internal/store"
)

const (
	minGroupMembers = 2
	maxNameLength   = 100
)

type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	CreateChat(ctx context.Context, c *models.Chat) error
	FindDirectChat(ctx context.Context, a, b int64) (*models.Chat, error)
	GetChat(ctx context.Context, id int64) (*models.Chat, error)
	ListChatIDsForUser(ctx context.Context, userID int64) ([]int64, error)
	AddParticipant(ctx context.Context, chatID, userID int64, at time.Time) (bool, error)
	RemoveParticipant(ctx context.Context, chatID, userID int64, at time.Time) (bool, error)
	RenameChat(ctx context.Context, chatID int64, name string, at time.Time) error
	LatestPreviewMessage(ctx context.Context, chatID, viewerID int64) (*models.Message, error)
	PurgeViewedInChat(ctx context.Context, chatID int64) ([]int64, error)
}

type Service struct {
	store Store
	pub   events.Publisher
	now   func() time.Time
}

func New(s Store, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{store: s, pub: pub, now: time.Now}
}

// AccessDirect returns the one-to-one chat between requester and other,
// creating it on first use.
func (s *Service) AccessDirect(ctx context.Context, requesterID, otherID int64) (*models.Chat, error) {
	const op = "chat.access"

	if otherID <= 0 {
		return nil, apperr.Validation(op, "user_id is required")
	}
	if otherID == requesterID {
		return nil, apperr.Validation(op, "cannot start a chat with yourself")
	}
	if err := s.requireUser(ctx, op, otherID); err != nil {
		return nil, err
	}

	existing, err := s.store.FindDirectChat(ctx, requesterID, otherID)
	if err == nil {
		return s.view(ctx, requesterID, existing)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal(op, err)
	}

	c := &models.Chat{
		Participants: []int64{requesterID, otherID},
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateChat(ctx, c); err != nil {
		return nil, apperr.Internal(op, err)
	}
	log.Info().Int64("chat_id", c.ID).Int64("user_id", requesterID).Msg("direct chat created")
	return s.get(ctx, op, requesterID, c.ID)
}

// CreateGroup starts a group administered by its creator. It needs at least
// two members besides the creator.
func (s *Service) CreateGroup(ctx context.Context, creatorID int64, name string, memberIDs []int64) (*models.Chat, error) {
	const op = "chat.create_group"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(op, "group name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperr.Validation(op, "group name is too long")
	}

	members := lo.Without(lo.Uniq(memberIDs), creatorID)
	if len(members) < minGroupMembers {
		return nil, apperr.Validation(op, "a group needs at least 2 other members")
	}
	for _, id := range members {
		if err := s.requireUser(ctx, op, id); err != nil {
			return nil, err
		}
	}

	c := &models.Chat{
		Name:         name,
		IsGroup:      true,
		AdminID:      &creatorID,
		Participants: append([]int64{creatorID}, members...),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateChat(ctx, c); err != nil {
		return nil, apperr.Internal(op, err)
	}
	log.Info().Int64("chat_id", c.ID).Int64("user_id", creatorID).Int("members", len(c.Participants)).
		Msg("group chat created")
	return s.get(ctx, op, creatorID, c.ID)
}

func (s *Service) Rename(ctx context.Context, requesterID, chatID int64, name string) (*models.Chat, error) {
	const op = "chat.rename"

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation(op, "group name is required")
	}
	if len(name) > maxNameLength {
		return nil, apperr.Validation(op, "group name is too long")
	}
	c, err := s.adminGroup(ctx, op, requesterID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RenameChat(ctx, c.ID, name, s.now()); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return s.get(ctx, op, requesterID, chatID)
}

// AddMember lets the admin add a user to a group directly.
func (s *Service) AddMember(ctx context.Context, requesterID, chatID, userID int64) (*models.Chat, error) {
	const op = "chat.add_member"

	c, err := s.adminGroup(ctx, op, requesterID, chatID)
	if err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, op, userID); err != nil {
		return nil, err
	}
	if c.HasParticipant(userID) {
		return nil, apperr.AlreadyMember(op, "user is already a member")
	}

	added, err := s.store.AddParticipant(ctx, chatID, userID, s.now())
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !added {
		return nil, apperr.AlreadyMember(op, "user is already a member")
	}

	updated, err := s.get(ctx, op, requesterID, chatID)
	if err != nil {
		return nil, err
	}
	log.Info().Int64("chat_id", chatID).Int64("user_id", userID).Msg("member added")
	s.pub.Publish(events.Event{
		Type:       events.MemberJoined,
		ChatID:     chatID,
		ActorID:    requesterID,
		Recipients: updated.Participants,
		Payload:    events.Membership{UserID: userID},
	})
	return updated, nil
}

// RemoveMember removes userID from a group. Members may remove themselves;
// removing anyone else is reserved to the admin, who cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, requesterID, chatID, userID int64) error {
	const op = "chat.remove_member"

	c, err := s.group(ctx, op, chatID)
	if err != nil {
		return err
	}
	if !c.HasParticipant(requesterID) {
		return apperr.Forbidden(op, "not a participant")
	}
	if requesterID != userID && !c.IsAdmin(requesterID) {
		return apperr.Forbidden(op, "only the admin can remove members")
	}
	if c.IsAdmin(userID) {
		return apperr.InvalidState(op, "the admin cannot leave the group")
	}
	if !c.HasParticipant(userID) {
		return apperr.NotFound(op, "user is not a member")
	}

	removed, err := s.store.RemoveParticipant(ctx, chatID, userID, s.now())
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !removed {
		return apperr.NotFound(op, "user is not a member")
	}

	log.Info().Int64("chat_id", chatID).Int64("user_id", userID).Int64("actor_id", requesterID).Msg("member removed")
	s.pub.Publish(events.Event{
		Type:       events.MemberLeft,
		ChatID:     chatID,
		ActorID:    requesterID,
		Recipients: c.Participants,
		Payload:    events.Membership{UserID: userID},
	})

	// The removed member may have been the last one yet to open a view-once
	// message.
	purged, err := s.store.PurgeViewedInChat(ctx, chatID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	remaining := lo.Without(c.Participants, userID)
	for _, id := range purged {
		log.Info().Int64("chat_id", chatID).Int64("message_id", id).Msg("view-once message purged after member removal")
		s.pub.Publish(events.Event{
			Type:       events.MessageViewed,
			ChatID:     chatID,
			ActorID:    requesterID,
			Recipients: remaining,
			Payload:    events.Viewed{MessageID: id, Purged: true},
		})
	}
	return nil
}

// List returns the user's chats, most recently active first, each with the
// latest message the user may see.
func (s *Service) List(ctx context.Context, userID int64) ([]*models.Chat, error) {
	const op = "chat.list"

	ids, err := s.store.ListChatIDsForUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	chats := make([]*models.Chat, 0, len(ids))
	for _, id := range ids {
		c, err := s.store.GetChat(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		v, err := s.view(ctx, userID, c)
		if err != nil {
			return nil, err
		}
		chats = append(chats, v)
	}
	return chats, nil
}

func (s *Service) Get(ctx context.Context, userID, chatID int64) (*models.Chat, error) {
	return s.get(ctx, "chat.get", userID, chatID)
}

func (s *Service) get(ctx context.Context, op string, userID, chatID int64) (*models.Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Forbidden(op, "not a participant")
	}
	return s.view(ctx, userID, c)
}

// view replaces the chat's latest message pointer with what userID may see.
// A view-once latest message, or one hidden from userID, falls back to the
// newest message they may see in full.
func (s *Service) view(ctx context.Context, userID int64, c *models.Chat) (*models.Chat, error) {
	latest := c.LatestMessage
	if latest != nil {
		if _, ok := message.Project(userID, latest); latest.IsViewOnce || !ok {
			preview, err := s.store.LatestPreviewMessage(ctx, c.ID, userID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				latest = nil
			case err != nil:
				return nil, apperr.Internal("chat.view", err)
			default:
				latest = preview
			}
		}
	}

	c.LatestMessage = nil
	if latest != nil {
		if p, ok := message.Project(userID, latest); ok {
			c.LatestMessage = p
		}
	}
	if !c.IsGroup {
		c.InviteLinks = nil
	}
	return c, nil
}

func (s *Service) group(ctx context.Context, op string, chatID int64) (*models.Chat, error) {
	c, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(op, "chat not found")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !c.IsGroup {
		return nil, apperr.Validation(op, "not a group chat")
	}
	return c, nil
}

func (s *Service) adminGroup(ctx context.Context, op string, requesterID, chatID int64) (*models.Chat, error) {
	c, err := s.group(ctx, op, chatID)
	if err != nil {
		return nil, err
	}
	if !c.IsAdmin(requesterID) {
		return nil, apperr.Forbidden(op, "only the group admin can do this")
	}
	return c, nil
}

func (s *Service) requireUser(ctx context.Context, op string, userID int64) error {
	_, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(op, "user not found")
	}
	if err != nil {
		return apperr.Internal(op, err)
	}
	return nil
}
