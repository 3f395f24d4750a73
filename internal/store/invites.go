package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/gapchat/internal/models"
)

var (
	ErrNotGroup       = errors.New("chat is not a group")
	ErrRedeemRejected = errors.New("invite redemption rejected")
)

const inviteColumns = "id, code, chat_id, created_by, expires_at, used_count, max_uses, is_active, created_at"

func scanInvite(row rowScanner) (*models.InviteLink, error) {
	l := &models.InviteLink{}
	var maxUses sql.NullInt64
	if err := row.Scan(&l.ID, &l.Code, &l.ChatID, &l.CreatedBy, &l.ExpiresAt, &l.UsedCount,
		&maxUses, &l.IsActive, &l.CreatedAt); err != nil {
		return nil, err
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		l.MaxUses = &n
	}
	return l, nil
}

func (s *Store) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM invite_links WHERE code = ?)", code).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check invite code: %w", err)
	}
	return exists, nil
}

// InsertInviteLink appends l to its chat only if the chat is a group. It
// returns ErrNotGroup when the chat is missing or not a group and
// ErrDuplicateCode when the code is already taken anywhere.
func (s *Store) InsertInviteLink(ctx context.Context, l *models.InviteLink) error {
	var maxUses sql.NullInt64
	if l.MaxUses != nil {
		maxUses = sql.NullInt64{Int64: int64(*l.MaxUses), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO invite_links (code, chat_id, created_by, expires_at, used_count, max_uses, is_active, created_at)
		SELECT ?, id, ?, ?, 0, ?, 1, ? FROM chats WHERE id = ? AND is_group = 1
	`, l.Code, l.CreatedBy, utc(l.ExpiresAt), maxUses, utc(l.CreatedAt), l.ChatID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateCode
		}
		return fmt.Errorf("failed to create invite link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotGroup
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	l.UsedCount = 0
	l.IsActive = true
	return nil
}

func (s *Store) GetInviteByCode(ctx context.Context, code string) (*models.InviteLink, error) {
	return s.getInvite(ctx, "code = ?", code)
}

func (s *Store) GetInviteByID(ctx context.Context, id int64) (*models.InviteLink, error) {
	return s.getInvite(ctx, "id = ?", id)
}

func (s *Store) getInvite(ctx context.Context, where string, arg any) (*models.InviteLink, error) {
	var l *models.InviteLink
	err := s.read(ctx, func() error {
		var err error
		l, err = scanInvite(s.db.QueryRowContext(ctx,
			"SELECT "+inviteColumns+" FROM invite_links WHERE "+where, arg))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invite link: %w", err)
	}
	return l, nil
}

func (s *Store) ListInviteLinks(ctx context.Context, chatID int64, activeOnly bool) ([]models.InviteLink, error) {
	query := "SELECT " + inviteColumns + " FROM invite_links WHERE chat_id = ?"
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY created_at, id"

	links := []models.InviteLink{}
	err := s.read(ctx, func() error {
		links = links[:0]
		rows, err := s.db.QueryContext(ctx, query, chatID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanInvite(rows)
			if err != nil {
				return err
			}
			links = append(links, *l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invite links: %w", err)
	}
	return links, nil
}

// RedeemInvite increments the usage count of the link with the given code and
// adds userID to its chat in one IMMEDIATE transaction. The increment is
// conditional on the link being active, unexpired at now, under its usage
// cap and the user not yet being a member. ErrRedeemRejected means the
// condition did not hold; the caller classifies why.
func (s *Store) RedeemInvite(ctx context.Context, code string, userID int64, now time.Time) (int64, error) {
	now = utc(now)
	var chatID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE invite_links SET used_count = used_count + 1
			WHERE code = ? AND is_active = 1 AND expires_at >= ?
			  AND (max_uses IS NULL OR used_count < max_uses)
			  AND NOT EXISTS (SELECT 1 FROM chat_participants p
			                  WHERE p.chat_id = invite_links.chat_id AND p.user_id = ?)
			RETURNING chat_id
		`, code, now, userID).Scan(&chatID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRedeemRejected
		}
		if err != nil {
			return fmt.Errorf("failed to redeem invite: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO chat_participants (chat_id, user_id, joined_at) VALUES (?, ?, ?)",
			chatID, userID, now,
		); err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		_, err = tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", now, chatID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return chatID, nil
}

// DeactivateInvite flips is_active off. The record is kept for auditing.
func (s *Store) DeactivateInvite(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE invite_links SET is_active = 0 WHERE id = ? AND is_active = 1", id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate invite link: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DeactivateExpired flips is_active off for links whose expiry passed before
// now, optionally restricted to one chat.
func (s *Store) DeactivateExpired(ctx context.Context, now time.Time, chatID *int64) (int64, error) {
	query := "UPDATE invite_links SET is_active = 0 WHERE is_active = 1 AND expires_at < ?"
	args := []any{utc(now)}
	if chatID != nil {
		query += " AND chat_id = ?"
		args = append(args, *chatID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep invite links: %w", err)
	}
	return res.RowsAffected()
}
