package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/4xmen/gapchat/internal/models"
)

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u := &models.User{}
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT id, username, display_name, avatar_url, created_at FROM users WHERE id = ?", id,
		).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// CreateChat inserts the chat and its participants in one transaction and
// fills in c.ID.
func (s *Store) CreateChat(ctx context.Context, c *models.Chat) error {
	now := utc(c.CreatedAt)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chats (name, is_group, admin_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, c.Name, c.IsGroup, nullInt64(c.AdminID), now, now)
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for i, userID := range c.Participants {
			// joined_at keeps the creation order stable for equal timestamps
			joined := now.Add(time.Duration(i) * time.Microsecond)
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO chat_participants (chat_id, user_id, joined_at) VALUES (?, ?, ?)",
				id, userID, joined,
			); err != nil {
				return fmt.Errorf("failed to add participant %d: %w", userID, err)
			}
		}
		c.ID = id
		return nil
	})
}

// FindDirectChat returns the one-to-one chat between a and b.
func (s *Store) FindDirectChat(ctx context.Context, a, b int64) (*models.Chat, error) {
	var id int64
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT c.id FROM chats c
			WHERE c.is_group = 0
			  AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = ?)
			  AND EXISTS (SELECT 1 FROM chat_participants p WHERE p.chat_id = c.id AND p.user_id = ?)
			ORDER BY c.id LIMIT 1
		`, a, b).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find direct chat: %w", err)
	}
	return s.GetChat(ctx, id)
}

func (s *Store) GetChat(ctx context.Context, id int64) (*models.Chat, error) {
	c := &models.Chat{}
	var adminID, latestID sql.NullInt64
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, name, is_group, admin_id, latest_message_id, created_at, updated_at
			FROM chats WHERE id = ?
		`, id).Scan(&c.ID, &c.Name, &c.IsGroup, &adminID, &latestID, &c.CreatedAt, &c.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}
	c.AdminID = int64Ptr(adminID)

	if c.Participants, err = s.ParticipantIDs(ctx, id); err != nil {
		return nil, err
	}

	if latestID.Valid {
		msg, err := s.GetMessage(ctx, latestID.Int64)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.LatestMessage = msg
	}

	if c.IsGroup {
		links, err := s.ListInviteLinks(ctx, id, true)
		if err != nil {
			return nil, err
		}
		c.InviteLinks = links
	}
	return c, nil
}

// ParticipantIDs returns the chat members in join order.
func (s *Store) ParticipantIDs(ctx context.Context, chatID int64) ([]int64, error) {
	var ids []int64
	err := s.read(ctx, func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx,
			"SELECT user_id FROM chat_participants WHERE chat_id = ? ORDER BY joined_at, rowid", chatID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch participants: %w", err)
	}
	return ids, nil
}

func (s *Store) IsParticipant(ctx context.Context, chatID, userID int64) (bool, error) {
	var exists bool
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM chat_participants WHERE chat_id = ? AND user_id = ?)",
			chatID, userID,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

// ListChatIDsForUser returns the chats userID belongs to, most recently
// active first.
func (s *Store) ListChatIDsForUser(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.read(ctx, func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.id FROM chats c
			JOIN chat_participants p ON p.chat_id = c.id
			WHERE p.user_id = ?
			ORDER BY c.updated_at DESC, c.id DESC
		`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chats: %w", err)
	}
	return ids, nil
}

// AddParticipant appends userID to a group chat. It reports false when the
// chat is not a group or the user is already a member.
func (s *Store) AddParticipant(ctx context.Context, chatID, userID int64, at time.Time) (bool, error) {
	at = utc(at)
	var added bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_participants (chat_id, user_id, joined_at)
			SELECT id, ?, ? FROM chats WHERE id = ? AND is_group = 1
		`, userID, at, chatID)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n == 1
		if added {
			_, err = tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", at, chatID)
		}
		return err
	})
	return added, err
}

func (s *Store) RemoveParticipant(ctx context.Context, chatID, userID int64, at time.Time) (bool, error) {
	at = utc(at)
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM chat_participants WHERE chat_id = ? AND user_id = ?", chatID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove participant: %w", err)
		}
		n, _ := res.RowsAffected()
		removed = n == 1
		if removed {
			_, err = tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", at, chatID)
		}
		return err
	})
	return removed, err
}

func (s *Store) RenameChat(ctx context.Context, chatID int64, name string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET name = ?, updated_at = ? WHERE id = ?", name, utc(at), chatID)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestPreviewMessage returns the newest message of the chat that viewerID
// may see in full: not view-once, not deleted and not hidden from them by a
// sender-only delete.
func (s *Store) LatestPreviewMessage(ctx context.Context, chatID, viewerID int64) (*models.Message, error) {
	var id int64
	err := s.read(ctx, func() error {
		return s.db.QueryRowContext(ctx, `
			SELECT id FROM messages
			WHERE chat_id = ? AND is_view_once = 0 AND is_deleted = 0
			  AND NOT (delete_scope = 'sender' AND sender_id = ?)
			ORDER BY created_at DESC, id DESC LIMIT 1
		`, chatID, viewerID).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest message: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// SearchUsers lists users whose username contains query, case-insensitively,
// excluding callerID. An empty query lists everyone else.
func (s *Store) SearchUsers(ctx context.Context, callerID int64, query string, limit int) ([]models.User, error) {
	pattern := "%" + escapeLike(query) + "%"
	users := []models.User{}
	err := s.read(ctx, func() error {
		users = users[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, username, display_name, avatar_url, created_at FROM users
			WHERE id != ? AND username LIKE ? ESCAPE '\'
			ORDER BY username COLLATE NOCASE, id
			LIMIT ?
		`, callerID, pattern, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var u models.User
			if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.CreatedAt); err != nil {
				return err
			}
			users = append(users, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
