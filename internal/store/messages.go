package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/gapchat/internal/models"
)

const messageColumns = `id, chat_id, sender_id, content, media_type, is_view_once, is_edited,
	edited_at, is_deleted, delete_scope, reply_to_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	m := &models.Message{}
	var editedAt sql.NullTime
	var replyTo sql.NullInt64
	var mediaType, scope string
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &mediaType, &m.IsViewOnce,
		&m.IsEdited, &editedAt, &m.IsDeleted, &scope, &replyTo, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.MediaType = models.MediaType(mediaType)
	m.DeleteScope = models.DeleteScope(scope)
	m.EditedAt = timePtr(editedAt)
	m.ReplyToID = int64Ptr(replyTo)
	return m, nil
}

// InsertMessage stores m, fills in m.ID and moves the chat's latest message
// pointer to it.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	createdAt := utc(m.CreatedAt)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (chat_id, sender_id, content, media_type, is_view_once, reply_to_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ChatID, m.SenderID, m.Content, string(m.MediaType), m.IsViewOnce, nullInt64(m.ReplyToID), createdAt)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ?",
			id, createdAt, m.ChatID,
		); err != nil {
			return fmt.Errorf("failed to update latest message: %w", err)
		}
		m.ID = id
		return nil
	})
}

// GetMessage loads a message with its sender, readers, viewers and edit history.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var m *models.Message
	err := s.read(ctx, func() error {
		var err error
		m, err = scanMessage(s.db.QueryRowContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE id = ?", id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	if err := s.hydrate(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns every message of a chat, oldest first.
func (s *Store) ListMessages(ctx context.Context, chatID int64) ([]*models.Message, error) {
	var messages []*models.Message
	err := s.read(ctx, func() error {
		messages = messages[:0]
		rows, err := s.db.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM messages WHERE chat_id = ? ORDER BY created_at, id", chatID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for _, m := range messages {
		if err := s.hydrate(ctx, m); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *Store) hydrate(ctx context.Context, m *models.Message) error {
	sender, err := s.GetUser(ctx, m.SenderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	m.Sender = sender

	m.ReadBy = []models.ReadReceipt{}
	m.ViewedBy = []int64{}
	m.EditHistory = nil
	return s.read(ctx, func() error {
		m.ReadBy = m.ReadBy[:0]
		m.ViewedBy = m.ViewedBy[:0]
		m.EditHistory = m.EditHistory[:0]

		rows, err := s.db.QueryContext(ctx,
			"SELECT user_id, read_at FROM message_reads WHERE message_id = ? ORDER BY read_at, rowid", m.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var r models.ReadReceipt
			if err := rows.Scan(&r.UserID, &r.ReadAt); err != nil {
				rows.Close()
				return err
			}
			m.ReadBy = append(m.ReadBy, r)
		}
		rows.Close()

		rows, err = s.db.QueryContext(ctx,
			"SELECT user_id FROM message_views WHERE message_id = ? ORDER BY viewed_at, rowid", m.ID)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			m.ViewedBy = append(m.ViewedBy, id)
		}
		rows.Close()

		rows, err = s.db.QueryContext(ctx,
			"SELECT content, edited_at FROM message_edits WHERE message_id = ? ORDER BY id", m.ID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e models.EditEntry
			if err := rows.Scan(&e.Content, &e.EditedAt); err != nil {
				return err
			}
			m.EditHistory = append(m.EditHistory, e)
		}
		return rows.Err()
	})
}

// EditMessage replaces the content of a live, non view-once message owned by
// senderID that was created at or after notBefore, and records the previous
// content in the edit history. It reports false when no row qualified.
func (s *Store) EditMessage(ctx context.Context, id, senderID int64, content string, at, notBefore time.Time) (bool, error) {
	at = utc(at)
	var edited bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var previous string
		err := tx.QueryRowContext(ctx, `
			SELECT content FROM messages
			WHERE id = ? AND sender_id = ? AND is_deleted = 0 AND delete_scope = ''
			  AND is_view_once = 0 AND created_at >= ?
		`, id, senderID, utc(notBefore)).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to fetch message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE messages SET content = ?, is_edited = 1, edited_at = ? WHERE id = ?",
			content, at, id,
		); err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO message_edits (message_id, content, edited_at) VALUES (?, ?, ?)",
			id, previous, at,
		); err != nil {
			return fmt.Errorf("failed to record edit: %w", err)
		}
		edited = true
		return nil
	})
	return edited, err
}

// HideForSender marks a live message as deleted for its sender only.
func (s *Store) HideForSender(ctx context.Context, id, senderID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET delete_scope = 'sender'
		WHERE id = ? AND sender_id = ? AND is_deleted = 0 AND delete_scope = ''
	`, id, senderID)
	if err != nil {
		return false, fmt.Errorf("failed to delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// DeleteForEveryone tombstones a message: content and edit history are
// cleared irreversibly. It reports false if the message was already deleted
// for everyone or is not owned by senderID.
func (s *Store) DeleteForEveryone(ctx context.Context, id, senderID int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE messages SET is_deleted = 1, delete_scope = 'everyone', content = ''
			WHERE id = ? AND sender_id = ? AND delete_scope != 'everyone'
		`, id, senderID)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM message_edits WHERE message_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete edit history: %w", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// AppendViewer records viewerID as having opened a live view-once message.
// It is a single conditional insert: it reports false if the viewer already
// opened it, the viewer is the sender, or the message is deleted.
func (s *Store) AppendViewer(ctx context.Context, id, viewerID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_views (message_id, user_id, viewed_at)
		SELECT id, ?, ? FROM messages
		WHERE id = ? AND is_view_once = 1 AND is_deleted = 0 AND sender_id != ?
	`, viewerID, utc(at), id, viewerID)
	if err != nil {
		return false, fmt.Errorf("failed to record view: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// PurgeIfAllViewed flips a view-once message to deleted once every current
// non-sender participant has opened it. Only the call that performs the
// transition reports true.
func (s *Store) PurgeIfAllViewed(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_deleted = 1, content = ''
		WHERE id = ? AND is_view_once = 1 AND is_deleted = 0
		  AND (SELECT COUNT(*) FROM message_views v WHERE v.message_id = messages.id)
		   >= (SELECT COUNT(*) FROM chat_participants p
		       WHERE p.chat_id = messages.chat_id AND p.user_id != messages.sender_id)
	`, id)
	if err != nil {
		return false, fmt.Errorf("failed to purge message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// PurgeViewedInChat applies the purge condition of PurgeIfAllViewed to every
// pending view-once message of the chat. It is used after a membership change
// lowers the number of participants who still have to open them, and returns
// the ids that transitioned.
func (s *Store) PurgeViewedInChat(ctx context.Context, chatID int64) ([]int64, error) {
	var purged []int64
	rows, err := s.db.QueryContext(ctx, `
		UPDATE messages SET is_deleted = 1, content = ''
		WHERE chat_id = ? AND is_view_once = 1 AND is_deleted = 0
		  AND (SELECT COUNT(*) FROM message_views v WHERE v.message_id = messages.id)
		   >= (SELECT COUNT(*) FROM chat_participants p
		       WHERE p.chat_id = messages.chat_id AND p.user_id != messages.sender_id)
		RETURNING id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to purge messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to purge messages: %w", err)
		}
		purged = append(purged, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to purge messages: %w", err)
	}
	return purged, nil
}

// AppendReader adds a read receipt unless readerID is the sender or has
// already read the message.
func (s *Store) AppendReader(ctx context.Context, id, readerID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages WHERE id = ? AND sender_id != ?
	`, readerID, utc(at), id, readerID)
	if err != nil {
		return false, fmt.Errorf("failed to mark read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkChatRead adds read receipts for every message in the chat not sent by
// readerID and not yet read by them, in one transaction. It returns the ids
// that changed.
func (s *Store) MarkChatRead(ctx context.Context, chatID, readerID int64, at time.Time) ([]int64, error) {
	at = utc(at)
	var marked []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT m.id FROM messages m
			WHERE m.chat_id = ? AND m.sender_id != ?
			  AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?)
			ORDER BY m.created_at, m.id
		`, chatID, readerID, readerID)
		if err != nil {
			return fmt.Errorf("failed to fetch unread messages: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)",
				id, readerID, at,
			); err != nil {
				return fmt.Errorf("failed to mark read: %w", err)
			}
		}
		marked = ids
		return nil
	})
	return marked, err
}
