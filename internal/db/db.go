package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

// connection parameters are applied by the driver to every pooled connection
var pragmas = url.Values{
	// WAL lets readers work while a writer is writing
	"_journal_mode": {"WAL"},
	// wait instead of failing immediately with SQLITE_BUSY
	"_busy_timeout": {"5000"},
	"_synchronous":  {"NORMAL"},
	"_foreign_keys": {"1"},
	// -64000 = 64MB cache
	"_cache_size": {"-64000"},
	// take the write lock at BEGIN so conditional updates never race on lock upgrade
	"_txlock": {"immediate"},
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
	}
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT,
		avatar_url TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		is_group INTEGER NOT NULL DEFAULT 0,
		admin_id INTEGER,
		latest_message_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (admin_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		joined_at TIMESTAMP NOT NULL,
		PRIMARY KEY (chat_id, user_id),
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		sender_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		media_type TEXT NOT NULL DEFAULT 'text',
		is_view_once INTEGER NOT NULL DEFAULT 0,
		is_edited INTEGER NOT NULL DEFAULT 0,
		edited_at TIMESTAMP,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		delete_scope TEXT NOT NULL DEFAULT '',
		reply_to_id INTEGER,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (sender_id) REFERENCES users(id),
		FOREIGN KEY (reply_to_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS message_edits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		edited_at TIMESTAMP NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		read_at TIMESTAMP NOT NULL,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS message_views (
		message_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		viewed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (message_id, user_id),
		FOREIGN KEY (message_id) REFERENCES messages(id)
	);

	CREATE TABLE IF NOT EXISTS invite_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		chat_id INTEGER NOT NULL,
		created_by INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		used_count INTEGER NOT NULL DEFAULT 0,
		max_uses INTEGER,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chats(id),
		FOREIGN KEY (created_by) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		endpoint TEXT UNIQUE NOT NULL,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		revoked_at TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_invite_links_code ON invite_links(code);
	CREATE INDEX IF NOT EXISTS idx_invite_links_chat ON invite_links(chat_id, is_active);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_created ON messages(chat_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_participants_user_id ON chat_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_message_edits_message ON message_edits(message_id);
	CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id);
	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}
