// Package testutil holds fixtures shared by package tests: a migrated
// file-backed database and helpers to seed users and chats.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/4xmen/gapchat/internal/db"
	"github.com/4xmen/gapchat/internal/models"
	"github.com/4xmen/gapchat/internal/store"
)

// NewStore opens a migrated database in t.TempDir. A file database is used so
// concurrent tests exercise real sqlite locking.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return store.New(database.GetConn())
}

func CreateUser(t *testing.T, s *store.Store, username string) int64 {
	t.Helper()
	res, err := s.DB().Exec(
		"INSERT INTO users (username, password_hash) VALUES (?, 'x')", username)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func CreateDirectChat(t *testing.T, s *store.Store, a, b int64) *models.Chat {
	t.Helper()
	c := &models.Chat{Participants: []int64{a, b}, CreatedAt: time.Now()}
	require.NoError(t, s.CreateChat(context.Background(), c))
	return c
}

func CreateGroupChat(t *testing.T, s *store.Store, admin int64, members ...int64) *models.Chat {
	t.Helper()
	c := &models.Chat{
		Name:         "group",
		IsGroup:      true,
		AdminID:      &admin,
		Participants: append([]int64{admin}, members...),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateChat(context.Background(), c))
	return c
}

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Recorder is an event sink that keeps everything published to it.
type Recorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *Recorder[E]) Publish(e E) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder[E]) Events() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.events...)
}

func (r *Recorder[E]) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
