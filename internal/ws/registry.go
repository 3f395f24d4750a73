package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks which connections each user has open and which chat rooms
// each connection joined. Implementations must be safe for concurrent use.
type Registry interface {
	Add(c *Client)
	// Remove forgets the connection and its room memberships. It reports
	// false if the connection was not registered.
	Remove(c *Client) bool
	Connections(userID int64) []*Client
	Online(userID int64) bool
	Join(chatID int64, c *Client)
	Leave(chatID int64, c *Client)
	InRoom(chatID int64, c *Client) bool
	All() []*Client
	Count() int
}

// MemoryRegistry is the single-process Registry.
type MemoryRegistry struct {
	mu     sync.RWMutex
	byUser map[int64]map[uuid.UUID]*Client
	rooms  map[int64]map[uuid.UUID]struct{}
	count  int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byUser: make(map[int64]map[uuid.UUID]*Client),
		rooms:  make(map[int64]map[uuid.UUID]struct{}),
	}
}

func (r *MemoryRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[c.userID]
	if !ok {
		conns = make(map[uuid.UUID]*Client)
		r.byUser[c.userID] = conns
	}
	if _, exists := conns[c.id]; !exists {
		conns[c.id] = c
		r.count++
	}
}

func (r *MemoryRegistry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.byUser[c.userID]
	if !ok {
		return false
	}
	if _, ok := conns[c.id]; !ok {
		return false
	}
	delete(conns, c.id)
	if len(conns) == 0 {
		delete(r.byUser, c.userID)
	}
	r.count--

	for chatID, members := range r.rooms {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	return true
}

func (r *MemoryRegistry) Connections(userID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (r *MemoryRegistry) Online(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *MemoryRegistry) Join(chatID int64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byUser[c.userID][c.id]; !ok {
		return
	}
	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		r.rooms[chatID] = members
	}
	members[c.id] = struct{}{}
}

func (r *MemoryRegistry) Leave(chatID int64, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[chatID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
}

func (r *MemoryRegistry) InRoom(chatID int64, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[chatID][c.id]
	return ok
}

func (r *MemoryRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, r.count)
	for _, conns := range r.byUser {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}

func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
