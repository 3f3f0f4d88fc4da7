// Package presence tracks joined connections, their profiles and their
// online/offline status derived from recent activity.
package presence

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Status is a connection's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ErrDuplicateConnection is returned by Register when the id is already
// registered. Transport ids are unique per session, so this indicates a bug.
var ErrDuplicateConnection = errors.New("presence: duplicate connection id")

// Profile is what a client supplies on join.
type Profile struct {
	Username string
	Avatar   string
}

// Connection is one joined user as seen by other clients.
type Connection struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	Status   Status    `json:"status"`
	JoinedAt time.Time `json:"joinedAt"`
}

type entry struct {
	conn       Connection
	lastActive time.Time
	seq        uint64
}

// Registry maps connection ids to joined users and records their last
// activity. Registration and activity share one lock so that removing a
// connection drops both at once.
type Registry struct {
	mu    sync.Mutex
	conns map[string]*entry
	seq   uint64
	now   func() time.Time
}

// NewRegistry creates an empty registry. A nil clock means time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		conns: make(map[string]*entry),
		now:   now,
	}
}

// Register stores a new online connection and seeds its activity timestamp.
func (r *Registry) Register(id string, p Profile) (Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return Connection{}, ErrDuplicateConnection
	}

	now := r.now()
	r.seq++
	e := &entry{
		conn: Connection{
			ID:       id,
			Username: p.Username,
			Avatar:   p.Avatar,
			Status:   StatusOnline,
			JoinedAt: now.UTC(),
		},
		lastActive: now,
		seq:        r.seq,
	}
	r.conns[id] = e
	return e.conn, nil
}

// Lookup returns the connection registered under id.
func (r *Registry) Lookup(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	return e.conn, true
}

// Remove deletes the connection and its activity record. Removing an absent
// id is a no-op that reports false.
func (r *Registry) Remove(id string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return Connection{}, false
	}
	delete(r.conns, id)
	return e.conn, true
}

// List returns a snapshot of all connections, oldest join first.
func (r *Registry) List() []Connection {
	r.mu.Lock()
	entries := lo.Map(lo.Values(r.conns), func(e *entry, _ int) entry { return *e })
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return lo.Map(entries, func(e entry, _ int) Connection { return e.conn })
}

// IDs returns the ids of all connections, oldest join first.
func (r *Registry) IDs() []string {
	return lo.Map(r.List(), func(c Connection, _ int) string { return c.ID })
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Touch records now as the last activity of id. It reports false for an
// unknown id.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.lastActive = r.now()
	return true
}

// LastActive returns the last recorded activity of id.
func (r *Registry) LastActive(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastActive, true
}

// Sweep marks connections idle for longer than timeout offline and brings
// back online those active within it. It reports whether any status changed.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := false
	for _, e := range r.conns {
		idle := now.Sub(e.lastActive)
		switch {
		case e.conn.Status == StatusOnline && idle > timeout:
			e.conn.Status = StatusOffline
			changed = true
		case e.conn.Status == StatusOffline && idle <= timeout:
			e.conn.Status = StatusOnline
			changed = true
		}
	}
	return changed
}
