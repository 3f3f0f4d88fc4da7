package chat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PrivateMessage is a direct message between exactly two users. It is never
// modified after creation.
type PrivateMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // always "private"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	From      Author    `json:"from"`
	To        Author    `json:"to"`
}

// PairKey returns the order-independent key for the private log shared by
// a and b: the two ids sorted lexicographically and joined with ":".
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// PrivateStore holds one ordered log per user pair. It is goroutine-safe.
// With a positive limit each pair keeps only its newest limit messages in a
// ring buffer; with a zero limit logs grow without bound.
type PrivateStore struct {
	mu    sync.RWMutex
	logs  map[string]*pairLog // pair key -> log
	limit int
}

// pairLog is an append-only slice, or a fixed-size circular buffer when the
// store is bounded.
type pairLog struct {
	items []PrivateMessage
	pos   int
	count int
}

// NewPrivateStore creates an empty PrivateStore.
func NewPrivateStore(limit int) *PrivateStore {
	return &PrivateStore{
		logs:  make(map[string]*pairLog),
		limit: limit,
	}
}

// Append adds msg to the log for key. If a bounded log is full, the oldest
// message is overwritten.
func (ps *PrivateStore) Append(key string, msg PrivateMessage) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	pl, ok := ps.logs[key]
	if !ok {
		pl = &pairLog{}
		if ps.limit > 0 {
			pl.items = make([]PrivateMessage, ps.limit)
		}
		ps.logs[key] = pl
	}

	if ps.limit <= 0 {
		pl.items = append(pl.items, msg)
		pl.count++
		return
	}

	pl.items[pl.pos] = msg
	pl.pos = (pl.pos + 1) % ps.limit
	if pl.count < ps.limit {
		pl.count++
	}
}

// History returns the log for key in chronological order (oldest first).
// Returns an empty slice if the pair never exchanged a message.
func (ps *PrivateStore) History(key string) []PrivateMessage {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	pl, ok := ps.logs[key]
	if !ok {
		return []PrivateMessage{}
	}

	result := make([]PrivateMessage, pl.count)
	if ps.limit <= 0 {
		copy(result, pl.items)
		return result
	}

	// The oldest message is at position (pos - count) mod limit.
	start := (pl.pos - pl.count + ps.limit) % ps.limit
	for i := 0; i < pl.count; i++ {
		result[i] = pl.items[(start+i)%ps.limit]
	}
	return result
}

// Pairs returns the number of pairs with at least one message.
func (ps *PrivateStore) Pairs() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.logs)
}
