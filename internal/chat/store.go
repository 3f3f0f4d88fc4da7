package chat

import (
	"strconv"
	"sync"
	"time"
)

// Store is the append-only broadcast log. Ids are a monotonically increasing
// sequence so that arrival order, id order and display order all agree.
//
// A Store with a positive limit keeps only the newest limit messages; a zero
// limit keeps everything for the lifetime of the process.
type Store struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int // id -> sequence number
	first    int            // sequence number of messages[0]
	next     int
	limit    int
	now      func() time.Time
}

// NewStore creates an empty broadcast log.
func NewStore(limit int) *Store {
	return &Store{
		index: make(map[string]int),
		first: 1,
		next:  1,
		limit: limit,
		now:   time.Now,
	}
}

// SetClock replaces the time source used for message timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Append allocates the next id, appends the message and returns a copy of
// what was stored.
func (s *Store) Append(kind Kind, author Author, content Content) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.next
	s.next++

	m := Message{
		ID:        strconv.Itoa(seq),
		Kind:      kind,
		User:      author,
		Content:   content.Text,
		FileName:  content.FileName,
		FileType:  content.FileType,
		FileData:  content.FileData,
		Timestamp: s.now().UTC(),
		Reactions: make(map[string][]string),
	}
	s.messages = append(s.messages, m)
	s.index[m.ID] = seq

	if s.limit > 0 && len(s.messages) > s.limit {
		drop := len(s.messages) - s.limit
		for _, old := range s.messages[:drop] {
			delete(s.index, old.ID)
		}
		s.messages = append([]Message(nil), s.messages[drop:]...)
		s.first += drop
	}

	return m.clone()
}

// Find returns the message with the given id.
func (s *Store) Find(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.position(id)
	if !ok {
		return Message{}, false
	}
	return s.messages[pos].clone(), true
}

// ToggleReaction flips username's membership in the reaction set for emoji
// and returns the updated message. It reports false, without any change,
// when the message does not exist. A set emptied by a toggle stays in the
// map as an empty list.
func (s *Store) ToggleReaction(id, emoji, username string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.position(id)
	if !ok {
		return Message{}, false
	}

	m := &s.messages[pos]
	users := m.Reactions[emoji]
	for i, u := range users {
		if u == username {
			m.Reactions[emoji] = append(users[:i:i], users[i+1:]...)
			return m.clone(), true
		}
	}
	m.Reactions[emoji] = append(users, username)
	return m.clone(), true
}

// History returns the whole retained log in arrival order. The result is
// never nil.
func (s *Store) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of retained messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) position(id string) (int, bool) {
	seq, ok := s.index[id]
	if !ok {
		return 0, false
	}
	return seq - s.first, true
}
