// Package chat holds the in-memory message logs: the shared broadcast log
// that every joined user sees, and the per-pair private logs.
package chat

import (
	"time"
)

// Kind classifies a broadcast message.
type Kind string

const (
	KindSystem Kind = "system"
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindFile   Kind = "file"
)

// ParseKind maps the client-supplied type of a send_message event to a Kind.
// An empty value means text. Clients can never author system messages.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case "", KindText:
		return KindText, true
	case KindImage:
		return KindImage, true
	case KindFile:
		return KindFile, true
	}
	return "", false
}

// Author is the value snapshot of a user taken when a message is created.
// Later profile changes or a disconnect never alter it.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Content is the user-supplied body of a broadcast message.
type Content struct {
	Text     string
	FileName string
	FileType string
	FileData string
}

// Message is one entry of the broadcast log. Everything but Reactions is
// immutable once appended.
type Message struct {
	ID        string              `json:"id"`
	Kind      Kind                `json:"type"`
	User      Author              `json:"user"`
	Content   string              `json:"content"`
	FileName  string              `json:"fileName,omitempty"`
	FileType  string              `json:"fileType,omitempty"`
	FileData  string              `json:"fileData,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Reactions map[string][]string `json:"reactions"`
}

// clone returns a deep copy so callers never share the reaction map with
// the store.
func (m Message) clone() Message {
	out := m
	out.Reactions = make(map[string][]string, len(m.Reactions))
	for emoji, users := range m.Reactions {
		cp := make([]string, len(users))
		copy(cp, users)
		out.Reactions[emoji] = cp
	}
	return out
}

// HasReaction reports whether username reacted with emoji.
func (m Message) HasReaction(emoji, username string) bool {
	for _, u := range m.Reactions[emoji] {
		if u == username {
			return true
		}
	}
	return false
}

// JoinedNotice and LeftNotice are the system message texts for presence
// changes.
func JoinedNotice(username string) string { return username + " joined the chat" }

func LeftNotice(username string) string { return username + " left the chat" }
