package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chatwave/relay/internal/chat"
)

// validKinds matches the CHECK constraint on archived_messages.kind.
var validKinds = map[chat.Kind]bool{
	chat.KindSystem: true,
	chat.KindText:   true,
	chat.KindImage:  true,
	chat.KindFile:   true,
}

// Store manages archived broadcast messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new archive store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts a record. Message and reaction records carry the full
// message, so either can create the row; a record older than the stored
// state is ignored, which makes redelivery and reordering harmless.
func (s *Store) Save(ctx context.Context, r Record) error {
	m := r.Message
	if !validKinds[m.Kind] {
		return fmt.Errorf("archive: invalid kind %q", m.Kind)
	}
	if r.Instance == "" || m.ID == "" {
		return fmt.Errorf("archive: record without instance or message id")
	}

	reactions := m.Reactions
	if reactions == nil {
		reactions = map[string][]string{}
	}
	reactionsJSON, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("archive: marshal reactions: %w", err)
	}

	const query = `
		INSERT INTO archived_messages
			(instance, message_id, kind, author_id, author_name, author_avatar,
			 content, file_name, file_type, file_data, reactions, sent_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (instance, message_id) DO UPDATE
			SET reactions = EXCLUDED.reactions,
			    updated_at = EXCLUDED.updated_at
			WHERE archived_messages.updated_at <= EXCLUDED.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		r.Instance,
		m.ID,
		string(m.Kind),
		m.User.ID,
		m.User.Username,
		m.User.Avatar,
		m.Content,
		m.FileName,
		m.FileType,
		m.FileData,
		reactionsJSON,
		m.Timestamp,
		r.At,
	)
	if err != nil {
		return fmt.Errorf("archive: upsert: %w", err)
	}
	return nil
}

// Count returns the number of archived messages for a relay instance.
func (s *Store) Count(ctx context.Context, instance string) (int, error) {
	const query = `SELECT COUNT(*) FROM archived_messages WHERE instance = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, instance).Scan(&count); err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return count, nil
}

// Reactions returns the archived reaction map of one message.
func (s *Store) Reactions(ctx context.Context, instance, messageID string) (map[string][]string, error) {
	const query = `
		SELECT reactions
		FROM archived_messages
		WHERE instance = $1 AND message_id = $2`

	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, instance, messageID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("archive: reactions: %w", err)
	}
	out := map[string][]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("archive: decode reactions: %w", err)
	}
	return out, nil
}
