// Package sqlite provides a ConversationStore backed by an embedded SQLite database.
//
// The state of a conversation lives in one row of the conversations table and
// its messages are appended to the messages table. It uses the pure Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store closed")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	flow_id TEXT NOT NULL,
	state BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	conversation_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL,
	PRIMARY KEY (conversation_id, seq)
);
`

// Store implements ports.ConversationStore using SQLite.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

var _ ports.ConversationStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New opens (or creates) the database at path and prepares the schema.
// Use ":memory:" for a throwaway database.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; a single connection also keeps ":memory:" shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save upserts the conversation row and appends the messages in one transaction.
func (s *Store) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}

	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	state, err := json.Marshal(req.State)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, flow_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id = CASE WHEN excluded.flow_id = '' THEN conversations.flow_id ELSE excluded.flow_id END,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, id, req.FlowID, state, now, now)
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}

	if len(req.Messages) > 0 {
		var next int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = ?`, id,
		).Scan(&next)
		if err != nil {
			return "", fmt.Errorf("read message sequence: %w", err)
		}
		for _, m := range req.Messages {
			next++
			created := m.CreatedAt
			if created.IsZero() {
				created = s.now()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO messages (conversation_id, seq, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
				id, next, string(m.Role), m.Content, created.UTC().Format(time.RFC3339Nano),
			)
			if err != nil {
				return "", fmt.Errorf("append message: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Load retrieves a conversation and its messages in order.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var (
		conv             domain.Conversation
		state            []byte
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, flow_id, state, created_at, updated_at
		FROM conversations WHERE id = ?
	`, conversationID).Scan(&conv.ID, &conv.FlowID, &state, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if err := json.Unmarshal(state, &conv.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []domain.Message{}
	for rows.Next() {
		var (
			m  domain.Message
			ts string
		)
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &conv, nil
}

// Delete removes the conversation and its messages.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// List returns the conversation ids, most recently updated first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
