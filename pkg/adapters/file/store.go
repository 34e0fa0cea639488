package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/google/uuid"
)

// Store implements ports.ConversationStore using the local filesystem.
// It stores one JSON document per conversation in a configured directory.
type Store struct {
	BasePath string

	mu sync.Mutex
}

var _ ports.ConversationStore = (*Store)(nil)

// NewStore creates a new Store with the given base path.
// If basePath is empty, it defaults to ".flowchat/conversations".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".flowchat", "conversations")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) path(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", &domain.ValidationError{Field: "id", Reason: fmt.Sprintf("invalid conversation id %q", id)}
	}
	return filepath.Join(s.BasePath, id+".json"), nil
}

// Save persists the conversation atomically.
// It writes to a temporary file first, syncs via fsync, and then renames it to the destination.
func (s *Store) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	destPath, err := s.path(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv, err := s.read(destPath)
	switch {
	case errors.Is(err, domain.ErrConversationNotFound):
		conv = &domain.Conversation{ID: id, FlowID: req.FlowID, CreatedAt: now}
	case err != nil:
		return "", err
	}
	conv.State = req.State
	conv.Messages = append(conv.Messages, req.Messages...)
	conv.UpdatedAt = now

	if err := os.MkdirAll(s.BasePath, 0755); err != nil {
		return "", fmt.Errorf("failed to ensure conversation directory: %w", err)
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation: %w", err)
	}
	if err := writeAtomic(s.BasePath, destPath, data); err != nil {
		return "", err
	}
	return id, nil
}

// writeAtomic replaces destPath with data through a temp file in dir.
// dir must be on the same filesystem as destPath for the rename to be atomic.
func writeAtomic(dir, destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, "tmp-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	// Windows refuses to rename over an existing file.
	if _, err := os.Stat(destPath); err == nil {
		if err := os.Remove(destPath); err != nil {
			return fmt.Errorf("failed to remove existing file for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *Store) read(path string) (*domain.Conversation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &conv, nil
}

// Load retrieves a conversation from its JSON file.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	path, err := s.path(conversationID)
	if err != nil {
		return nil, domain.ErrConversationNotFound
	}
	return s.read(path)
}

// Delete removes the conversation file.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	path, err := s.path(conversationID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation file: %w", err)
	}
	return nil
}

// List returns the stored conversation ids, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || strings.HasPrefix(name, "tmp-") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
