package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to conversations, one turn at a time per id.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.ConversationStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager over the given conversation store.
func NewManager(store ports.ConversationStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// ActiveLocks returns the number of conversations currently locked or waited on.
func (m *Manager) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// Load retrieves a conversation under its lock.
func (m *Manager) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		conv, err = m.store.Load(ctx, conversationID)
		return err
	})
	return conv, err
}

// LoadOrStart loads a conversation, creating it at startNodeID when it does not exist.
// The new conversation is persisted immediately to reserve the id.
func (m *Manager) LoadOrStart(ctx context.Context, conversationID, flowID, startNodeID string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		var err error
		conv, err = m.store.Load(ctx, conversationID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConversationNotFound) {
			return fmt.Errorf("failed to check conversation existence: %w", err)
		}

		state := domain.NewFlowState(startNodeID)
		if _, err := m.store.Save(ctx, ports.SaveRequest{FlowID: flowID, ConversationID: conversationID, State: state}); err != nil {
			return fmt.Errorf("failed to initialize conversation: %w", err)
		}
		conv, err = m.store.Load(ctx, conversationID)
		return err
	})
	return conv, err
}

// Save persists a turn. Saves of an existing id are serialized with other turns.
func (m *Manager) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	if req.ConversationID == "" {
		return m.store.Save(ctx, req)
	}
	var id string
	err := m.WithLock(ctx, req.ConversationID, func(ctx context.Context) error {
		var err error
		id, err = m.store.Save(ctx, req)
		return err
	})
	return id, err
}

// Delete removes the conversation from the store.
func (m *Manager) Delete(ctx context.Context, conversationID string) error {
	return m.WithLock(ctx, conversationID, func(ctx context.Context) error {
		return m.store.Delete(ctx, conversationID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying conversation store.
func (m *Manager) Store() ports.ConversationStore {
	return m.store
}

// WithLock executes fn while holding the lock for the conversation.
// fn must use the store directly; calling other Manager methods for the same id deadlocks.
func (m *Manager) WithLock(ctx context.Context, conversationID string, fn func(context.Context) error) error {
	entry := m.acquire(conversationID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(conversationID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, conversationID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			// The turn may have been canceled; the lock must still be released.
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.WarnContext(ctx, "Failed to release distributed lock (will expire via TTL)",
					"conversation_id", conversationID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
