package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "flowchat:conversation:"

// noExpiryScore is the index score of conversations without a TTL (2100-01-01).
const noExpiryScore = 4102444800

// Store implements ports.ConversationStore using Redis.
//
// Each conversation uses two keys: a JSON record holding the state and a list
// of JSON messages. A sorted set indexes conversation ids by expiry time.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ ports.ConversationStore = (*Store)(nil)

type Option func(*Store)

// WithTTL sets the expiration for conversations. Every save refreshes it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for conversations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithClock overrides the time source used for timestamps and index pruning.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// record is the stored shape of a conversation without its messages.
type record struct {
	ID        string            `json:"id"`
	FlowID    string            `json:"flowId"`
	State     *domain.FlowState `json:"state"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) messagesKey(id string) string {
	return s.prefix + id + ":messages"
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Save persists the state and appends the messages in one pipeline.
func (s *Store) Save(ctx context.Context, req ports.SaveRequest) (string, error) {
	now := s.now().UTC()
	id := req.ConversationID
	if id == "" {
		id = uuid.NewString()
	}

	rec := record{ID: id, FlowID: req.FlowID, State: req.State, CreatedAt: now, UpdatedAt: now}
	if req.ConversationID != "" {
		existing, err := s.loadRecord(ctx, id)
		switch {
		case err == nil:
			rec.CreatedAt = existing.CreatedAt
			if rec.FlowID == "" {
				rec.FlowID = existing.FlowID
			}
		case !errors.Is(err, domain.ErrConversationNotFound):
			return "", err
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), data, s.ttl)

	if len(req.Messages) > 0 {
		values := make([]any, 0, len(req.Messages))
		for _, m := range req.Messages {
			b, err := json.Marshal(m)
			if err != nil {
				return "", fmt.Errorf("failed to marshal message: %w", err)
			}
			values = append(values, b)
		}
		pipe.RPush(ctx, s.messagesKey(id), values...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, s.messagesKey(id), s.ttl)
	}

	score := float64(now.Add(s.ttl).Unix())
	if s.ttl == 0 {
		score = noExpiryScore
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: id})

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to save to redis: %w", err)
	}
	return id, nil
}

func (s *Store) loadRecord(ctx context.Context, id string) (*record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &rec, nil
}

// Load retrieves a conversation and its messages.
func (s *Store) Load(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	rec, err := s.loadRecord(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.LRange(ctx, s.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	messages := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}

	return &domain.Conversation{
		ID:        rec.ID,
		FlowID:    rec.FlowID,
		State:     rec.State,
		Messages:  messages,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// Delete removes the conversation.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key(conversationID), s.messagesKey(conversationID))
	pipe.ZRem(ctx, s.indexKey(), conversationID)
	_, err := pipe.Exec(ctx)
	return err
}

// List returns live conversation ids, pruning expired ones from the index.
func (s *Store) List(ctx context.Context) ([]string, error) {
	now := float64(s.now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired conversations: %w", err)
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return ids, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
