package flowchat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/internal/runtime"
	"github.com/aretw0/flowchat/internal/sanitize"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/observability"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/aretw0/flowchat/pkg/session"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// StateObserver is notified after a turn is persisted with the state changes it made.
type StateObserver func(ctx context.Context, conversationID string, diff *domain.StateDiff)

// Service runs conversation turns over a set of flows.
// It is safe for concurrent use; turns of the same conversation are serialized.
type Service struct {
	loader      ports.FlowLoader
	sessions    *session.Manager
	engine      *runtime.Engine
	transformer openai.Transformer
	sanitizer   sanitize.Sanitizer
	logger      *slog.Logger
	metrics     *observability.Metrics
	observers   []StateObserver
	now         func() time.Time
	newID       func() string

	deps        runtime.Dependencies
	engineOpts  []runtime.EngineOption
	sessionOpts []session.Option
}

// Option configures a Service.
type Option func(*Service)

// WithModels sets the catalog that resolves model references and the provider
// that performs completions. Generate nodes and model-based categorize nodes need both.
func WithModels(catalog ports.ModelCatalog, provider ports.ModelProvider) Option {
	return func(s *Service) {
		s.deps.Catalog = catalog
		s.deps.Models = provider
	}
}

// WithRetrieval sets the knowledge base search used by retrieval nodes.
func WithRetrieval(provider ports.RetrievalProvider) Option {
	return func(s *Service) {
		s.deps.Retrieval = provider
	}
}

// WithLogger sets the logger of the service and its engine.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLifecycleHooks registers node and provider observers on the engine.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, runtime.WithLifecycleHooks(hooks))
	}
}

// WithMetrics records node, provider and turn metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
		s.engineOpts = append(s.engineOpts, runtime.WithLifecycleHooks(m.Hooks()))
	}
}

// WithTracerProvider sets the OpenTelemetry provider for turn and node spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, runtime.WithTracerProvider(tp))
	}
}

// WithMaxSteps bounds the nodes visited in one turn. Zero keeps the engine default.
func WithMaxSteps(n int) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, runtime.WithMaxSteps(n))
	}
}

// WithLocker serializes turns across processes sharing the conversation store.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(s *Service) {
		s.sessionOpts = append(s.sessionOpts, session.WithLocker(locker))
		if ttl > 0 {
			s.sessionOpts = append(s.sessionOpts, session.WithLockTTL(ttl))
		}
	}
}

// WithMaxInputSize caps the size in bytes of the user message of a turn.
func WithMaxInputSize(n int) Option {
	return func(s *Service) {
		s.sanitizer.MaxSize = n
	}
}

// WithStateObserver adds an observer of persisted state changes.
func WithStateObserver(fn StateObserver) Option {
	return func(s *Service) {
		s.observers = append(s.observers, fn)
	}
}

// WithClock overrides the time source of timestamps and envelopes.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides how ids of new conversations are generated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// New creates a Service that reads flows from loader and keeps conversations in store.
func New(loader ports.FlowLoader, store ports.ConversationStore, opts ...Option) (*Service, error) {
	if loader == nil {
		return nil, fmt.Errorf("flowchat: a flow loader is required")
	}
	if store == nil {
		return nil, fmt.Errorf("flowchat: a conversation store is required")
	}

	s := &Service{
		loader:    loader,
		logger:    logging.NewNop(),
		sanitizer: sanitize.Sanitizer{MaxSize: sanitize.DefaultMaxInputSize},
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	engineOpts := append([]runtime.EngineOption{
		runtime.WithLogger(s.logger),
		runtime.WithClock(s.now),
	}, s.engineOpts...)
	engine, err := runtime.NewEngine(s.deps, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("flowchat: %w", err)
	}
	s.engine = engine

	sessionOpts := append([]session.Option{session.WithLogger(s.logger)}, s.sessionOpts...)
	s.sessions = session.NewManager(store, sessionOpts...)
	s.transformer = openai.Transformer{Now: s.now}
	return s, nil
}

// Flows returns the ids of the available flows.
func (s *Service) Flows() ([]string, error) {
	return s.loader.ListFlows()
}

// Flow returns the flow with the given id.
func (s *Service) Flow(id string) (*domain.Flow, error) {
	return s.loader.GetFlow(id)
}

// Conversation returns a stored conversation.
func (s *Service) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.sessions.Load(ctx, id)
}

// Conversations returns the ids of the stored conversations.
func (s *Service) Conversations(ctx context.Context) ([]string, error) {
	return s.sessions.List(ctx)
}

// DeleteConversation removes a conversation.
// It returns domain.ErrConversationNotFound when the id is unknown.
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	store := s.sessions.Store()
	return s.sessions.WithLock(ctx, id, func(ctx context.Context) error {
		if _, err := store.Load(ctx, id); err != nil {
			return err
		}
		return store.Delete(ctx, id)
	})
}

// Sessions exposes the session manager.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}
