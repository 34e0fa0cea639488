package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/pkg/adapters/file"
	"github.com/aretw0/flowchat/pkg/adapters/llm"
	"github.com/aretw0/flowchat/pkg/adapters/memory"
	redisadapter "github.com/aretw0/flowchat/pkg/adapters/redis"
	"github.com/aretw0/flowchat/pkg/adapters/retrieval"
	"github.com/aretw0/flowchat/pkg/adapters/sqlite"
	"github.com/aretw0/flowchat/pkg/persistence/middleware"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/redis/go-redis/v9"
)

// Stack is the set of adapters assembled from a Config.
type Stack struct {
	Loader ports.FlowLoader
	Store  ports.ConversationStore
	// Options carries the model, retrieval, locking and engine settings for flowchat.New.
	Options []flowchat.Option

	closers []func() error
}

// Close releases the connections opened by Build.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// Build creates the flow loader, the conversation store with its privacy
// middlewares, and the service options described by c.
func (c *Config) Build(logger *slog.Logger) (*Stack, error) {
	st := &Stack{}

	var loaderOpts []file.LoaderOption
	if c.Flows.SkipValidation {
		loaderOpts = append(loaderOpts, file.WithoutValidation())
	}
	st.Loader = file.NewLoader(c.Flows.Dir, loaderOpts...)

	store, err := c.buildStore(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	mws, err := c.storeMiddlewares()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Store = middleware.Chain(store, mws...)

	st.Options = append(st.Options, flowchat.WithLogger(logger), flowchat.WithMaxSteps(c.Engine.MaxSteps))
	if c.Engine.MaxInputSize > 0 {
		st.Options = append(st.Options, flowchat.WithMaxInputSize(c.Engine.MaxInputSize))
	}

	if len(c.Providers) > 0 {
		catalog, err := c.buildCatalog()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		client := llm.NewClient(llm.WithHTTPClient(&http.Client{Timeout: c.Engine.ModelTimeout}))
		st.Options = append(st.Options, flowchat.WithModels(catalog, client))
	}

	if rp := c.buildRetrieval(); rp != nil {
		st.Options = append(st.Options, flowchat.WithRetrieval(rp))
	}
	logger.Debug("Configuration assembled",
		"store", c.Store.Driver,
		"flows", c.Flows.Dir,
		"providers", len(c.Providers),
		"encrypted", c.Store.EncryptionKey != "",
	)
	return st, nil
}

func (c *Config) buildStore(st *Stack) (ports.ConversationStore, error) {
	switch c.Store.Driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverFile:
		return file.NewStore(c.Store.Path), nil
	case DriverSQLite:
		s, err := sqlite.New(c.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		st.closers = append(st.closers, s.Close)
		return s, nil
	case DriverRedis:
		rc := c.Store.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		st.closers = append(st.closers, client.Close)

		var opts []redisadapter.Option
		if rc.Prefix != "" {
			opts = append(opts, redisadapter.WithPrefix(rc.Prefix))
		}
		if rc.TTL > 0 {
			opts = append(opts, redisadapter.WithTTL(rc.TTL))
		}
		prefix := rc.Prefix
		if prefix == "" {
			prefix = redisadapter.DefaultPrefix
		}
		// Replicas sharing this Redis serialize turns on the same lock keys.
		st.Options = append(st.Options, flowchat.WithLocker(redisadapter.NewLocker(client, prefix), rc.LockTTL))
		return redisadapter.NewFromClient(client, opts...), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}

// storeMiddlewares returns PII masking before encryption, so that masked
// values are what gets sealed.
func (c *Config) storeMiddlewares() ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(c.Store.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(c.Store.PIIPatterns)
		if err != nil {
			return nil, fmt.Errorf("store.pii_patterns: %w", err)
		}
		mws = append(mws, pii)
	}
	if c.Store.EncryptionKey != "" {
		active, err := decodeKey(c.Store.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		cfg := middleware.EncryptionConfig{ActiveKey: active}
		for _, k := range c.Store.FallbackKeys {
			key, err := decodeKey(k)
			if err != nil {
				return nil, fmt.Errorf("store.fallback_keys: %w", err)
			}
			cfg.FallbackKeys = append(cfg.FallbackKeys, key)
		}
		enc, err := middleware.NewEncryptionMiddleware(cfg)
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	return mws, nil
}

func (c *Config) buildCatalog() (*llm.Catalog, error) {
	providers := make([]ports.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		providers = append(providers, ports.ProviderConfig{
			Name:    p.Name,
			Type:    p.Type,
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
		})
	}
	models := make(map[string]llm.Model, len(c.Models))
	for ref, m := range c.Models {
		models[ref] = llm.Model{
			Name:        m.Name,
			Provider:    m.Provider,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
		}
	}
	catalog, err := llm.NewCatalog(providers, models, c.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("model catalog: %w", err)
	}
	return catalog, nil
}

func (c *Config) buildRetrieval() ports.RetrievalProvider {
	r := c.Retrieval
	if r.URL != "" {
		opts := []retrieval.Option{retrieval.WithHTTPClient(&http.Client{Timeout: r.Timeout})}
		if r.APIKey != "" {
			opts = append(opts, retrieval.WithAPIKey(r.APIKey))
		}
		return retrieval.NewClient(r.URL, opts...)
	}
	if len(r.Documents) == 0 {
		return nil
	}
	index := memory.NewIndex()
	for kb, docs := range r.Documents {
		for _, d := range docs {
			index.Add(kb, memory.Document{Text: d.Text, Source: d.Source})
		}
	}
	return index
}
