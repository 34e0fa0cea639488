// Package config loads the flowchat configuration file and assembles the
// stores and providers it describes.
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aretw0/flowchat/internal/logging"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvConfig    = "FLOWCHAT_CONFIG"
	EnvAddr      = "FLOWCHAT_ADDR"
	EnvFlows     = "FLOWCHAT_FLOWS"
	EnvStore     = "FLOWCHAT_STORE"
	EnvRedisAddr = "FLOWCHAT_REDIS_ADDR"
	EnvLogLevel  = "FLOWCHAT_LOG_LEVEL"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config is the root of the configuration file.
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Flows        FlowsConfig            `yaml:"flows"`
	Store        StoreConfig            `yaml:"store"`
	Providers    []ProviderConfig       `yaml:"providers"`
	Models       map[string]ModelConfig `yaml:"models"`
	DefaultModel string                 `yaml:"default_model"`
	Retrieval    RetrievalConfig        `yaml:"retrieval"`
	Engine       EngineConfig           `yaml:"engine"`
	Log          LogConfig              `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

type FlowsConfig struct {
	Dir string `yaml:"dir"`
	// SkipValidation loads flow files without schema and graph checks.
	SkipValidation bool `yaml:"skip_validation"`
}

type StoreConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"` // directory for file, database file for sqlite
	Redis  RedisConfig `yaml:"redis"`

	// EncryptionKey is a base64 AES-256 key; empty disables encryption.
	EncryptionKey    string   `yaml:"encryption_key"`
	EncryptionKeyEnv string   `yaml:"encryption_key_env"`
	FallbackKeys     []string `yaml:"fallback_keys"`
	PIIPatterns      []string `yaml:"pii_patterns"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type ProviderConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // openai or ollama
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

type ModelConfig struct {
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// RetrievalConfig selects the HTTP search service when URL is set and the
// in-memory index built from Documents otherwise.
type RetrievalConfig struct {
	URL       string                      `yaml:"url"`
	APIKey    string                      `yaml:"api_key"`
	APIKeyEnv string                      `yaml:"api_key_env"`
	Timeout   time.Duration               `yaml:"timeout"`
	Documents map[string][]DocumentConfig `yaml:"documents"`
}

type DocumentConfig struct {
	Text   string `yaml:"text"`
	Source string `yaml:"source"`
}

type EngineConfig struct {
	MaxSteps     int           `yaml:"max_steps"`
	MaxInputSize int           `yaml:"max_input_size"`
	ModelTimeout time.Duration `yaml:"model_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ShutdownTimeout: 5 * time.Second,
			Metrics:         true,
		},
		Flows: FlowsConfig{Dir: "flows"},
		Store: StoreConfig{
			Driver: DriverMemory,
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				LockTTL: 30 * time.Second,
			},
		},
		Retrieval: RetrievalConfig{Timeout: 10 * time.Second},
		Engine: EngineConfig{
			MaxSteps:     100,
			MaxInputSize: 64 * 1024,
			ModelTimeout: 60 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration at path over the defaults and applies the
// environment overrides. An empty path falls back to $FLOWCHAT_CONFIG; when
// both are empty only defaults and environment are used.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = getenv(EnvConfig)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := getenv(EnvFlows); v != "" {
		c.Flows.Dir = v
	}
	if v := getenv(EnvStore); v != "" {
		c.Store.Driver = v
	}
	if v := getenv(EnvRedisAddr); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKeyEnv != "" {
			if v := getenv(p.APIKeyEnv); v != "" {
				p.APIKey = v
			}
		}
	}
	if c.Retrieval.APIKeyEnv != "" {
		if v := getenv(c.Retrieval.APIKeyEnv); v != "" {
			c.Retrieval.APIKey = v
		}
	}
	if c.Store.EncryptionKeyEnv != "" {
		if v := getenv(c.Store.EncryptionKeyEnv); v != "" {
			c.Store.EncryptionKey = v
		}
	}
}

// Validate reports every inconsistency of the configuration.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverFile, DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, file, redis, sqlite", c.Store.Driver))
	}
	if c.Store.EncryptionKey != "" {
		if _, err := decodeKey(c.Store.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("store.encryption_key: %w", err))
		}
	}
	for i, k := range c.Store.FallbackKeys {
		if _, err := decodeKey(k); err != nil {
			errs = append(errs, fmt.Errorf("store.fallback_keys[%d]: %w", i, err))
		}
	}

	providers := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("providers[%d]: name is required", i))
			continue
		}
		if providers[p.Name] {
			errs = append(errs, fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name))
		}
		providers[p.Name] = true
		switch p.Type {
		case "openai", "ollama":
		default:
			errs = append(errs, fmt.Errorf("provider %q: type %q is not one of openai, ollama", p.Name, p.Type))
		}
	}
	for ref, m := range c.Models {
		if !providers[m.Provider] {
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", ref, m.Provider))
		}
	}
	if c.DefaultModel != "" && len(c.Providers) == 0 {
		errs = append(errs, errors.New("default_model is set but no providers are configured"))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must not be negative, got %d", c.Engine.MaxSteps))
	}
	return errors.Join(errs...)
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	return logging.NewWithFormat(os.Stderr, logging.ParseLevel(c.Log.Level), c.Log.Format)
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
