package config

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/flowchat"
	"github.com/aretw0/flowchat/internal/logging"
	"github.com/aretw0/flowchat/pkg/domain"
	"github.com/aretw0/flowchat/pkg/openai"
	"github.com/aretw0/flowchat/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testKey(b byte) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat(string(rune(b)), 32)))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 100, cfg.Engine.MaxSteps)
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowchat.yaml", `
server:
  addr: ":9090"
  shutdown_timeout: 2s
flows:
  dir: ./agents
store:
  driver: sqlite
  path: /var/lib/flowchat/conversations.db
  pii_patterns: ["(?i)email"]
providers:
  - name: local
    type: ollama
    base_url: http://localhost:11434
models:
  small:
    name: llama3.2
    provider: local
    temperature: 0.3
default_model: small
retrieval:
  documents:
    faq:
      - text: Orders ship in two days.
        source: faq.md
engine:
  max_steps: 20
log:
  level: debug
  format: json
`)
	cfg, err := load(path, env(nil))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes, "unset keys keep their default")
	assert.Equal(t, "./agents", cfg.Flows.Dir)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, []string{"(?i)email"}, cfg.Store.PIIPatterns)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "ollama", cfg.Providers[0].Type)
	require.Contains(t, cfg.Models, "small")
	require.NotNil(t, cfg.Models["small"].Temperature)
	assert.InDelta(t, 0.3, *cfg.Models["small"].Temperature, 1e-9)
	assert.Equal(t, "small", cfg.DefaultModel)
	assert.Len(t, cfg.Retrieval.Documents["faq"], 1)
	assert.Equal(t, 20, cfg.Engine.MaxSteps)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	path := writeFile(t, t.TempDir(), "flowchat.yaml", `
providers:
  - name: openai
    type: openai
    api_key_env: OPENAI_API_KEY
store:
  encryption_key_env: FLOWCHAT_STATE_KEY
`)
	cfg, err := load("", env(map[string]string{
		EnvConfig:            path,
		EnvAddr:              "127.0.0.1:7000",
		EnvFlows:             "/srv/flows",
		EnvStore:             DriverRedis,
		EnvRedisAddr:         "redis:6379",
		EnvLogLevel:          "warn",
		"OPENAI_API_KEY":     "sk-test",
		"FLOWCHAT_STATE_KEY": testKey('k'),
	}))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "/srv/flows", cfg.Flows.Dir)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, testKey('k'), cfg.Store.EncryptionKey)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := load(filepath.Join(dir, "missing.yaml"), env(nil))
	assert.ErrorContains(t, err, "read config")

	unknown := writeFile(t, dir, "unknown.yaml", "server:\n  port: 8080\n")
	_, err = load(unknown, env(nil))
	assert.ErrorContains(t, err, "field port not found")

	empty := writeFile(t, dir, "empty.yaml", "")
	cfg, err := load(empty, env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Store.Driver = "postgres" },
			want:   []string{`store.driver "postgres"`},
		},
		{
			name:   "file store without path",
			mutate: func(c *Config) { c.Store.Driver = DriverFile },
			want:   []string{"store.path is required for the file driver"},
		},
		{
			name:   "short encryption key",
			mutate: func(c *Config) { c.Store.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short")) },
			want:   []string{"must decode to 32 bytes, got 5"},
		},
		{
			name: "provider problems",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{Name: "a", Type: "openai"}, {Name: "a", Type: "grpc"}, {Type: "openai"}}
				c.Models = map[string]ModelConfig{"m": {Provider: "b"}}
			},
			want: []string{`duplicate name "a"`, `type "grpc"`, "providers[2]: name is required", `unknown provider "b"`},
		},
		{
			name:   "default model without providers",
			mutate: func(c *Config) { c.DefaultModel = "gpt" },
			want:   []string{"no providers are configured"},
		},
		{
			name:   "negative step cap",
			mutate: func(c *Config) { c.Engine.MaxSteps = -1 },
			want:   []string{"engine.max_steps"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			for _, w := range tt.want {
				assert.ErrorContains(t, err, w)
			}
		})
	}
	assert.NoError(t, Default().Validate())
}

func saveAndLoad(t *testing.T, store ports.ConversationStore) *domain.Conversation {
	t.Helper()
	ctx := context.Background()
	state := domain.NewFlowState("ask")
	state.Variables["email"] = "ada@example.com"
	state.Variables["plan"] = "platinum-tier"

	id, err := store.Save(ctx, ports.SaveRequest{
		FlowID:   "echo",
		State:    state,
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	conv, err := store.Load(ctx, id)
	require.NoError(t, err)
	return conv
}

func TestBuild_Stores(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(c *Config, dir string)
	}{
		{name: "memory", mutate: func(c *Config, dir string) {}},
		{name: "file", mutate: func(c *Config, dir string) {
			c.Store.Driver = DriverFile
			c.Store.Path = filepath.Join(dir, "conversations")
		}},
		{name: "sqlite", mutate: func(c *Config, dir string) {
			c.Store.Driver = DriverSQLite
			c.Store.Path = filepath.Join(dir, "flowchat.db")
		}},
		{name: "redis", mutate: func(c *Config, dir string) {
			c.Store.Driver = DriverRedis
			c.Store.Redis.Addr = mr.Addr()
			c.Store.Redis.TTL = time.Hour
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg, t.TempDir())
			require.NoError(t, cfg.Validate())

			st, err := cfg.Build(logging.NewNop())
			require.NoError(t, err)
			defer func() { assert.NoError(t, st.Close()) }()

			conv := saveAndLoad(t, st.Store)
			assert.Equal(t, "echo", conv.FlowID)
			assert.Equal(t, "ask", conv.State.CurrentNodeID)
			assert.Equal(t, "ada@example.com", conv.State.Variables["email"])
			require.Len(t, conv.Messages, 1)
		})
	}
}

func TestBuild_PrivacyMiddlewares(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = DriverFile
	cfg.Store.Path = t.TempDir()
	cfg.Store.PIIPatterns = []string{"(?i)email"}
	cfg.Store.EncryptionKey = testKey('a')

	st, err := cfg.Build(logging.NewNop())
	require.NoError(t, err)

	conv := saveAndLoad(t, st.Store)
	assert.NotEqual(t, "ada@example.com", conv.State.Variables["email"])
	assert.Equal(t, "platinum-tier", conv.State.Variables["plan"])
	assert.Equal(t, "hello", conv.Messages[0].Content)

	entries, err := os.ReadDir(cfg.Store.Path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	raw, err := os.ReadFile(filepath.Join(cfg.Store.Path, entries[0].Name()))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "platinum-tier", "state is sealed on disk")

	// A rotated configuration still opens what the old key sealed.
	rotated := *cfg
	rotated.Store.EncryptionKey = testKey('b')
	rotated.Store.FallbackKeys = []string{testKey('a')}
	st2, err := rotated.Build(logging.NewNop())
	require.NoError(t, err)
	conv2, err := st2.Store.Load(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "platinum-tier", conv2.State.Variables["plan"])
}

func TestBuild_RedisInstallsLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Default()
	cfg.Store.Driver = DriverRedis
	cfg.Store.Redis.Addr = mr.Addr()
	cfg.Flows.Dir = t.TempDir()
	writeFile(t, cfg.Flows.Dir, "hello.json", `{
		"nodes": [
			{"id": "begin", "kind": "begin", "form": {"greeting": "Hello"}},
			{"id": "ask", "kind": "interface"}
		],
		"edges": [{"source": "begin", "target": "ask"}]
	}`)

	st, err := cfg.Build(logging.NewNop())
	require.NoError(t, err)
	defer st.Close()

	svc, err := flowchat.New(st.Loader, st.Store, st.Options...)
	require.NoError(t, err)
	res, err := svc.Chat(context.Background(), openai.ChatRequest{FlowID: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Choices[0].Message.Content)
	for _, k := range mr.Keys() {
		assert.NotContains(t, k, "lock:", "lock is released after the turn")
	}
}

func TestBuild_ModelsAndRetrieval(t *testing.T) {
	var auth string
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "Two days."}}]}`))
	}))
	defer provider.Close()

	dir := t.TempDir()
	writeFile(t, dir, "faq.json", `{
		"nodes": [
			{"id": "begin", "kind": "begin"},
			{"id": "ask", "kind": "interface"},
			{"id": "kb", "kind": "retrieval", "form": {"knowledgeIds": ["shipping"], "threshold": 0.1}},
			{"id": "gen", "kind": "generate", "form": {"prompt": "Answer from: {{context}}"}},
			{"id": "answer", "kind": "interface"}
		],
		"edges": [
			{"source": "begin", "target": "ask"},
			{"source": "ask", "target": "kb"},
			{"source": "kb", "target": "gen"},
			{"source": "gen", "target": "answer"}
		]
	}`)
	cfgPath := writeFile(t, dir, "flowchat.yaml", `
flows:
  dir: `+dir+`
providers:
  - name: test
    type: openai
    base_url: `+provider.URL+`
    api_key_env: TEST_KEY
models:
  fast:
    name: gpt-test
    provider: test
default_model: fast
retrieval:
  documents:
    shipping:
      - text: Orders ship within two business days.
        source: policy.md
`)
	cfg, err := load(cfgPath, env(map[string]string{"TEST_KEY": "sk-123"}))
	require.NoError(t, err)

	st, err := cfg.Build(logging.NewNop())
	require.NoError(t, err)
	svc, err := flowchat.New(st.Loader, st.Store, st.Options...)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := svc.Chat(ctx, openai.ChatRequest{FlowID: "faq"})
	require.NoError(t, err)
	res, err := svc.Chat(ctx, openai.ChatRequest{
		FlowID:   "faq",
		ID:       first.ID,
		Messages: []openai.ChatMessage{{Role: domain.RoleUser, Content: "when do orders ship?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Two days.", res.Choices[0].Message.Content)
	assert.Equal(t, "Bearer sk-123", auth)
}
