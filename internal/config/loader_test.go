package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	require.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	require.InDelta(t, 0.7, cfg.OpenAI.Temperature, 1e-9)
	require.Equal(t, 4, cfg.Chat.MaxHistoryMessages)
	require.Equal(t, 2000, cfg.Chat.MaxMessageLength)
	require.Equal(t, "聊天", cfg.Chat.DefaultChatName)
	require.Equal(t, "similarity", cfg.Retriever.SearchType)
	require.Equal(t, 1, cfg.Retriever.K)
	require.False(t, cfg.Chat.Moderation)
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
openai:
  chat_model: "gpt-4o"
  temperature: 0.2
retriever:
  search_type: "mmr"
  k: 3
logging:
  level: "debug"
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))

	cfg := Defaults()
	require.NoError(t, loadYAML(&cfg, yamlPath))

	require.Equal(t, "gpt-4o", cfg.OpenAI.ChatModel)
	require.InDelta(t, 0.2, cfg.OpenAI.Temperature, 1e-9)
	require.Equal(t, "mmr", cfg.Retriever.SearchType)
	require.Equal(t, 3, cfg.Retriever.K)
	require.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	require.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	require.Equal(t, 2000, cfg.Chat.MaxMessageLength)
}

func TestLoadYAMLMissingFile(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, loadYAML(&cfg, filepath.Join(t.TempDir(), "missing.yaml")))
	require.Equal(t, Defaults().OpenAI.ChatModel, cfg.OpenAI.ChatModel)
}

func TestLoadYAMLMalformed(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("openai: [unclosed"), 0o644))

	cfg := Defaults()
	require.Error(t, loadYAML(&cfg, yamlPath))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OPENAI_CHAT_MODEL", "gpt-4.1-mini")
	t.Setenv("OPENAI_TEMPERATURE", "1.5")
	t.Setenv("OPENAI_MAX_TOKENS", "512")
	t.Setenv("CHAT_MAX_HISTORY", "6")
	t.Setenv("CHAT_MODERATION", "true")
	t.Setenv("RETRIEVER_QUERY_TIMEOUT", "3s")
	t.Setenv("STATE_TABLE", "vocab-state")

	cfg := Defaults()
	loadEnv(&cfg)

	require.Equal(t, "gpt-4.1-mini", cfg.OpenAI.ChatModel)
	require.InDelta(t, 1.5, cfg.OpenAI.Temperature, 1e-9)
	require.Equal(t, 512, cfg.OpenAI.MaxTokens)
	require.Equal(t, 6, cfg.Chat.MaxHistoryMessages)
	require.True(t, cfg.Chat.Moderation)
	require.Equal(t, 3*time.Second, cfg.Retriever.QueryTimeout)
	require.Equal(t, "vocab-state", cfg.Store.Table)
}

func TestLoadEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("CHAT_MAX_HISTORY", "many")
	t.Setenv("OPENAI_TEMPERATURE", "warm")
	t.Setenv("OPENAI_REQUEST_TIMEOUT", "soon")

	cfg := Defaults()
	loadEnv(&cfg)

	require.Equal(t, 4, cfg.Chat.MaxHistoryMessages)
	require.InDelta(t, 0.7, cfg.OpenAI.Temperature, 1e-9)
	require.Equal(t, 60*time.Second, cfg.OpenAI.RequestTimeout)
}

func TestEnvOverridesYAML(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "cfg.yaml")
	content := `
store:
  driver: memory
openai:
  chat_model: "from-yaml"
`
	require.NoError(t, os.WriteFile(yamlPath, []byte(content), 0o644))
	t.Setenv("OPENAI_CHAT_MODEL", "from-env")

	cfg, err := LoadFrom(yamlPath)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.OpenAI.ChatModel)
	require.Equal(t, "memory", cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"temperature too high", func(c *Config) { c.OpenAI.Temperature = 2.5 }, true},
		{"temperature negative", func(c *Config) { c.OpenAI.Temperature = -0.1 }, true},
		{"negative max tokens", func(c *Config) { c.OpenAI.MaxTokens = -1 }, true},
		{"empty chat model", func(c *Config) { c.OpenAI.ChatModel = "" }, true},
		{"zero history", func(c *Config) { c.Chat.MaxHistoryMessages = 0 }, true},
		{"zero length", func(c *Config) { c.Chat.MaxMessageLength = 0 }, true},
		{"unknown search type", func(c *Config) { c.Retriever.SearchType = "hybrid" }, true},
		{"zero k", func(c *Config) { c.Retriever.K = 0 }, true},
		{"lambda out of range", func(c *Config) { c.Retriever.MMRLambda = 1.2 }, true},
		{"dynamodb without table", func(c *Config) { c.Store.Driver = "dynamodb"; c.Store.Table = "" }, true},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Store.Table = "vocab-state"
			tt.mutate(&cfg)
			err := validate(&cfg, loadOptions{})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateRaisesFetchKToK(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "memory"
	cfg.Retriever.K = 30
	cfg.Retriever.FetchK = 5

	require.NoError(t, validate(&cfg, loadOptions{}))
	require.Equal(t, 30, cfg.Retriever.FetchK)
}

func TestLoadWithoutChatStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("STATE_TABLE", "")
	yamlPath := filepath.Join(t.TempDir(), "missing.yaml")

	_, err := LoadFrom(yamlPath)
	require.ErrorContains(t, err, "store.table")

	cfg, err := LoadFrom(yamlPath, WithoutChatStore())
	require.NoError(t, err)
	require.Equal(t, StoreDynamoDB, cfg.Store.Driver)

	t.Setenv("RETRIEVER_K", "0")
	_, err = LoadFrom(yamlPath, WithoutChatStore())
	require.ErrorContains(t, err, "retriever.k")
}
