package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "vocab-agent.yaml"

// Option adjusts how a Config is loaded.
type Option func(*loadOptions)

type loadOptions struct {
	skipStore bool
}

// WithoutChatStore skips chat store validation, for binaries such as the
// index loader that never open the chat store.
func WithoutChatStore() Option {
	return func(o *loadOptions) { o.skipStore = true }
}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path may be overridden with VOCAB_CONFIG.
func Load(opts ...Option) (*Config, error) {
	path := os.Getenv("VOCAB_CONFIG")
	if path == "" {
		path = DefaultConfigFile
	}
	return LoadFrom(path, opts...)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string, opts ...Option) (*Config, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg, o); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "LOG_SERVICE")

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.OpenAI.ChatModel, "OPENAI_CHAT_MODEL")
	setString(&cfg.OpenAI.EmbeddingModel, "OPENAI_EMBEDDING_MODEL")
	setFloat64(&cfg.OpenAI.Temperature, "OPENAI_TEMPERATURE")
	setInt(&cfg.OpenAI.MaxTokens, "OPENAI_MAX_TOKENS")
	setDuration(&cfg.OpenAI.RequestTimeout, "OPENAI_REQUEST_TIMEOUT")

	setString(&cfg.SSM.ParamPrefix, "PARAM_PREFIX")

	setInt(&cfg.Chat.MaxHistoryMessages, "CHAT_MAX_HISTORY")
	setInt(&cfg.Chat.MaxMessageLength, "CHAT_MAX_LENGTH")
	setString(&cfg.Chat.DefaultChatName, "CHAT_DEFAULT_NAME")
	setBool(&cfg.Chat.Moderation, "CHAT_MODERATION")

	setString(&cfg.Retriever.SearchType, "RETRIEVER_SEARCH_TYPE")
	setInt(&cfg.Retriever.K, "RETRIEVER_K")
	setInt(&cfg.Retriever.FetchK, "RETRIEVER_FETCH_K")
	setFloat64(&cfg.Retriever.MMRLambda, "RETRIEVER_MMR_LAMBDA")
	setDuration(&cfg.Retriever.QueryTimeout, "RETRIEVER_QUERY_TIMEOUT")

	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.Table, "STATE_TABLE")
	setDuration(&cfg.Store.HistoryTTL, "HISTORY_TTL")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Tracing.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")

	setString(&cfg.Ingest.Dir, "INGEST_DIR")
	setInt(&cfg.Ingest.BatchSize, "INGEST_BATCH_SIZE")
	setInt(&cfg.Ingest.Concurrency, "INGEST_CONCURRENCY")
}

// validate checks ranges and required fields.
func validate(cfg *Config, o loadOptions) error {
	if cfg.OpenAI.ChatModel == "" {
		return errors.New("openai.chat_model is required")
	}
	if cfg.OpenAI.Temperature < 0 || cfg.OpenAI.Temperature > 2 {
		return errors.New("openai.temperature must be between 0.0 and 2.0")
	}
	if cfg.OpenAI.MaxTokens < 0 {
		return errors.New("openai.max_tokens must be positive")
	}
	if cfg.Chat.MaxHistoryMessages <= 0 {
		return errors.New("chat.max_history_messages must be positive")
	}
	if cfg.Chat.MaxMessageLength <= 0 {
		return errors.New("chat.max_message_length must be positive")
	}
	switch cfg.Retriever.SearchType {
	case "similarity", "mmr":
	default:
		return fmt.Errorf("retriever.search_type %q must be similarity or mmr", cfg.Retriever.SearchType)
	}
	if cfg.Retriever.K <= 0 {
		return errors.New("retriever.k must be positive")
	}
	if cfg.Retriever.FetchK < cfg.Retriever.K {
		cfg.Retriever.FetchK = cfg.Retriever.K
	}
	if cfg.Retriever.MMRLambda < 0 || cfg.Retriever.MMRLambda > 1 {
		return errors.New("retriever.mmr_lambda must be between 0 and 1")
	}
	if o.skipStore {
		return nil
	}
	switch cfg.Store.Driver {
	case StoreMemory:
	case StoreDynamoDB:
		if cfg.Store.Table == "" {
			return errors.New("store.table is required for the dynamodb driver")
		}
	default:
		return fmt.Errorf("store.driver %q must be dynamodb or memory", cfg.Store.Driver)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid integer env var", "key", key, "value", v)
			return
		}
		*dst = n
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("ignoring invalid float env var", "key", key, "value", v)
			return
		}
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ignoring invalid bool env var", "key", key, "value", v)
			return
		}
		*dst = b
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid duration env var", "key", key, "value", v)
			return
		}
		*dst = d
	}
}
