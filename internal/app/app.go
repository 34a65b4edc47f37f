// Package app builds the object graph shared by the Lambda, server and
// ingest binaries from a loaded config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"vocab-agent/handler"
	"vocab-agent/internal/agent"
	"vocab-agent/internal/config"
	"vocab-agent/internal/integrations/openai"
	"vocab-agent/internal/integrations/paramstore"
	"vocab-agent/internal/prompt"
	"vocab-agent/internal/repository"
	"vocab-agent/internal/retrieval"
	"vocab-agent/internal/usecase"
)

// App owns the long-lived clients behind the HTTP handler.
type App struct {
	Handler *handler.Handler
	closers []func()
}

// Close releases pools and caches in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// New wires config -> clients -> agent graph -> use cases -> handler.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	params, err := newParamStore(awsCfg, cfg)
	if err != nil {
		return nil, err
	}
	model, err := NewModelClient(cfg, params)
	if err != nil {
		return nil, err
	}

	var lister prompt.Lister
	if params != nil {
		lister = params
	}
	prompts, err := prompt.Load(ctx, lister, cfg.SSM.ParamPrefix)
	if err != nil {
		return nil, err
	}

	store, err := newStore(awsCfg, cfg)
	if err != nil {
		return nil, err
	}

	pool, err := retrieval.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("app: postgres: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	embedder, err := retrieval.NewCachedEmbedder(model, cfg.Retriever.CacheMaxCost, cfg.Retriever.CacheTTL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, embedder.Close)

	index, err := retrieval.NewStore(pool, embedder, cfg.Retriever)
	if err != nil {
		return nil, err
	}

	graph, err := newGraph(model, index, store, prompts, cfg, log)
	if err != nil {
		return nil, err
	}

	var moderator usecase.Moderator
	if cfg.Chat.Moderation {
		moderator = model
	}
	chat, err := usecase.NewChatService(graph, store, moderator, cfg.Chat.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	sessions, err := usecase.NewSessionService(store, cfg.Chat.DefaultChatName, cfg.Chat.WelcomeMessage)
	if err != nil {
		return nil, err
	}
	notebook, err := usecase.NewNotebookService(store)
	if err != nil {
		return nil, err
	}
	a.Handler, err = handler.NewHandler(chat, sessions, notebook)
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

func newGraph(model agent.Generator, index retrieval.Retriever, store agent.MessageSource, prompts *prompt.Set, cfg config.Config, log *slog.Logger) (*agent.Graph, error) {
	tools, err := agent.NewToolSet(model, index, prompts)
	if err != nil {
		return nil, err
	}
	instruction, err := prompts.Render(prompt.Router, prompt.Data{})
	if err != nil {
		return nil, err
	}
	router, err := agent.NewRouter(model, instruction, tools.Specs(), log)
	if err != nil {
		return nil, err
	}
	responder, err := agent.NewResponder(model, prompts)
	if err != nil {
		return nil, err
	}
	history, err := agent.NewHistoryLoader(store, cfg.Chat.MaxHistoryMessages)
	if err != nil {
		return nil, err
	}
	return agent.NewGraph(history, router, tools, responder, log)
}

// NewModelClient builds the OpenAI client. params may be nil when the API
// key is configured directly.
func NewModelClient(cfg config.Config, params *paramstore.Client) (*openai.Client, error) {
	opts := []openai.Option{
		openai.WithChatModel(cfg.OpenAI.ChatModel),
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithTemperature(cfg.OpenAI.Temperature),
		openai.WithMaxTokens(cfg.OpenAI.MaxTokens),
		openai.WithRequestTimeout(cfg.OpenAI.RequestTimeout),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.APIKey != "" {
		opts = append(opts, openai.WithAPIKey(cfg.OpenAI.APIKey))
	}
	var getter openai.Getter
	if params != nil {
		getter = params
	}
	return openai.NewClient(getter, cfg.SSM.ParamPrefix, opts...)
}

// NewParamStore returns an SSM-backed parameter client, or nil when no
// parameter prefix is configured.
func NewParamStore(ctx context.Context, cfg config.Config) (*paramstore.Client, error) {
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newParamStore(awsCfg, cfg)
}

func newParamStore(awsCfg *aws.Config, cfg config.Config) (*paramstore.Client, error) {
	if awsCfg == nil || strings.TrimSpace(cfg.SSM.ParamPrefix) == "" {
		return nil, nil
	}
	return paramstore.New(awsssm.NewFromConfig(*awsCfg))
}

func newStore(awsCfg *aws.Config, cfg config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return repository.NewMemoryStore(cfg.Chat.DefaultChatName), nil
	case config.StoreDynamoDB:
		if awsCfg == nil {
			return nil, errors.New("app: dynamodb store needs AWS configuration")
		}
		return repository.New(awsdynamodb.NewFromConfig(*awsCfg), cfg.Store.Table,
			repository.WithHistoryTTL(cfg.Store.HistoryTTL),
			repository.WithDefaultChatName(cfg.Chat.DefaultChatName),
		)
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.Store.Driver)
	}
}

// loadAWS loads the default AWS config when any AWS-backed component is
// enabled.
func loadAWS(ctx context.Context, cfg config.Config) (*aws.Config, error) {
	if cfg.Store.Driver != config.StoreDynamoDB && strings.TrimSpace(cfg.SSM.ParamPrefix) == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	return &awsCfg, nil
}
