package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"vocab-agent/internal/domain"
)

const (
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultChatModel      = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultRequestTimeout = 60 * time.Second
)

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Op         string
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.Op, e.Message)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client adapts go-openai to the domain message model. It serves chat
// completions with tool calling, moderation, and embeddings.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	getter         Getter
	paramPrefix    string
	chatModel      string
	embeddingModel string
	temperature    float32
	maxTokens      int
	requestTimeout time.Duration

	mu     sync.Mutex
	api    *goopenai.Client
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets a static key; SSM is not consulted when it is non-empty.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

func WithChatModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.chatModel = model
		}
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.embeddingModel = model
		}
	}
}

// WithTemperature sets the sampling temperature. go-openai drops a zero
// value from the request, so 0 is sent as the smallest positive float32.
func WithTemperature(t float64) Option {
	return func(c *Client) {
		if t == 0 {
			c.temperature = math.SmallestNonzeroFloat32
			return
		}
		c.temperature = float32(t)
	}
}

// WithMaxTokens caps completion length. Zero leaves the provider default.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		c.maxTokens = n
	}
}

// WithRequestTimeout bounds every upstream call. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// NewClient creates a Client. Unless WithAPIKey supplies a key, the key is
// fetched from <paramPrefix>/open-ai-token on first use and reused for the
// lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: 2 * defaultRequestTimeout},
		getter:         ps,
		paramPrefix:    strings.TrimRight(strings.TrimSpace(paramPrefix), "/"),
		chatModel:      defaultChatModel,
		embeddingModel: defaultEmbeddingModel,
		temperature:    0.7,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey != "" {
		return c, nil
	}
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil without an api key")
	}
	if c.paramPrefix == "" {
		return nil, errors.New("openai: parameter prefix must not be empty")
	}
	return c, nil
}

// client builds the go-openai client once the key is known. A failed key
// fetch is not cached; the next call retries it.
func (c *Client) client(ctx context.Context) (*goopenai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	if c.apiKey == "" {
		key, err := fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
		if err != nil {
			return nil, err
		}
		c.apiKey = key
	}
	cfg := goopenai.DefaultConfig(c.apiKey)
	cfg.BaseURL = apiBaseURL(c.baseURL)
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(cfg)
	return c.api, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// apiBaseURL normalises a configured base URL to the versioned API root.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// Generate runs one chat completion. When tools are given the model may
// answer with tool calls instead of content.
func (c *Client) Generate(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec) (domain.Message, error) {
	if len(messages) == 0 {
		return domain.Message{}, errors.New("openai: messages must not be empty")
	}
	api, err := c.client(ctx)
	if err != nil {
		return domain.Message{}, err
	}

	req := goopenai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    toChatMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if len(tools) > 0 {
		req.Tools = toTools(tools)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := api.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("openai: request failed: %w", convertError("chat/completions", err))
	}
	if len(resp.Choices) == 0 {
		return domain.Message{}, errors.New("openai: no choices in response")
	}
	return fromChatMessage(resp.Choices[0].Message), nil
}

// Moderate calls the moderation endpoint and reports whether input is flagged.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	api, err := c.client(ctx)
	if err != nil {
		return false, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := api.Moderations(ctx, goopenai.ModerationRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("openai: moderation request failed: %w", convertError("moderations", err))
	}
	if len(resp.Results) == 0 {
		return false, errors.New("openai: no results in moderation response")
	}
	return resp.Results[0].Flagged, nil
}

// Embed returns one vector per input text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	api, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embedding request failed: %w", convertError("embeddings", err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = d.Embedding
	}
	return out, nil
}

// queryParameters is the JSON schema every tool accepts: one free-text string.
var queryParameters = json.RawMessage(`{
	"type":"object",
	"properties":{
		"query":{"type":"string","description":"單字、主題或類別名稱"}
	},
	"required":["query"]
}`)

func toTools(specs []domain.ToolSpec) []goopenai.Tool {
	tools := make([]goopenai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  queryParameters,
			},
		})
	}
	return tools
}

func toChatMessages(messages []domain.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
				ID:   tc.ID,
				Type: goopenai.ToolTypeFunction,
				Function: goopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

func fromChatMessage(m goopenai.ChatCompletionMessage) domain.Message {
	var calls []domain.ToolCall
	for _, tc := range m.ToolCalls {
		calls = append(calls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return domain.AssistantMessage(m.Content, calls...)
}

// convertError maps go-openai errors onto HTTPStatusError so callers can
// inspect the upstream status without importing go-openai.
func convertError(op string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Op: op, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := string(reqErr.Body)
		if len(msg) > 4096 {
			msg = msg[:4096]
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Op: op, Message: msg}
	}
	return err
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("openai: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("openai: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("openai: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("openai: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("openai: API token is empty")
	}
	return tp.Token, nil
}
