package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/prompt"
	"vocab-agent/internal/retrieval"
)

// Tool names offered to the model.
const (
	ToolWordLookup   = "search_vocabulary_details"
	ToolCategoryList = "category_vocabulary_list"
	ToolQuiz         = "vocabulary_quiz_generator"
)

// ErrUnknownTool is returned when the model requests a tool that is not registered.
var ErrUnknownTool = errors.New("agent: unknown tool")

// Generator is the generation model. With tools it may return tool calls
// instead of content.
type Generator interface {
	Generate(ctx context.Context, messages []domain.Message, tools []domain.ToolSpec) (domain.Message, error)
}

type toolFunc func(ctx context.Context, input string) (string, error)

// ToolSet holds the three vocabulary tools. Each takes one free-text
// argument and returns formatted Traditional Chinese text.
type ToolSet struct {
	gen       Generator
	retriever retrieval.Retriever
	prompts   *prompt.Set
	registry  map[string]toolFunc
	specs     []domain.ToolSpec
}

func NewToolSet(gen Generator, retriever retrieval.Retriever, prompts *prompt.Set) (*ToolSet, error) {
	if gen == nil {
		return nil, errors.New("agent: generator must not be nil")
	}
	if retriever == nil {
		return nil, errors.New("agent: retriever must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("agent: prompts must not be nil")
	}
	ts := &ToolSet{gen: gen, retriever: retriever, prompts: prompts}
	ts.registry = map[string]toolFunc{
		ToolWordLookup:   ts.LookupWord,
		ToolCategoryList: ts.ListCategory,
		ToolQuiz:         ts.GenerateQuiz,
	}
	for _, name := range []string{ToolWordLookup, ToolCategoryList, ToolQuiz} {
		desc, err := prompts.ToolDescription(name)
		if err != nil {
			return nil, err
		}
		ts.specs = append(ts.specs, domain.ToolSpec{Name: name, Description: desc})
	}
	return ts, nil
}

// Specs returns the tool descriptions offered to the router.
func (t *ToolSet) Specs() []domain.ToolSpec {
	return append([]domain.ToolSpec(nil), t.specs...)
}

// Execute runs one tool call and wraps its output as a tool message.
func (t *ToolSet) Execute(ctx context.Context, call domain.ToolCall) (domain.Message, error) {
	fn, ok := t.registry[call.Name]
	if !ok {
		return domain.Message{}, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name)
	}
	out, err := fn(ctx, toolInput(call.Arguments))
	if err != nil {
		return domain.Message{}, fmt.Errorf("agent: tool %s: %w", call.Name, err)
	}
	return domain.ToolMessage(call.ID, out), nil
}

// LookupWord explains a single word or phrase. It never consults the index.
func (t *ToolSet) LookupWord(ctx context.Context, word string) (string, error) {
	text, err := t.prompts.Render(prompt.WordLookup, prompt.Data{Query: word})
	if err != nil {
		return "", err
	}
	return t.complete(ctx, text)
}

// ListCategory lists ten vocabulary items for a topic from the index.
func (t *ToolSet) ListCategory(ctx context.Context, category string) (string, error) {
	return t.withContext(ctx, prompt.CategoryList, category)
}

// GenerateQuiz writes a five question quiz for a topic from the index.
func (t *ToolSet) GenerateQuiz(ctx context.Context, topic string) (string, error) {
	return t.withContext(ctx, prompt.Quiz, topic)
}

func (t *ToolSet) withContext(ctx context.Context, template, topic string) (string, error) {
	docs, err := t.retriever.Retrieve(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("retrieve %q: %w", topic, err)
	}
	text, err := t.prompts.Render(template, prompt.Data{
		Topic:   topic,
		Context: retrieval.JoinDocuments(docs),
	})
	if err != nil {
		return "", err
	}
	return t.complete(ctx, text)
}

func (t *ToolSet) complete(ctx context.Context, text string) (string, error) {
	resp, err := t.gen.Generate(ctx, []domain.Message{domain.UserMessage(text)}, nil)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// toolInput extracts the single string argument. Models send
// {"query": "..."}, but a bare JSON string or plain text is accepted too.
func toolInput(arguments string) string {
	raw := strings.TrimSpace(arguments)
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		for _, key := range []string{"query", "input", "__arg1"} {
			if s, ok := obj[key].(string); ok {
				return strings.TrimSpace(s)
			}
		}
		if len(obj) == 1 {
			for _, v := range obj {
				if s, ok := v.(string); ok {
					return strings.TrimSpace(s)
				}
			}
		}
	}
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return strings.TrimSpace(s)
	}
	return raw
}
