package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/logger"
)

// DirectResponse is the text the router instruction asks for when no tool
// is needed. Routing only looks at tool calls.
const DirectResponse = "DIRECT_RESPONSE"

// Router asks the model whether one of the tools should answer the turn.
type Router struct {
	gen         Generator
	instruction string
	tools       []domain.ToolSpec
	log         *slog.Logger
}

func NewRouter(gen Generator, instruction string, tools []domain.ToolSpec, log *slog.Logger) (*Router, error) {
	if gen == nil {
		return nil, errors.New("agent: generator must not be nil")
	}
	if strings.TrimSpace(instruction) == "" {
		return nil, errors.New("agent: router instruction must not be empty")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{gen: gen, instruction: instruction, tools: tools, log: log}, nil
}

// Route appends the model's decision to the state.
func (r *Router) Route(ctx context.Context, st *State) error {
	msgs := make([]domain.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: r.instruction})
	msgs = append(msgs, st.Messages...)

	resp, err := r.gen.Generate(ctx, msgs, r.tools)
	if err != nil {
		return fmt.Errorf("agent: route: %w", err)
	}
	if !resp.HasToolCalls() && strings.TrimSpace(resp.Content) != DirectResponse {
		logger.With(ctx, r.log).DebugContext(ctx, "router answered without tool or sentinel", "chat_id", st.ChatID)
	}
	st.append(resp)
	return nil
}
