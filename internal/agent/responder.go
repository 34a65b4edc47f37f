package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/prompt"
)

// Responder produces the turn's final message.
type Responder struct {
	gen     Generator
	prompts *prompt.Set
}

func NewResponder(gen Generator, prompts *prompt.Set) (*Responder, error) {
	if gen == nil {
		return nil, errors.New("agent: generator must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("agent: prompts must not be nil")
	}
	return &Responder{gen: gen, prompts: prompts}, nil
}

// Respond leaves a trailing tool message in place as the answer. Otherwise
// it answers the turn's question with the earlier messages as history and
// appends the reply.
func (r *Responder) Respond(ctx context.Context, st *State) error {
	last, ok := st.last()
	if !ok {
		return errors.New("agent: respond: empty state")
	}
	if last.Role == domain.RoleTool {
		return nil
	}

	qi := questionIndex(st)
	if qi < 0 {
		return errors.New("agent: respond: turn has no user message")
	}
	text, err := r.prompts.Render(prompt.DirectResponse, prompt.Data{
		History:  formatHistory(st.Messages[:qi]),
		Question: st.Messages[qi].Content,
	})
	if err != nil {
		return err
	}
	resp, err := r.gen.Generate(ctx, []domain.Message{domain.UserMessage(text)}, nil)
	if err != nil {
		return fmt.Errorf("agent: respond: %w", err)
	}
	st.append(domain.AssistantMessage(resp.Content))
	return nil
}

// questionIndex is the last user message supplied in this turn.
func questionIndex(st *State) int {
	for i := len(st.Messages) - 1; i >= st.TurnStart && i >= 0; i-- {
		if st.Messages[i].Role == domain.RoleUser {
			return i
		}
	}
	return -1
}

func formatHistory(msgs []domain.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			lines = append(lines, "用戶: "+m.Content)
		case domain.RoleAssistant:
			lines = append(lines, "助手: "+m.Content)
		}
	}
	return strings.Join(lines, "\n")
}
