// Package agent runs one conversational turn: the router decides whether a
// tool is needed, the tool set executes the chosen calls, and the responder
// produces the final answer.
package agent

import "vocab-agent/internal/domain"

// State is the per-turn conversation state threaded through the graph.
// Messages only grow within a turn.
type State struct {
	Messages []domain.Message
	// Context is carried unchanged between nodes for future use.
	Context map[string]any
	UserID  string
	ChatID  string
	// TurnStart is the index of the first message supplied for this turn;
	// everything before it was loaded from history.
	TurnStart int
}

func (s *State) append(m domain.Message) {
	s.Messages = append(s.Messages, m)
}

func (s *State) last() (domain.Message, bool) {
	if len(s.Messages) == 0 {
		return domain.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
