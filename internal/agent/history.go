package agent

import (
	"context"
	"errors"
	"fmt"

	"vocab-agent/internal/domain"
)

// ErrHistoryUnavailable wraps store failures while loading prior turns.
var ErrHistoryUnavailable = errors.New("agent: history unavailable")

// MessageSource reads the persisted messages of a chat, oldest first.
type MessageSource interface {
	GetMessages(ctx context.Context, chatID string) ([]domain.StoredMessage, error)
}

// HistoryLoader trims persisted chat history to a balanced recent window.
type HistoryLoader struct {
	source      MessageSource
	maxMessages int
}

func NewHistoryLoader(source MessageSource, maxMessages int) (*HistoryLoader, error) {
	if source == nil {
		return nil, errors.New("agent: message source must not be nil")
	}
	if maxMessages < 0 {
		return nil, errors.New("agent: max messages must not be negative")
	}
	return &HistoryLoader{source: source, maxMessages: maxMessages}, nil
}

// LoadRecent returns the recent window for chatID. A chat without history
// yields an empty slice.
func (h *HistoryLoader) LoadRecent(ctx context.Context, chatID string) ([]domain.Message, error) {
	if chatID == "" {
		return nil, nil
	}
	stored, err := h.source.GetMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err)
	}
	return RecentWindow(stored, h.maxMessages), nil
}

// RecentWindow keeps at most maxMessages/2 user and maxMessages/2 assistant
// messages, preferring the newest, and returns them oldest first. Other
// roles are dropped.
func RecentWindow(stored []domain.StoredMessage, maxMessages int) []domain.Message {
	perRole := maxMessages / 2
	if perRole == 0 || len(stored) == 0 {
		return []domain.Message{}
	}

	var users, assistants int
	kept := make([]domain.Message, 0, 2*perRole)
	for i := len(stored) - 1; i >= 0; i-- {
		if users >= perRole && assistants >= perRole {
			break
		}
		m := stored[i]
		switch m.Role {
		case domain.RoleUser:
			if users >= perRole {
				continue
			}
			users++
		case domain.RoleAssistant:
			if assistants >= perRole {
				continue
			}
			assistants++
		default:
			continue
		}
		kept = append(kept, domain.Message{Role: m.Role, Content: m.Content})
	}

	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return kept
}
