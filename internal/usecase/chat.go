package usecase

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"vocab-agent/internal/agent"
	"vocab-agent/internal/domain"
)

const defaultMaxMessageLength = 2000

// Agent runs one conversational turn.
type Agent interface {
	Invoke(ctx context.Context, q agent.Query) (agent.Result, error)
}

// Moderator flags unsafe input. A nil Moderator disables the check.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// TurnSaver persists a completed question/answer pair.
type TurnSaver interface {
	SaveTurn(ctx context.Context, userID, chatID, question, answer string) error
}

type ChatService struct {
	agent      Agent
	turns      TurnSaver
	moderator  Moderator
	maxMessage int
}

type ChatInput struct {
	Message string
	UserID  string
	ChatID  string
}

type ChatOutput struct {
	Answer string
	ChatID string
}

func NewChatService(a Agent, turns TurnSaver, moderator Moderator, maxMessageLength int) (*ChatService, error) {
	if a == nil {
		return nil, errors.New("usecase: agent must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if maxMessageLength <= 0 {
		maxMessageLength = defaultMaxMessageLength
	}
	return &ChatService{agent: a, turns: turns, moderator: moderator, maxMessage: maxMessageLength}, nil
}

// Chat answers one user message and records the turn under the chat.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessage {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	userID := strings.TrimSpace(in.UserID)
	chatID := strings.TrimSpace(in.ChatID)
	if chatID == "" {
		chatID = newUUID()
	}

	if s.moderator != nil {
		flagged, err := s.moderator.Moderate(ctx, message)
		if err != nil {
			return ChatOutput{}, upstreamError("moderation", err)
		}
		if flagged {
			return ChatOutput{}, newError(ErrorInvalidQuestion, "moderation_flagged", nil)
		}
	}

	res, err := s.agent.Invoke(ctx, agent.Query{
		Messages: []domain.Message{domain.UserMessage(message)},
		UserID:   userID,
		ThreadID: chatID,
	})
	if err != nil {
		return ChatOutput{}, agentError(err)
	}

	if err := s.turns.SaveTurn(ctx, userID, chatID, message, res.Answer); err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	return ChatOutput{Answer: res.Answer, ChatID: chatID}, nil
}

func agentError(err error) *Error {
	switch {
	case errors.Is(err, agent.ErrHistoryUnavailable):
		return newError(ErrorInternal, "dynamodb_history_error", err)
	case errors.Is(err, agent.ErrUnknownTool):
		return newError(ErrorUpstream, "unknown_tool", err)
	default:
		return upstreamError("agent", err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
