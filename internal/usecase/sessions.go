package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/repository"
)

// SessionStore manages chat sessions and their messages.
type SessionStore interface {
	CreateChat(ctx context.Context, session domain.ChatSession, welcome string) error
	ListChats(ctx context.Context, userID string) ([]domain.ChatSession, error)
	RenameChat(ctx context.Context, userID, chatID, name string) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	GetMessages(ctx context.Context, chatID string) ([]domain.StoredMessage, error)
}

// SessionService manages a user's chats.
type SessionService struct {
	store       SessionStore
	defaultName string
	welcome     string
	now         func() time.Time
}

func NewSessionService(store SessionStore, defaultName, welcome string) (*SessionService, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &SessionService{
		store:       store,
		defaultName: strings.TrimSpace(defaultName),
		welcome:     welcome,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateChat opens a new chat, seeded with the welcome message.
func (s *SessionService) CreateChat(ctx context.Context, userID, name string) (domain.ChatSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ChatSession{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaultName
	}
	now := s.now()
	session := domain.ChatSession{
		UserID:       userID,
		ChatID:       newUUID(),
		Name:         name,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.store.CreateChat(ctx, session, s.welcome); err != nil {
		return domain.ChatSession{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	return session, nil
}

func (s *SessionService) ListChats(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	chats, err := s.store.ListChats(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return chats, nil
}

func (s *SessionService) RenameChat(ctx context.Context, userID, chatID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return newError(ErrorInvalidInput, "empty_name", nil)
	}
	if err := s.store.RenameChat(ctx, userID, chatID, name); err != nil {
		return storeError(err, "chat_not_found")
	}
	return nil
}

// DeleteChat removes the chat and every message in it.
func (s *SessionService) DeleteChat(ctx context.Context, userID, chatID string) error {
	if err := s.store.DeleteChat(ctx, userID, chatID); err != nil {
		return storeError(err, "chat_not_found")
	}
	return nil
}

// Messages returns the whole transcript of a chat, oldest first.
func (s *SessionService) Messages(ctx context.Context, chatID string) ([]domain.StoredMessage, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_chat_id", nil)
	}
	msgs, err := s.store.GetMessages(ctx, chatID)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return msgs, nil
}

func storeError(err error, notFoundReason string) *Error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(ErrorNotFound, notFoundReason, err)
	}
	return newError(ErrorInternal, "dynamodb_write_error", err)
}
