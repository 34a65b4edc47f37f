package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/repository"
)

// WordStore persists a user's saved vocabulary.
type WordStore interface {
	SaveWord(ctx context.Context, entry domain.VocabularyEntry) error
	ListWords(ctx context.Context, userID string) ([]domain.VocabularyEntry, error)
	DeleteWord(ctx context.Context, userID, word string) error
}

// NotebookService manages the words a user chose to keep.
type NotebookService struct {
	store WordStore
	now   func() time.Time
}

func NewNotebookService(store WordStore) (*NotebookService, error) {
	if store == nil {
		return nil, errors.New("usecase: word store must not be nil")
	}
	return &NotebookService{store: store, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *NotebookService) SaveWord(ctx context.Context, entry domain.VocabularyEntry) (domain.VocabularyEntry, error) {
	entry.UserID = strings.TrimSpace(entry.UserID)
	entry.Word = strings.TrimSpace(entry.Word)
	if entry.UserID == "" {
		return domain.VocabularyEntry{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if entry.Word == "" {
		return domain.VocabularyEntry{}, newError(ErrorInvalidInput, "empty_word", nil)
	}
	examples := make([]string, 0, len(entry.Examples))
	for _, ex := range entry.Examples {
		if ex = strings.TrimSpace(ex); ex != "" {
			examples = append(examples, ex)
		}
	}
	entry.Examples = examples
	entry.Definition = strings.TrimSpace(entry.Definition)
	entry.Notes = strings.TrimSpace(entry.Notes)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if err := s.store.SaveWord(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrDuplicateWord) {
			return domain.VocabularyEntry{}, newError(ErrorConflict, "word_exists", err)
		}
		return domain.VocabularyEntry{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	return entry, nil
}

func (s *NotebookService) ListWords(ctx context.Context, userID string) ([]domain.VocabularyEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	words, err := s.store.ListWords(ctx, userID)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return words, nil
}

func (s *NotebookService) DeleteWord(ctx context.Context, userID, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return newError(ErrorInvalidInput, "empty_word", nil)
	}
	if err := s.store.DeleteWord(ctx, userID, word); err != nil {
		return storeError(err, "word_not_found")
	}
	return nil
}
