package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vocab-agent/internal/domain"
)

// MemoryStore is an in-process Store for local runs and tests. Writes to a
// chat are serialised by a single mutex.
type MemoryStore struct {
	mu              sync.RWMutex
	messages        map[string][]domain.StoredMessage
	sessions        map[string]map[string]domain.ChatSession
	words           map[string]map[string]domain.VocabularyEntry
	defaultChatName string
	now             func() time.Time
}

// NewMemoryStore returns an empty store. Sessions created implicitly by
// SaveTurn are named chatName, or a default when it is blank.
func NewMemoryStore(chatName string) *MemoryStore {
	if strings.TrimSpace(chatName) == "" {
		chatName = defaultChatName
	}
	return &MemoryStore{
		messages:        map[string][]domain.StoredMessage{},
		sessions:        map[string]map[string]domain.ChatSession{},
		words:           map[string]map[string]domain.VocabularyEntry{},
		defaultChatName: chatName,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) GetMessages(_ context.Context, chatID string) ([]domain.StoredMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.StoredMessage, len(m.messages[chatID]))
	copy(out, m.messages[chatID])
	return out, nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, chatID string, role domain.Role, content string) error {
	if err := validateRole(role); err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(chatID, role, content, m.now())
	return nil
}

func (m *MemoryStore) appendLocked(chatID string, role domain.Role, content string, ts time.Time) {
	m.messages[chatID] = append(m.messages[chatID], domain.StoredMessage{
		ChatID: chatID, Role: role, Content: content, CreatedAt: ts,
	})
}

func (m *MemoryStore) SaveTurn(_ context.Context, userID, chatID, question, answer string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("repository: SaveTurn: chat id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.appendLocked(chatID, domain.RoleUser, question, now)
	m.appendLocked(chatID, domain.RoleAssistant, answer, now)
	if userID == "" {
		return nil
	}
	if m.sessions[userID] == nil {
		m.sessions[userID] = map[string]domain.ChatSession{}
	}
	s, ok := m.sessions[userID][chatID]
	if !ok {
		s = domain.ChatSession{UserID: userID, ChatID: chatID, Name: m.defaultChatName, CreatedAt: now}
	}
	s.LastActivity = now
	m.sessions[userID][chatID] = s
	return nil
}

func (m *MemoryStore) CreateChat(_ context.Context, session domain.ChatSession, welcome string) error {
	if session.UserID == "" || session.ChatID == "" {
		return errors.New("repository: CreateChat: user id and chat id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[session.UserID][session.ChatID]; ok {
		return fmt.Errorf("repository: CreateChat: chat %s already exists", session.ChatID)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = m.now()
	}
	if session.LastActivity.IsZero() {
		session.LastActivity = session.CreatedAt
	}
	if strings.TrimSpace(session.Name) == "" {
		session.Name = m.defaultChatName
	}
	if m.sessions[session.UserID] == nil {
		m.sessions[session.UserID] = map[string]domain.ChatSession{}
	}
	m.sessions[session.UserID][session.ChatID] = session
	if welcome != "" {
		m.appendLocked(session.ChatID, domain.RoleSystem, welcome, session.CreatedAt)
	}
	return nil
}

func (m *MemoryStore) ListChats(_ context.Context, userID string) ([]domain.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ChatSession, 0, len(m.sessions[userID]))
	for _, s := range m.sessions[userID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (m *MemoryStore) RenameChat(_ context.Context, userID, chatID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID][chatID]
	if !ok {
		return ErrNotFound
	}
	s.Name = name
	m.sessions[userID][chatID] = s
	return nil
}

func (m *MemoryStore) DeleteChat(_ context.Context, userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID][chatID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions[userID], chatID)
	delete(m.messages, chatID)
	return nil
}

func (m *MemoryStore) SaveWord(_ context.Context, entry domain.VocabularyEntry) error {
	if entry.UserID == "" || strings.TrimSpace(entry.Word) == "" {
		return errors.New("repository: SaveWord: user id and word are required")
	}
	key := strings.ToLower(strings.TrimSpace(entry.Word))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.words[entry.UserID][key]; ok {
		return ErrDuplicateWord
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = m.now()
	}
	entry.Word = strings.TrimSpace(entry.Word)
	if m.words[entry.UserID] == nil {
		m.words[entry.UserID] = map[string]domain.VocabularyEntry{}
	}
	m.words[entry.UserID][key] = entry
	return nil
}

func (m *MemoryStore) ListWords(_ context.Context, userID string) ([]domain.VocabularyEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.words[userID]))
	for k := range m.words[userID] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.VocabularyEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.words[userID][k])
	}
	return out, nil
}

func (m *MemoryStore) DeleteWord(_ context.Context, userID, word string) error {
	key := strings.ToLower(strings.TrimSpace(word))
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.words[userID][key]; !ok {
		return ErrNotFound
	}
	delete(m.words[userID], key)
	return nil
}
