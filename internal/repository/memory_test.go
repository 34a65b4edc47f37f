package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vocab-agent/internal/domain"
)

func TestMemoryStore_MessagesAndTurns(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")

	msgs, err := m.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, m.SaveTurn(ctx, "u1", "c1", "q1", "a1"))
	require.NoError(t, m.AppendMessage(ctx, "c1", domain.RoleUser, "q2"))

	msgs, err = m.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser},
		[]domain.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role})

	sessions, err := m.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, "聊天", sessions[0].Name)

	require.Error(t, m.AppendMessage(ctx, "c1", domain.RoleTool, "x"))
}

func TestMemoryStore_GetMessagesReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("chat")
	require.NoError(t, m.AppendMessage(ctx, "c1", domain.RoleUser, "q"))

	msgs, _ := m.GetMessages(ctx, "c1")
	msgs[0].Content = "mutated"

	again, _ := m.GetMessages(ctx, "c1")
	require.Equal(t, "q", again[0].Content)
}

func TestMemoryStore_Sessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("chat")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateChat(ctx, domain.ChatSession{UserID: "u1", ChatID: "a", CreatedAt: base}, "welcome"))
	require.NoError(t, m.CreateChat(ctx, domain.ChatSession{UserID: "u1", ChatID: "b", Name: "旅遊", CreatedAt: base.Add(time.Hour)}, ""))
	require.Error(t, m.CreateChat(ctx, domain.ChatSession{UserID: "u1", ChatID: "a"}, ""))

	sessions, err := m.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "b", sessions[0].ChatID)
	require.Equal(t, "chat", sessions[1].Name)

	msgs, _ := m.GetMessages(ctx, "a")
	require.Len(t, msgs, 1)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)

	require.NoError(t, m.RenameChat(ctx, "u1", "a", "renamed"))
	require.ErrorIs(t, m.RenameChat(ctx, "u1", "zzz", "x"), ErrNotFound)

	require.NoError(t, m.DeleteChat(ctx, "u1", "a"))
	require.ErrorIs(t, m.DeleteChat(ctx, "u1", "a"), ErrNotFound)
	msgs, _ = m.GetMessages(ctx, "a")
	require.Empty(t, msgs)
}

func TestMemoryStore_Words(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")

	require.NoError(t, m.SaveWord(ctx, domain.VocabularyEntry{UserID: "u1", Word: "Zeal"}))
	require.NoError(t, m.SaveWord(ctx, domain.VocabularyEntry{UserID: "u1", Word: "apple"}))
	require.ErrorIs(t, m.SaveWord(ctx, domain.VocabularyEntry{UserID: "u1", Word: "zeal "}), ErrDuplicateWord)

	words, err := m.ListWords(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "apple", words[0].Word)
	require.Equal(t, "Zeal", words[1].Word)

	require.NoError(t, m.DeleteWord(ctx, "u1", "ZEAL"))
	require.ErrorIs(t, m.DeleteWord(ctx, "u1", "zeal"), ErrNotFound)
}

func TestMemoryStore_ConcurrentTurns(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore("")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.SaveTurn(ctx, "u1", "c1", "q", "a")
		}()
	}
	wg.Wait()

	msgs, err := m.GetMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 40)
	for i := 0; i < len(msgs); i += 2 {
		require.Equal(t, domain.RoleUser, msgs[i].Role)
		require.Equal(t, domain.RoleAssistant, msgs[i+1].Role)
	}
}
