// Package handler exposes the chat, session and notebook use cases over
// HTTP. The same chi router serves the local server and, through Handle,
// API Gateway proxy events on Lambda.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/usecase"
)

const maxBodyBytes = 64 << 10

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type SessionUseCase interface {
	CreateChat(ctx context.Context, userID, name string) (domain.ChatSession, error)
	ListChats(ctx context.Context, userID string) ([]domain.ChatSession, error)
	RenameChat(ctx context.Context, userID, chatID, name string) error
	DeleteChat(ctx context.Context, userID, chatID string) error
	Messages(ctx context.Context, chatID string) ([]domain.StoredMessage, error)
}

type NotebookUseCase interface {
	SaveWord(ctx context.Context, entry domain.VocabularyEntry) (domain.VocabularyEntry, error)
	ListWords(ctx context.Context, userID string) ([]domain.VocabularyEntry, error)
	DeleteWord(ctx context.Context, userID, word string) error
}

type Handler struct {
	chat     ChatUseCase
	sessions SessionUseCase
	notebook NotebookUseCase
	router   chi.Router
}

func NewHandler(chat ChatUseCase, sessions SessionUseCase, notebook NotebookUseCase) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session use case must not be nil")
	}
	if notebook == nil {
		return nil, errors.New("handler: notebook use case must not be nil")
	}
	h := &Handler{chat: chat, sessions: sessions, notebook: notebook}
	h.router = h.routes()
	return h, nil
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(correlationID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, usecase.ErrorNotFound, "route_not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, usecase.ErrorInvalidInput, "method_not_allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/chat", h.postChat)
	r.Get("/chats/{chatId}/messages", h.listMessages)

	r.Route("/users/{userId}", func(r chi.Router) {
		r.Get("/chats", h.listChats)
		r.Post("/chats", h.createChat)
		r.Patch("/chats/{chatId}", h.renameChat)
		r.Delete("/chats/{chatId}", h.deleteChat)

		r.Get("/vocabulary", h.listWords)
		r.Post("/vocabulary", h.saveWord)
		r.Delete("/vocabulary/{word}", h.deleteWord)
	})
	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}
