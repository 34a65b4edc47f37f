package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"vocab-agent/internal/domain"
	"vocab-agent/internal/usecase"
)

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	ChatID string `json:"chatId"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	ChatID       string    `json:"chatId"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type messageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type wordRequest struct {
	Word       string   `json:"word"`
	Definition string   `json:"definition"`
	Examples   []string `json:"examples"`
	Notes      string   `json:"notes"`
}

type wordResponse struct {
	Word       string    `json:"word"`
	Definition string    `json:"definition"`
	Examples   []string  `json:"examples"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[chatRequest](w, r)
	if !ok {
		return
	}
	out, err := h.chat.Chat(r.Context(), usecase.ChatInput{Message: req.Message, UserID: req.UserID, ChatID: req.ChatID})
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Answer: out.Answer, ChatID: out.ChatID})
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.sessions.ListChats(r.Context(), pathParam(r, "userId"))
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(chats))
	for _, c := range chats {
		out = append(out, toSessionResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (h *Handler) createChat(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if r.ContentLength != 0 {
		var ok bool
		if req, ok = readJSON[nameRequest](w, r); !ok {
			return
		}
	}
	chat, err := h.sessions.CreateChat(r.Context(), pathParam(r, "userId"), req.Name)
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(chat))
}

func (h *Handler) renameChat(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[nameRequest](w, r)
	if !ok {
		return
	}
	if err := h.sessions.RenameChat(r.Context(), pathParam(r, "userId"), pathParam(r, "chatId"), req.Name); err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteChat(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.DeleteChat(r.Context(), pathParam(r, "userId"), pathParam(r, "chatId")); err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.sessions.Messages(r.Context(), pathParam(r, "chatId"))
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handler) listWords(w http.ResponseWriter, r *http.Request) {
	words, err := h.notebook.ListWords(r.Context(), pathParam(r, "userId"))
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	out := make([]wordResponse, 0, len(words))
	for _, e := range words {
		out = append(out, toWordResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"words": out})
}

func (h *Handler) saveWord(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[wordRequest](w, r)
	if !ok {
		return
	}
	saved, err := h.notebook.SaveWord(r.Context(), domain.VocabularyEntry{
		UserID:     pathParam(r, "userId"),
		Word:       req.Word,
		Definition: req.Definition,
		Examples:   req.Examples,
		Notes:      req.Notes,
	})
	if err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWordResponse(saved))
}

func (h *Handler) deleteWord(w http.ResponseWriter, r *http.Request) {
	if err := h.notebook.DeleteWord(r.Context(), pathParam(r, "userId"), pathParam(r, "word")); err != nil {
		writeUseCaseError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathParam returns the decoded chi URL parameter.
func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(v); err == nil {
		return decoded
	}
	return v
}

func toSessionResponse(c domain.ChatSession) sessionResponse {
	return sessionResponse{ChatID: c.ChatID, Name: c.Name, CreatedAt: c.CreatedAt, LastActivity: c.LastActivity}
}

func toWordResponse(e domain.VocabularyEntry) wordResponse {
	examples := e.Examples
	if examples == nil {
		examples = []string{}
	}
	return wordResponse{Word: e.Word, Definition: e.Definition, Examples: examples, Notes: e.Notes, CreatedAt: e.CreatedAt}
}
