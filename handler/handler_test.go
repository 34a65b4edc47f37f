package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"vocab-agent/internal/repository"
	"vocab-agent/internal/usecase"
)

type stubChat struct {
	out   usecase.ChatOutput
	err   error
	in    usecase.ChatInput
	panic bool
}

func (s *stubChat) Chat(_ context.Context, in usecase.ChatInput) (usecase.ChatOutput, error) {
	if s.panic {
		panic("boom")
	}
	s.in = in
	return s.out, s.err
}

func newTestHandler(t *testing.T, chat ChatUseCase) *Handler {
	t.Helper()
	store := repository.NewMemoryStore("聊天")
	sessions, err := usecase.NewSessionService(store, "聊天", "歡迎！")
	require.NoError(t, err)
	notebook, err := usecase.NewNotebookService(store)
	require.NoError(t, err)
	h, err := NewHandler(chat, sessions, notebook)
	require.NoError(t, err)
	return h
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/chat",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	store := repository.NewMemoryStore("")
	sessions, err := usecase.NewSessionService(store, "", "")
	require.NoError(t, err)
	notebook, err := usecase.NewNotebookService(store)
	require.NoError(t, err)

	_, err = NewHandler(nil, sessions, notebook)
	require.Error(t, err)
	_, err = NewHandler(&stubChat{}, nil, notebook)
	require.Error(t, err)
	_, err = NewHandler(&stubChat{}, sessions, nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Answer: "單字：resilient", ChatID: "chat-1"}}
	h := newTestHandler(t, uc)

	resp, err := h.Handle(context.Background(), makeEvent(`{"message":"resilient 是什麼意思","userId":"u1","chatId":"chat-1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{Message: "resilient 是什麼意思", UserID: "u1", ChatID: "chat-1"}, uc.in)

	out := parseBody[chatResponse](t, resp.Body)
	require.Equal(t, "單字：resilient", out.Answer)
	require.Equal(t, "chat-1", out.ChatID)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
	require.Equal(t, "application/json", resp.Headers["Content-Type"])
}

func TestHandle_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubChat{})

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_body", out.Reason)
}

func TestHandle_DecodesBase64Body(t *testing.T) {
	uc := &stubChat{out: usecase.ChatOutput{Answer: "ok", ChatID: "chat-1"}}
	h := newTestHandler(t, uc)

	event := makeEvent(base64.StdEncoding.EncodeToString([]byte(`{"message":"itinerary 怎麼用","userId":"u1","chatId":"chat-1"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ChatInput{Message: "itinerary 怎麼用", UserID: "u1", ChatID: "chat-1"}, uc.in)
}

func TestHandle_RejectsMalformedBase64Body(t *testing.T) {
	uc := &stubChat{}
	h := newTestHandler(t, uc)

	event := makeEvent("%%%not-base64")
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
	require.Equal(t, "invalid_body", out.Reason)
	require.Empty(t, uc.in.Message)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_message"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "invalid question", err: &usecase.Error{Code: usecase.ErrorInvalidQuestion, Reason: "moderation_flagged"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidQuestion)},
		{name: "rate limited", err: &usecase.Error{Code: usecase.ErrorRateLimited, Reason: "agent_rate_limited"}, status: http.StatusTooManyRequests, code: string(usecase.ErrorRateLimited)},
		{name: "upstream", err: &usecase.Error{Code: usecase.ErrorUpstream, Reason: "agent_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorUpstream)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "dynamodb_write_error"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "not found", err: &usecase.Error{Code: usecase.ErrorNotFound, Reason: "chat_not_found"}, status: http.StatusNotFound, code: string(usecase.ErrorNotFound)},
		{name: "conflict", err: &usecase.Error{Code: usecase.ErrorConflict, Reason: "word_exists"}, status: http.StatusConflict, code: string(usecase.ErrorConflict)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubChat{err: tc.err})

			resp, err := h.Handle(context.Background(), makeEvent(`{"message":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubChat{out: usecase.ChatOutput{Answer: "ok", ChatID: "c"}})

	event := makeEvent(`{"message":"hi"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}

func TestHandle_FallsBackToGatewayRequestID(t *testing.T) {
	h := newTestHandler(t, &stubChat{out: usecase.ChatOutput{Answer: "ok", ChatID: "c"}})

	event := makeEvent(`{"message":"hi"}`)
	event.RequestContext.RequestID = "apigw-req-1"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "apigw-req-1", resp.Headers["X-Correlation-Id"])
}

func TestHandle_RoutesPathAndMethod(t *testing.T) {
	h := newTestHandler(t, &stubChat{})

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/healthz"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/nope"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "route_not_found", parseBody[errorResponse](t, resp.Body).Reason)

	resp, err = h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/chat"})
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServeHTTP_RecoversPanics(t *testing.T) {
	h := newTestHandler(t, &stubChat{panic: true})
	rec := do(t, h, http.MethodPost, "/chat", `{"message":"hi"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeHTTP_SessionLifecycle(t *testing.T) {
	h := newTestHandler(t, &stubChat{})

	rec := do(t, h, http.MethodPost, "/users/u1/chats", `{"name":"旅遊"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := parseBody[sessionResponse](t, rec.Body.String())
	require.Equal(t, "旅遊", created.Name)
	require.NotEmpty(t, created.ChatID)

	rec = do(t, h, http.MethodPost, "/users/u1/chats", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "聊天", parseBody[sessionResponse](t, rec.Body.String()).Name)

	rec = do(t, h, http.MethodGet, "/users/u1/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := parseBody[struct {
		Chats []sessionResponse `json:"chats"`
	}](t, rec.Body.String())
	require.Len(t, list.Chats, 2)

	rec = do(t, h, http.MethodPatch, "/users/u1/chats/"+created.ChatID, `{"name":"商業"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPatch, "/users/u1/chats/missing", `{"name":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/chats/"+created.ChatID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := parseBody[struct {
		Messages []messageResponse `json:"messages"`
	}](t, rec.Body.String())
	require.Len(t, msgs.Messages, 1)
	require.Equal(t, "system", msgs.Messages[0].Role)
	require.Equal(t, "歡迎！", msgs.Messages[0].Content)

	rec = do(t, h, http.MethodDelete, "/users/u1/chats/"+created.ChatID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/users/u1/chats/"+created.ChatID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeHTTP_Vocabulary(t *testing.T) {
	h := newTestHandler(t, &stubChat{})

	rec := do(t, h, http.MethodPost, "/users/u1/vocabulary", `{"word":"take off","definition":"起飛","examples":["The plane took off."]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	saved := parseBody[wordResponse](t, rec.Body.String())
	require.Equal(t, "take off", saved.Word)
	require.Equal(t, []string{"The plane took off."}, saved.Examples)

	rec = do(t, h, http.MethodPost, "/users/u1/vocabulary", `{"word":"Take Off"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "word_exists", parseBody[errorResponse](t, rec.Body.String()).Reason)

	rec = do(t, h, http.MethodGet, "/users/u1/vocabulary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"word":"take off"`)

	rec = do(t, h, http.MethodDelete, "/users/u1/vocabulary/take%20off", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/users/u1/vocabulary/take%20off", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandle_VocabularyThroughGateway(t *testing.T) {
	h := newTestHandler(t, &stubChat{})

	resp, err := h.Handle(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/users/u1/vocabulary",
		Body:       `{"word":"itinerary","definition":"行程"}`,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = h.Handle(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/users/u1/vocabulary"})
	require.NoError(t, err)
	require.Contains(t, resp.Body, "行程")
}
