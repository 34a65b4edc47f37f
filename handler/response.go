package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"vocab-agent/internal/logger"
	"vocab-agent/internal/usecase"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, usecase.ErrorInvalidInput, "body_too_large")
		} else {
			writeError(w, http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid_body")
		}
		return v, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code usecase.ErrorCode, reason string) {
	writeJSON(w, status, errorResponse{Error: string(code), Reason: reason})
}

func writeUseCaseError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		log.Error("unexpected error", "err", err)
		writeError(w, http.StatusInternalServerError, usecase.ErrorInternal, "unexpected")
		return
	}
	status := statusFor(ucErr.Code)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "code", ucErr.Code, "reason", ucErr.Reason, "err", ucErr.Err)
	} else {
		log.Info("request rejected", "code", ucErr.Code, "reason", ucErr.Reason)
	}
	writeError(w, status, ucErr.Code, ucErr.Reason)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidQuestion:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorConflict:
		return http.StatusConflict
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
