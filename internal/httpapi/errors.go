package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"outreach-engine/internal/domain"
)

type APIError struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var e APIError
	e.Error.Code = code
	e.Error.Message = message
	e.Error.RequestID = RequestIDFrom(r.Context())
	WriteJSON(w, status, e)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k domain.ErrorKind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConfiguration:
		return http.StatusServiceUnavailable
	case domain.KindLaunch:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// WriteDomainError renders err with the status of its kind. Errors without a
// kind are logged and shown as a generic internal error.
func WriteDomainError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	msg := domain.MessageOf(err)

	var de *domain.Error
	if !errors.As(err, &de) {
		msg = "internal server error"
	}
	if status >= 500 {
		log.Error("request failed",
			"request_id", RequestIDFrom(r.Context()), "method", r.Method, "path", r.URL.Path,
			"kind", kind, "err", err)
	}
	WriteError(w, r, status, string(kind), msg)
}
