package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/flowgate/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit. Failures are
// ValidationFailed errors carrying 400 or 413.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return v, invalidRequest(http.StatusRequestEntityTooLarge, "request body too large")
		}
		return v, invalidRequest(http.StatusBadRequest, "invalid request body")
	}
	return v, nil
}

// invalidRequest classifies a rejected request as ValidationFailed.
func invalidRequest(status int, detail string) error {
	return &domain.Error{Kind: domain.KindValidationFailed, Status: status, Detail: detail, Err: domain.ErrValidation}
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a ValidationFailed error and returns false when value
// is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeDomainError(w, invalidRequest(http.StatusBadRequest, fieldName+" is required"))
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

type domainErrorResponse struct {
	Error domain.Payload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError renders err with the taxonomy payload and the HTTP status
// of its kind. The raw error chain is only logged.
func writeDomainError(w http.ResponseWriter, err error) {
	p := domain.PayloadOf(err)
	status := statusFor(p)
	if status >= http.StatusInternalServerError {
		slog.Warn("request failed", "kind", p.Kind, "tool", p.Tool, "backend", p.Backend, "error", err)
	}
	writeJSON(w, status, domainErrorResponse{Error: p})
}

func statusFor(p domain.Payload) int {
	switch p.Kind {
	case domain.KindUnknownTool, domain.KindRequestNotFound:
		return http.StatusNotFound
	case domain.KindValidationFailed:
		switch p.Status {
		case http.StatusBadRequest, http.StatusConflict, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return p.Status
		}
		return http.StatusUnprocessableEntity
	case domain.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindBackendTimeout:
		return http.StatusGatewayTimeout
	case domain.KindBackendError:
		return http.StatusBadGateway
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindAlreadyDecided:
		return http.StatusConflict
	case domain.KindMalformedCallback:
		return http.StatusBadRequest
	case domain.KindExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
