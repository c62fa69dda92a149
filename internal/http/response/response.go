package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
)

type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
	Meta    meta      `json:"meta"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data, Meta: buildMeta(r)})
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: &apiError{Code: code, Message: message, Details: details}, Meta: buildMeta(r)})
}

// AppError writes err using its taxonomy code and status. Untyped errors are
// logged and reported as INTERNAL without their message.
func AppError(w http.ResponseWriter, r *http.Request, err error) {
	e := apperror.From(err)
	if e.Kind == apperror.KindInternal {
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", e.Code, "error", err)
	}
	if e.Kind == apperror.KindRateLimit {
		if retry, ok := e.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}
	var details any
	if len(e.Details) > 0 {
		details = e.Details
	}
	Error(w, r, e.Kind.HTTPStatus(), e.Code, e.Message, details)
}

func buildMeta(r *http.Request) meta {
	id := chimiddleware.GetReqID(r.Context())
	if id == "" {
		id = r.Header.Get("X-Request-Id")
	}
	if id == "" {
		id = "req-unknown"
	}
	return meta{RequestID: id, Timestamp: time.Now().UTC()}
}
