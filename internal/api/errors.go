package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/tutord/internal/chat"
	"github.com/kalambet/tutord/internal/gateway"
	"github.com/kalambet/tutord/internal/ingest"
	"github.com/kalambet/tutord/internal/quiz"
	"github.com/kalambet/tutord/internal/social"
	"github.com/kalambet/tutord/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

const (
	msgRateLimited    = "Rate limit exceeded. Please try again in a moment."
	msgQuotaExhausted = "AI credits exhausted. Please add credits to continue."
	msgQuizParse      = "Failed to parse quiz questions from AI"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response failed", "error", err)
	}
}

// statusFor maps a domain error to its HTTP status and client message.
func statusFor(err error) (int, string) {
	var statusErr *gateway.StatusError
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, gateway.ErrQuotaExhausted):
		return http.StatusPaymentRequired, msgQuotaExhausted
	case errors.As(err, &statusErr):
		return http.StatusInternalServerError, fmt.Sprintf("AI gateway error: %d", statusErr.Status)
	case errors.Is(err, gateway.ErrNoChoices):
		return http.StatusBadGateway, "AI gateway error: empty response"
	case errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusInternalServerError, "LOVABLE_API_KEY not configured"
	case errors.Is(err, quiz.ErrMalformedOutput):
		return http.StatusBadGateway, msgQuizParse
	case errors.As(err, &verrs):
		return http.StatusBadRequest, validationMessage(verrs)
	case errors.Is(err, chat.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidRequest),
		errors.Is(err, social.ErrInvalid),
		errors.Is(err, quiz.ErrEmptyConversation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, quiz.ErrAlreadyCompleted):
		return http.StatusConflict, err.Error()
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "error", err)
	}
	httpError(w, code, "%s", msg)
}

// decodeBody reads a size-limited JSON body into v and validates its
// struct tags.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %v: %w", err, chat.ErrInvalidRequest)
	}
	return validate.Struct(v)
}

func validationMessage(verrs validator.ValidationErrors) string {
	if len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
