package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Error codes surfaced in the error envelope. The request boundary maps every
// internal failure onto one of these; storage-layer vocabulary never leaks.
const (
	CodeValidationError           = "VALIDATION_ERROR"
	CodeEmailExists               = "EMAIL_EXISTS"
	CodeUsernameExists            = "USERNAME_EXISTS"
	CodeInvalidCredentials        = "INVALID_CREDENTIALS"
	CodeNoAccessToken             = "NO_ACCESS_TOKEN"
	CodeInvalidAccessToken        = "INVALID_ACCESS_TOKEN"
	CodeAccessTokenExpired        = "ACCESS_TOKEN_EXPIRED"
	CodeNoRefreshToken            = "NO_REFRESH_TOKEN"
	CodeInvalidRefreshToken       = "INVALID_REFRESH_TOKEN"
	CodeRefreshTokenExpired       = "REFRESH_TOKEN_EXPIRED"
	CodeUserNotFound              = "USER_NOT_FOUND"
	CodeInsufficientPermissions   = "INSUFFICIENT_PERMISSIONS"
	CodeInsufficientSubscription  = "INSUFFICIENT_SUBSCRIPTION"
	CodeSubscriptionExpired       = "SUBSCRIPTION_EXPIRED"
	CodeAPILimitExceeded          = "API_LIMIT_EXCEEDED"
	CodeEmailVerificationRequired = "EMAIL_VERIFICATION_REQUIRED"
	CodeInvalidCurrentPassword    = "INVALID_CURRENT_PASSWORD"
	CodeInvalidResetToken         = "INVALID_RESET_TOKEN"
	CodeInvalidVerificationToken  = "INVALID_VERIFICATION_TOKEN"
	CodePasswordRequired          = "PASSWORD_REQUIRED"
	CodeInvalidPassword           = "INVALID_PASSWORD"
	CodeInternalError             = "INTERNAL_ERROR"
	CodeUpstreamUnavailable       = "UPSTREAM_UNAVAILABLE"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestID returns the id assigned to this request, or "" outside the
// middleware chain.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestID returns a context carrying the given request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDMiddleware assigns each request a uuid, echoes it in the
// X-Request-ID header and stores it in context for the envelopes.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// FieldError describes one invalid input field in a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

type successEnvelope struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Success   bool         `json:"success"`
	Error     string       `json:"error"`
	ErrorCode string       `json:"errorCode"`
	Errors    []FieldError `json:"errors,omitempty"`
	RequestID string       `json:"requestId"`
	Timestamp string       `json:"timestamp"`
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success writes the success envelope.
func Success(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	write(w, status, successEnvelope{
		Success:   true,
		Message:   message,
		Data:      data,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Error writes the error envelope.
func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	write(w, status, errorEnvelope{
		Error:     message,
		ErrorCode: code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// ValidationError writes the error envelope with per-field details.
func ValidationError(w http.ResponseWriter, r *http.Request, fields []FieldError) {
	write(w, http.StatusBadRequest, errorEnvelope{
		Error:     "validation failed",
		ErrorCode: CodeValidationError,
		Errors:    fields,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
