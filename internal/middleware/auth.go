package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/models"
	"github.com/agriassist/backend/internal/repository"
	"github.com/agriassist/backend/internal/token"
)

// AccessVerifier verifies access tokens. Satisfied by *token.Service.
type AccessVerifier interface {
	VerifyAccess(raw string) (*token.AccessClaims, error)
}

// AccountLoader resolves a token subject to a live account.
type AccountLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// RequireAuth authenticates the request from the bearer token (Authorization
// header first, accessToken cookie second), loads the account, and stores it
// in context. Failures short-circuit with the matching gate error.
func RequireAuth(verifier AccessVerifier, accounts AccountLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc, code, status, msg := authenticate(r, verifier, accounts)
			if acc == nil {
				api.Error(w, r, status, code, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// OptionalAuth runs the same token check but treats every failure as
// anonymous instead of rejecting. Used where authentication augments a
// response without gating it.
func OptionalAuth(verifier AccessVerifier, accounts AccountLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if acc, _, _, _ := authenticate(r, verifier, accounts); acc != nil {
				r = r.WithContext(WithAccount(r.Context(), acc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, verifier AccessVerifier, accounts AccountLoader) (acc *models.Account, code string, status int, msg string) {
	raw := ExtractAccessToken(r)
	if raw == "" {
		return nil, api.CodeNoAccessToken, http.StatusUnauthorized, "access token required"
	}
	claims, err := verifier.VerifyAccess(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, api.CodeAccessTokenExpired, http.StatusUnauthorized, "access token expired"
		}
		return nil, api.CodeInvalidAccessToken, http.StatusUnauthorized, "invalid access token"
	}
	id, err := token.SubjectID(claims.Subject)
	if err != nil {
		return nil, api.CodeInvalidAccessToken, http.StatusUnauthorized, "invalid access token"
	}
	account, err := accounts.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, api.CodeUserNotFound, http.StatusNotFound, "user not found"
		}
		return nil, api.CodeInternalError, http.StatusInternalServerError, "internal error"
	}
	if !account.IsActive {
		return nil, api.CodeUserNotFound, http.StatusNotFound, "user not found"
	}
	return account, "", 0, ""
}

// ExtractAccessToken pulls the bearer token from the Authorization header or
// the accessToken cookie, in that order.
func ExtractAccessToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie("accessToken"); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
