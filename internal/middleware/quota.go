package middleware

import (
	"context"
	"net/http"

	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/models"
)

// QuotaChecker reports whether an account exhausted its monthly allowance
// for a category. Satisfied by *quota.Tracker.
type QuotaChecker interface {
	HasExceeded(ctx context.Context, acc *models.Account, cat models.UsageCategory) (bool, error)
}

// RequireQuota rejects the request with 429 when the account's monthly
// allowance for the category is used up. Chain after RequireAuth. The handler
// increments the counter after a successful upstream call; this check only
// gates entry.
func RequireQuota(checker QuotaChecker, cat models.UsageCategory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				api.Error(w, r, http.StatusUnauthorized, api.CodeNoAccessToken, "access token required")
				return
			}
			exceeded, err := checker.HasExceeded(r.Context(), acc, cat)
			if err != nil {
				api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "internal error")
				return
			}
			if exceeded {
				api.Error(w, r, http.StatusTooManyRequests, api.CodeAPILimitExceeded, "monthly API limit reached for "+string(cat))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
