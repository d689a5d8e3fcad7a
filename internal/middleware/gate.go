package middleware

import (
	"net/http"
	"time"

	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/models"
)

// RequireTier rejects accounts below the minimum subscription tier, and any
// account whose paid subscription has lapsed regardless of tier. Chain after
// RequireAuth. Panics on an unknown tier; route tables are wired at startup
// and a typoed minimum must not silently gate as free.
func RequireTier(min models.Tier) func(http.Handler) http.Handler {
	if !min.Valid() {
		panic("middleware: unknown subscription tier " + string(min))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				api.Error(w, r, http.StatusUnauthorized, api.CodeNoAccessToken, "access token required")
				return
			}
			if acc.SubscriptionExpired(time.Now()) {
				api.Error(w, r, http.StatusForbidden, api.CodeSubscriptionExpired, "subscription has expired")
				return
			}
			if !acc.SubscriptionTier.AtLeast(min) {
				api.Error(w, r, http.StatusForbidden, api.CodeInsufficientSubscription, "subscription tier does not allow this operation")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireFarmerType restricts an operation to a set of farmer types.
func RequireFarmerType(allowed ...models.FarmerType) func(http.Handler) http.Handler {
	set := make(map[models.FarmerType]bool, len(allowed))
	for _, ft := range allowed {
		set[ft] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				api.Error(w, r, http.StatusUnauthorized, api.CodeNoAccessToken, "access token required")
				return
			}
			if !set[acc.FarmerType] {
				api.Error(w, r, http.StatusForbidden, api.CodeInsufficientPermissions, "operation not available for this account type")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVerifiedEmail rejects accounts that have not verified their email.
func RequireVerifiedEmail() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			acc := AccountFromCtx(r.Context())
			if acc == nil {
				api.Error(w, r, http.StatusUnauthorized, api.CodeNoAccessToken, "access token required")
				return
			}
			if !acc.EmailVerified {
				api.Error(w, r, http.StatusForbidden, api.CodeEmailVerificationRequired, "email verification required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
