package main

import (
	"net/http"

	"github.com/agriassist/backend/internal/advisory"
	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/auth"
	"github.com/agriassist/backend/internal/middleware"
	"github.com/agriassist/backend/internal/models"
)

// RegisterRoutes wires the full HTTP surface.
// Chains follow gate order: auth -> tier -> quota -> verification -> handler.
func RegisterRoutes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	advisoryHandler *advisory.Handler,
	verifier middleware.AccessVerifier,
	accounts middleware.AccountLoader,
	tracker middleware.QuotaChecker,
) {
	requireAuth := middleware.RequireAuth(verifier, accounts)
	verified := middleware.RequireVerifiedEmail()
	premium := middleware.RequireTier(models.TierPremium)
	cropQuota := middleware.RequireQuota(tracker, models.CategoryCropRecommendations)
	chatQuota := middleware.RequireQuota(tracker, models.CategoryChatMessages)

	base := "/api/v1"
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, api.RequestIDMiddleware(h))
	}

	// Session lifecycle — public.
	handle("POST "+base+"/auth/signup", http.HandlerFunc(authHandler.SignUp))
	handle("POST "+base+"/auth/signin", http.HandlerFunc(authHandler.SignIn))
	handle("POST "+base+"/auth/forgot-password", http.HandlerFunc(authHandler.ForgotPassword))
	handle("POST "+base+"/auth/reset-password", http.HandlerFunc(authHandler.ResetPassword))
	handle("POST "+base+"/auth/verify-email", http.HandlerFunc(authHandler.VerifyEmail))
	handle("POST "+base+"/auth/refresh-token", http.HandlerFunc(authHandler.Refresh))

	// Session lifecycle — access-token protected.
	handle("GET "+base+"/auth/profile", requireAuth(http.HandlerFunc(authHandler.Profile)))
	handle("PUT "+base+"/auth/profile", requireAuth(http.HandlerFunc(authHandler.UpdateProfile)))
	handle("PUT "+base+"/auth/change-password", requireAuth(http.HandlerFunc(authHandler.ChangePassword)))
	handle("POST "+base+"/auth/signout", requireAuth(http.HandlerFunc(authHandler.SignOut)))
	handle("POST "+base+"/auth/signout-all", requireAuth(http.HandlerFunc(authHandler.SignOutAll)))
	handle("DELETE "+base+"/auth/account", requireAuth(http.HandlerFunc(authHandler.DeleteAccount)))

	// Advisory — gated upstream proxies.
	handle("POST "+base+"/advisory/crop-recommendation",
		requireAuth(verified(cropQuota(http.HandlerFunc(advisoryHandler.CropRecommendation)))))
	handle("POST "+base+"/advisory/crop-recommendation/batch",
		requireAuth(premium(cropQuota(http.HandlerFunc(advisoryHandler.CropRecommendationBatch)))))
	handle("GET "+base+"/advisory/crops", requireAuth(http.HandlerFunc(advisoryHandler.Crops)))
	handle("GET "+base+"/advisory/model-info", requireAuth(http.HandlerFunc(advisoryHandler.ModelInfo)))
	handle("GET "+base+"/advisory/weather", requireAuth(http.HandlerFunc(advisoryHandler.Weather)))
	handle("POST "+base+"/advisory/chat", requireAuth(chatQuota(http.HandlerFunc(advisoryHandler.Chat))))
	handle("GET "+base+"/advisory/usage", requireAuth(http.HandlerFunc(advisoryHandler.Usage)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
}
