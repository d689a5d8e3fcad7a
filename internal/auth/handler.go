package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/agriassist/backend/internal/api"
	"github.com/agriassist/backend/internal/middleware"
	"github.com/agriassist/backend/internal/models"
)

// Request/response structs use camelCase JSON to match the dashboard client.

type SignUpRequest struct {
	Email            string   `json:"email"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
	Name             string   `json:"name"`
	Phone            string   `json:"phone"`
	FarmName         string   `json:"farmName"`
	FarmSizeHectares *float64 `json:"farmSizeHectares"`
	FarmerType       string   `json:"farmerType"`
	Location         string   `json:"location"`
	RememberMe       bool     `json:"rememberMe"`
}

type SignInRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

type VerifyEmailRequest struct {
	Token string `json:"token"`
}

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

type UpdateProfileRequest struct {
	Name             *string  `json:"name"`
	Phone            *string  `json:"phone"`
	FarmName         *string  `json:"farmName"`
	FarmSizeHectares *float64 `json:"farmSizeHectares"`
	FarmerType       *string  `json:"farmerType"`
	Location         *string  `json:"location"`
}

type sessionResponse struct {
	User         *models.Account `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

type Handler struct {
	svc       Service
	accessTTL time.Duration
	log       *slog.Logger
}

func NewHandler(svc Service, accessTTL time.Duration, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, accessTTL: accessTTL, log: log}
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	var fields []api.FieldError
	if !emailRe.MatchString(req.Email) {
		fields = append(fields, api.FieldError{Field: "email", Message: "must be a valid email address", Value: req.Email})
	}
	if len(req.Username) < 2 || len(req.Username) > 30 {
		fields = append(fields, api.FieldError{Field: "username", Message: "must be 2-30 characters", Value: req.Username})
	}
	if len(req.Password) < 8 {
		fields = append(fields, api.FieldError{Field: "password", Message: "must be at least 8 characters"})
	}
	if req.Name == "" {
		fields = append(fields, api.FieldError{Field: "name", Message: "is required"})
	}
	farmerType := models.FarmerType(req.FarmerType)
	if req.FarmerType == "" {
		farmerType = models.FarmerSmallholder
	} else {
		switch farmerType {
		case models.FarmerSmallholder, models.FarmerCommercial, models.FarmerCooperative, models.FarmerResearcher:
		default:
			fields = append(fields, api.FieldError{Field: "farmerType", Message: "unknown farmer type", Value: req.FarmerType})
		}
	}
	if fields != nil {
		api.ValidationError(w, r, fields)
		return
	}

	acc, pair, err := h.svc.SignUp(r.Context(), SignUpParams{
		Email:            req.Email,
		Username:         req.Username,
		Password:         req.Password,
		Name:             req.Name,
		Phone:            req.Phone,
		FarmName:         req.FarmName,
		FarmSizeHectares: req.FarmSizeHectares,
		FarmerType:       farmerType,
		Location:         req.Location,
		RememberMe:       req.RememberMe,
	}, h.meta(r, req.RememberMe))
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailExists):
			api.Error(w, r, http.StatusConflict, api.CodeEmailExists, "email already registered")
		case errors.Is(err, ErrUsernameExists):
			api.Error(w, r, http.StatusConflict, api.CodeUsernameExists, "username already taken")
		default:
			h.log.Error("signup failed", "error", err)
			api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "registration failed")
		}
		return
	}
	h.setAuthCookies(w, pair)
	api.Success(w, r, http.StatusCreated, "account created", sessionResponse{User: acc, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		api.ValidationError(w, r, []api.FieldError{{Field: "email", Message: "email and password are required"}})
		return
	}
	acc, pair, err := h.svc.SignIn(r.Context(), req.Email, req.Password, h.meta(r, req.RememberMe))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			api.Error(w, r, http.StatusUnauthorized, api.CodeInvalidCredentials, "invalid email or password")
			return
		}
		h.log.Error("signin failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "sign in failed")
		return
	}
	h.setAuthCookies(w, pair)
	api.Success(w, r, http.StatusOK, "signed in", sessionResponse{User: acc, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// Refresh accepts the refresh token from the request body or, failing that,
// the refreshToken cookie. The only endpoint that reads a token from a body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	raw := req.RefreshToken
	if raw == "" {
		if c, err := r.Cookie("refreshToken"); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		api.Error(w, r, http.StatusUnauthorized, api.CodeNoRefreshToken, "refresh token required")
		return
	}
	acc, pair, err := h.svc.Refresh(r.Context(), raw, h.meta(r, false))
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenExpired):
			api.Error(w, r, http.StatusUnauthorized, api.CodeRefreshTokenExpired, "refresh token expired")
		case errors.Is(err, ErrInvalidRefreshToken):
			api.Error(w, r, http.StatusUnauthorized, api.CodeInvalidRefreshToken, "invalid refresh token")
		default:
			h.log.Error("refresh failed", "error", err)
			api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "token refresh failed")
		}
		return
	}
	h.setAuthCookies(w, pair)
	api.Success(w, r, http.StatusOK, "token refreshed", sessionResponse{User: acc, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	var req RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	raw := req.RefreshToken
	if raw == "" {
		if c, err := r.Cookie("refreshToken"); err == nil {
			raw = c.Value
		}
	}
	if err := h.svc.SignOut(r.Context(), acc.ID, raw); err != nil {
		h.log.Error("signout failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "sign out failed")
		return
	}
	h.clearAuthCookies(w)
	api.Success(w, r, http.StatusOK, "signed out", nil)
}

func (h *Handler) SignOutAll(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if err := h.svc.SignOutAll(r.Context(), acc.ID); err != nil {
		h.log.Error("signout-all failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "sign out failed")
		return
	}
	h.clearAuthCookies(w)
	api.Success(w, r, http.StatusOK, "signed out on all devices", nil)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < 8 {
		api.ValidationError(w, r, []api.FieldError{{Field: "newPassword", Message: "must be at least 8 characters"}})
		return
	}
	if err := h.svc.ChangePassword(r.Context(), acc.ID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidCurrentPassword) {
			api.Error(w, r, http.StatusUnauthorized, api.CodeInvalidCurrentPassword, "current password is incorrect")
			return
		}
		h.log.Error("change password failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "password change failed")
		return
	}
	// All refresh tokens are gone; make the client re-authenticate too.
	h.clearAuthCookies(w)
	api.Success(w, r, http.StatusOK, "password changed, please sign in again", nil)
}

// ForgotPassword replies identically whether or not the email exists.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		api.ValidationError(w, r, []api.FieldError{{Field: "email", Message: "is required"}})
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		// The generic reply holds even on internal failure; log and move on.
		h.log.Error("forgot password failed", "error", err)
	}
	api.Success(w, r, http.StatusOK, "if that email is registered, a reset link is on its way", nil)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	if req.Token == "" || len(req.NewPassword) < 8 {
		api.ValidationError(w, r, []api.FieldError{{Field: "newPassword", Message: "token and a password of at least 8 characters are required"}})
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, ErrInvalidResetToken) {
			api.Error(w, r, http.StatusBadRequest, api.CodeInvalidResetToken, "invalid or expired reset token")
			return
		}
		h.log.Error("reset password failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "password reset failed")
		return
	}
	api.Success(w, r, http.StatusOK, "password reset, please sign in", nil)
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		api.ValidationError(w, r, []api.FieldError{{Field: "token", Message: "is required"}})
		return
	}
	if err := h.svc.VerifyEmail(r.Context(), req.Token); err != nil {
		if errors.Is(err, ErrInvalidVerificationToken) {
			api.Error(w, r, http.StatusBadRequest, api.CodeInvalidVerificationToken, "invalid or already used verification token")
			return
		}
		h.log.Error("verify email failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "email verification failed")
		return
	}
	api.Success(w, r, http.StatusOK, "email verified", nil)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	var req DeleteAccountRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Password == "" {
		api.Error(w, r, http.StatusBadRequest, api.CodePasswordRequired, "password confirmation required")
		return
	}
	if err := h.svc.DeleteAccount(r.Context(), acc.ID, req.Password); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			api.Error(w, r, http.StatusUnauthorized, api.CodeInvalidPassword, "password is incorrect")
			return
		}
		h.log.Error("delete account failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "account deletion failed")
		return
	}
	h.clearAuthCookies(w)
	api.Success(w, r, http.StatusOK, "account deleted", nil)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	api.Success(w, r, http.StatusOK, "profile", acc)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, r, http.StatusBadRequest, api.CodeValidationError, "invalid JSON body")
		return
	}
	p := ProfileParams{
		Name:             req.Name,
		Phone:            req.Phone,
		FarmName:         req.FarmName,
		FarmSizeHectares: req.FarmSizeHectares,
		Location:         req.Location,
	}
	if req.FarmerType != nil {
		ft := models.FarmerType(*req.FarmerType)
		switch ft {
		case models.FarmerSmallholder, models.FarmerCommercial, models.FarmerCooperative, models.FarmerResearcher:
			p.FarmerType = &ft
		default:
			api.ValidationError(w, r, []api.FieldError{{Field: "farmerType", Message: "unknown farmer type", Value: *req.FarmerType}})
			return
		}
	}
	updated, err := h.svc.UpdateProfile(r.Context(), acc.ID, p)
	if err != nil {
		h.log.Error("update profile failed", "error", err)
		api.Error(w, r, http.StatusInternalServerError, api.CodeInternalError, "profile update failed")
		return
	}
	api.Success(w, r, http.StatusOK, "profile updated", updated)
}

func (h *Handler) meta(r *http.Request, rememberMe bool) SessionMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return SessionMeta{IP: ip, UserAgent: r.UserAgent(), RememberMe: rememberMe}
}

// setAuthCookies pins cookie lifetimes to the signed token lifetimes:
// accessToken to the access TTL, refreshToken to the TTL the pair was
// actually issued with (longer under remember-me).
func (h *Handler) setAuthCookies(w http.ResponseWriter, pair *TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     "accessToken",
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(h.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refreshToken",
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(pair.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteStrictMode,
		})
	}
}
