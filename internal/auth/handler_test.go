package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/middleware"
	"github.com/agriassist/backend/internal/models"
)

// stubService lets each test script exactly one lifecycle behavior.
type stubService struct {
	signUp         func(ctx context.Context, p SignUpParams, meta SessionMeta) (*models.Account, *TokenPair, error)
	signIn         func(ctx context.Context, email, password string, meta SessionMeta) (*models.Account, *TokenPair, error)
	refresh        func(ctx context.Context, refreshToken string, meta SessionMeta) (*models.Account, *TokenPair, error)
	signOut        func(ctx context.Context, accountID uuid.UUID, refreshToken string) error
	signOutAll     func(ctx context.Context, accountID uuid.UUID) error
	changePassword func(ctx context.Context, accountID uuid.UUID, current, next string) error
	forgotPassword func(ctx context.Context, email string) error
	resetPassword  func(ctx context.Context, resetToken, newPassword string) error
	verifyEmail    func(ctx context.Context, verificationToken string) error
	deleteAccount  func(ctx context.Context, accountID uuid.UUID, password string) error
	updateProfile  func(ctx context.Context, accountID uuid.UUID, p ProfileParams) (*models.Account, error)
}

var _ Service = (*stubService)(nil)

func (s *stubService) SignUp(ctx context.Context, p SignUpParams, meta SessionMeta) (*models.Account, *TokenPair, error) {
	return s.signUp(ctx, p, meta)
}

func (s *stubService) SignIn(ctx context.Context, email, password string, meta SessionMeta) (*models.Account, *TokenPair, error) {
	return s.signIn(ctx, email, password, meta)
}

func (s *stubService) Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (*models.Account, *TokenPair, error) {
	return s.refresh(ctx, refreshToken, meta)
}

func (s *stubService) SignOut(ctx context.Context, accountID uuid.UUID, refreshToken string) error {
	return s.signOut(ctx, accountID, refreshToken)
}

func (s *stubService) SignOutAll(ctx context.Context, accountID uuid.UUID) error {
	return s.signOutAll(ctx, accountID)
}

func (s *stubService) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	return s.changePassword(ctx, accountID, current, next)
}

func (s *stubService) ForgotPassword(ctx context.Context, email string) error {
	return s.forgotPassword(ctx, email)
}

func (s *stubService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	return s.resetPassword(ctx, resetToken, newPassword)
}

func (s *stubService) VerifyEmail(ctx context.Context, verificationToken string) error {
	return s.verifyEmail(ctx, verificationToken)
}

func (s *stubService) DeleteAccount(ctx context.Context, accountID uuid.UUID, password string) error {
	return s.deleteAccount(ctx, accountID, password)
}

func (s *stubService) Profile(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return nil, nil
}

func (s *stubService) UpdateProfile(ctx context.Context, accountID uuid.UUID, p ProfileParams) (*models.Account, error) {
	return s.updateProfile(ctx, accountID, p)
}

func testAccount() *models.Account {
	return &models.Account{
		ID:               uuid.New(),
		Email:            "a@x.com",
		Username:         "a1",
		Name:             "Test Grower",
		SubscriptionTier: models.TierFree,
		IsActive:         true,
	}
}

func testPair() *TokenPair {
	return &TokenPair{AccessToken: "access", RefreshToken: "refresh", RefreshTTL: 7 * 24 * time.Hour}
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any, acc *models.Account) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(http.MethodPost, path, &buf)
	if acc != nil {
		r = r.WithContext(middleware.WithAccount(r.Context(), acc))
	}
	w := httptest.NewRecorder()
	h(w, r)
	return w
}

type envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	Error     string          `json:"error"`
	ErrorCode string          `json:"errorCode"`
	RequestID string          `json:"requestId"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if e.Timestamp == "" {
		t.Errorf("envelope missing timestamp: %s", w.Body.String())
	}
	return e
}

// ---------------------------------------------------------------------------
// Sign-up / sign-in
// ---------------------------------------------------------------------------

func TestSignUpHandler_FieldValidation(t *testing.T) {
	h := NewHandler(&stubService{}, 15*time.Minute, nil)

	w := postJSON(t, h.SignUp, "/api/v1/auth/signup", SignUpRequest{
		Email:    "not-an-email",
		Username: "a",
		Password: "short",
	}, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	e := decodeEnvelope(t, w)
	if e.ErrorCode != "VALIDATION_ERROR" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}
	for _, f := range []string{"email", "username", "password", "name"} {
		if !strings.Contains(w.Body.String(), `"field":"`+f+`"`) {
			t.Errorf("missing field error for %q", f)
		}
	}
}

func TestSignUpHandler_SetsSessionCookies(t *testing.T) {
	svc := &stubService{
		signUp: func(_ context.Context, p SignUpParams, _ SessionMeta) (*models.Account, *TokenPair, error) {
			if p.FarmerType != models.FarmerSmallholder {
				t.Errorf("default farmerType = %q, want smallholder", p.FarmerType)
			}
			return testAccount(), testPair(), nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.SignUp, "/api/v1/auth/signup", SignUpRequest{
		Email: "a@x.com", Username: "a1", Password: "plantmore2024", Name: "Test Grower",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	byName := map[string]*http.Cookie{}
	for _, c := range cookies {
		byName[c.Name] = c
	}
	access, refresh := byName["accessToken"], byName["refreshToken"]
	if access == nil || refresh == nil {
		t.Fatalf("cookies = %v, want accessToken and refreshToken", cookies)
	}
	if !access.HttpOnly || !access.Secure || access.SameSite != http.SameSiteStrictMode {
		t.Error("accessToken cookie is not HttpOnly+Secure+Strict")
	}
	if access.MaxAge != int((15 * time.Minute).Seconds()) {
		t.Errorf("accessToken MaxAge = %d", access.MaxAge)
	}
	if refresh.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Errorf("refreshToken MaxAge = %d", refresh.MaxAge)
	}
}

func TestSignInHandler_RememberMeStretchesRefreshCookie(t *testing.T) {
	svc := &stubService{
		signIn: func(_ context.Context, _, _ string, meta SessionMeta) (*models.Account, *TokenPair, error) {
			if !meta.RememberMe {
				t.Error("rememberMe not forwarded in session meta")
			}
			return testAccount(), &TokenPair{AccessToken: "access", RefreshToken: "refresh", RefreshTTL: 30 * 24 * time.Hour}, nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.SignIn, "/api/v1/auth/signin", SignInRequest{Email: "a@x.com", Password: "plantmore2024", RememberMe: true}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "refreshToken" && c.MaxAge != int((30 * 24 * time.Hour).Seconds()) {
			t.Errorf("refreshToken MaxAge = %d, want 30 days", c.MaxAge)
		}
	}
}

// Wrong password and unknown email must be byte-identical apart from the
// per-request envelope fields.
func TestSignInHandler_FailureResponsesDoNotLeakExistence(t *testing.T) {
	svc := &stubService{
		signIn: func(_ context.Context, _, _ string, _ SessionMeta) (*models.Account, *TokenPair, error) {
			return nil, nil, ErrInvalidCredentials
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	wKnown := postJSON(t, h.SignIn, "/api/v1/auth/signin", SignInRequest{Email: "a@x.com", Password: "wrong"}, nil)
	wUnknown := postJSON(t, h.SignIn, "/api/v1/auth/signin", SignInRequest{Email: "ghost@x.com", Password: "whatever"}, nil)

	if wKnown.Code != http.StatusUnauthorized || wUnknown.Code != wKnown.Code {
		t.Fatalf("statuses = %d / %d, want 401 / 401", wKnown.Code, wUnknown.Code)
	}
	a, b := decodeEnvelope(t, wKnown), decodeEnvelope(t, wUnknown)
	if a.ErrorCode != "INVALID_CREDENTIALS" || b.ErrorCode != a.ErrorCode || a.Error != b.Error {
		t.Errorf("responses differ: %+v vs %+v", a, b)
	}
}

// ---------------------------------------------------------------------------
// Refresh
// ---------------------------------------------------------------------------

func TestRefreshHandler_BodyTakesPrecedenceOverCookie(t *testing.T) {
	var got string
	svc := &stubService{
		refresh: func(_ context.Context, tok string, _ SessionMeta) (*models.Account, *TokenPair, error) {
			got = tok
			return testAccount(), testPair(), nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	body := bytes.NewBufferString(`{"refreshToken":"from-body"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", body)
	r.AddCookie(&http.Cookie{Name: "refreshToken", Value: "from-cookie"})
	w := httptest.NewRecorder()
	h.Refresh(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if got != "from-body" {
		t.Errorf("token used = %q, want the body one", got)
	}
}

func TestRefreshHandler_FallsBackToCookie(t *testing.T) {
	var got string
	svc := &stubService{
		refresh: func(_ context.Context, tok string, _ SessionMeta) (*models.Account, *TokenPair, error) {
			got = tok
			return testAccount(), testPair(), nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	r.AddCookie(&http.Cookie{Name: "refreshToken", Value: "from-cookie"})
	w := httptest.NewRecorder()
	h.Refresh(w, r)

	if got != "from-cookie" {
		t.Errorf("token used = %q, want the cookie one", got)
	}
}

func TestRefreshHandler_MissingTokenAndFailureCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"expired", ErrRefreshTokenExpired, "REFRESH_TOKEN_EXPIRED"},
		{"revoked", ErrInvalidRefreshToken, "INVALID_REFRESH_TOKEN"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{
				refresh: func(_ context.Context, _ string, _ SessionMeta) (*models.Account, *TokenPair, error) {
					return nil, nil, tc.err
				},
			}
			h := NewHandler(svc, 15*time.Minute, nil)
			w := postJSON(t, h.Refresh, "/api/v1/auth/refresh", RefreshRequest{RefreshToken: "x"}, nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if e := decodeEnvelope(t, w); e.ErrorCode != tc.wantCode {
				t.Errorf("errorCode = %q, want %q", e.ErrorCode, tc.wantCode)
			}
		})
	}

	h := NewHandler(&stubService{}, 15*time.Minute, nil)
	w := postJSON(t, h.Refresh, "/api/v1/auth/refresh", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status = %d, want 401", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "NO_REFRESH_TOKEN" {
		t.Errorf("errorCode = %q, want NO_REFRESH_TOKEN", e.ErrorCode)
	}
}

// ---------------------------------------------------------------------------
// Sign-out / password change
// ---------------------------------------------------------------------------

func TestSignOutHandler_ClearsCookies(t *testing.T) {
	svc := &stubService{
		signOut: func(_ context.Context, _ uuid.UUID, _ string) error { return nil },
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.SignOut, "/api/v1/auth/signout", RefreshRequest{RefreshToken: "x"}, testAccount())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	cleared := 0
	for _, c := range w.Result().Cookies() {
		if (c.Name == "accessToken" || c.Name == "refreshToken") && c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Errorf("cleared cookies = %d, want 2", cleared)
	}
}

func TestChangePasswordHandler(t *testing.T) {
	svc := &stubService{
		changePassword: func(_ context.Context, _ uuid.UUID, current, _ string) error {
			if current != "right" {
				return ErrInvalidCurrentPassword
			}
			return nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.ChangePassword, "/api/v1/auth/change-password", ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "longenough1"}, testAccount())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "INVALID_CURRENT_PASSWORD" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}

	w = postJSON(t, h.ChangePassword, "/api/v1/auth/change-password", ChangePasswordRequest{CurrentPassword: "right", NewPassword: "short"}, testAccount())
	if w.Code != http.StatusBadRequest {
		t.Errorf("short password status = %d, want 400", w.Code)
	}

	w = postJSON(t, h.ChangePassword, "/api/v1/auth/change-password", ChangePasswordRequest{CurrentPassword: "right", NewPassword: "longenough1"}, testAccount())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	// Sessions were wiped server-side; the client cookies must go too.
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			t.Errorf("cookie %s not cleared", c.Name)
		}
	}
}

// ---------------------------------------------------------------------------
// Forgot / reset / delete
// ---------------------------------------------------------------------------

func TestForgotPasswordHandler_GenericReplyEvenOnServiceError(t *testing.T) {
	svc := &stubService{
		forgotPassword: func(_ context.Context, _ string) error { return context.DeadlineExceeded },
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.ForgotPassword, "/api/v1/auth/forgot-password", ForgotPasswordRequest{Email: "a@x.com"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 regardless of outcome", w.Code)
	}
	e := decodeEnvelope(t, w)
	if !e.Success {
		t.Errorf("success = false: %s", w.Body.String())
	}
}

func TestResetPasswordHandler_InvalidToken(t *testing.T) {
	svc := &stubService{
		resetPassword: func(_ context.Context, _, _ string) error { return ErrInvalidResetToken },
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.ResetPassword, "/api/v1/auth/reset-password", ResetPasswordRequest{Token: "x", NewPassword: "longenough1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "INVALID_RESET_TOKEN" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}
}

func TestVerifyEmailHandler(t *testing.T) {
	var got string
	svc := &stubService{
		verifyEmail: func(_ context.Context, verificationToken string) error {
			got = verificationToken
			return nil
		},
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.VerifyEmail, "/api/v1/auth/verify-email", VerifyEmailRequest{Token: "tok-1"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got != "tok-1" {
		t.Errorf("service saw token %q, want %q", got, "tok-1")
	}
}

func TestVerifyEmailHandler_Failures(t *testing.T) {
	svc := &stubService{
		verifyEmail: func(_ context.Context, _ string) error { return ErrInvalidVerificationToken },
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.VerifyEmail, "/api/v1/auth/verify-email", VerifyEmailRequest{Token: "used"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "INVALID_VERIFICATION_TOKEN" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}

	// Missing token never reaches the service.
	w = postJSON(t, h.VerifyEmail, "/api/v1/auth/verify-email", VerifyEmailRequest{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty token status = %d, want 400", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "VALIDATION_ERROR" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}
}

func TestDeleteAccountHandler_RequiresPasswordField(t *testing.T) {
	h := NewHandler(&stubService{}, 15*time.Minute, nil)

	w := postJSON(t, h.DeleteAccount, "/api/v1/auth/account", DeleteAccountRequest{}, testAccount())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "PASSWORD_REQUIRED" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}
}

func TestDeleteAccountHandler_WrongPassword(t *testing.T) {
	svc := &stubService{
		deleteAccount: func(_ context.Context, _ uuid.UUID, _ string) error { return ErrInvalidPassword },
	}
	h := NewHandler(svc, 15*time.Minute, nil)

	w := postJSON(t, h.DeleteAccount, "/api/v1/auth/account", DeleteAccountRequest{Password: "wrong"}, testAccount())
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if e := decodeEnvelope(t, w); e.ErrorCode != "INVALID_PASSWORD" {
		t.Errorf("errorCode = %q", e.ErrorCode)
	}
}

func TestUpdateProfileHandler_RejectsUnknownFarmerType(t *testing.T) {
	h := NewHandler(&stubService{}, 15*time.Minute, nil)

	bad := "agripirate"
	w := postJSON(t, h.UpdateProfile, "/api/v1/auth/profile", UpdateProfileRequest{FarmerType: &bad}, testAccount())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
