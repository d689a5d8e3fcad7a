package token

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/models"
)

func testAccount() *models.Account {
	return &models.Account{
		ID:               uuid.New(),
		Email:            "grower@example.com",
		Username:         "grower1",
		SubscriptionTier: models.TierBasic,
		FarmerType:       models.FarmerSmallholder,
	}
}

// ---------------------------------------------------------------------------
// Access tokens
// ---------------------------------------------------------------------------

func TestAccessToken_RoundTrip(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	acc := testAccount()

	raw, err := svc.IssueAccess(acc)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.VerifyAccess(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != acc.ID.String() {
		t.Errorf("subject = %q, want %q", claims.Subject, acc.ID)
	}
	if claims.Email != acc.Email || claims.Username != acc.Username {
		t.Errorf("claims = %q/%q, want %q/%q", claims.Email, claims.Username, acc.Email, acc.Username)
	}
	if claims.Tier != models.TierBasic {
		t.Errorf("tier = %q, want basic", claims.Tier)
	}
}

func TestAccessToken_Expired(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", -time.Minute, 7*24*time.Hour)

	raw, err := svc.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyAccess(raw); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestAccessToken_Garbage(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	if _, err := svc.VerifyAccess("not.a.token"); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestAccessToken_WrongSecret(t *testing.T) {
	issuer := NewService("secret-one", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	verifier := NewService("secret-two", "refresh-secret", 15*time.Minute, 7*24*time.Hour)

	raw, err := issuer.IssueAccess(testAccount())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.VerifyAccess(raw); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

// ---------------------------------------------------------------------------
// Refresh tokens
// ---------------------------------------------------------------------------

func TestRefreshToken_RoundTrip(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	acc := testAccount()

	raw, err := svc.IssueRefresh(acc, svc.RefreshTTL())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.VerifyRefresh(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != acc.ID.String() || claims.Email != acc.Email {
		t.Errorf("claims = %q/%q, want %q/%q", claims.Subject, claims.Email, acc.ID, acc.Email)
	}
	if claims.ID == "" {
		t.Error("expected a jti so two refresh tokens issued in the same second differ")
	}
}

func TestRefreshToken_NegativeTTLMintsExpired(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)

	// The ttl is taken literally; nothing silently rounds it up to the
	// default, so a backdated token really is expired.
	raw, err := svc.IssueRefresh(testAccount(), -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.VerifyRefresh(raw); !errors.Is(err, ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestRefreshToken_RememberMeExtendsSignedExpiry(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)

	raw, err := svc.IssueRefresh(testAccount(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.VerifyRefresh(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	// The claim itself must carry the extended horizon, not just the cookie.
	if until := time.Until(claims.ExpiresAt.Time); until < 29*24*time.Hour {
		t.Errorf("signed expiry only %v away, want ~30 days", until)
	}
}

// A token of one kind must never verify as the other: the secrets are disjoint.
func TestTokenKinds_AreDisjoint(t *testing.T) {
	svc := NewService("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	acc := testAccount()

	access, err := svc.IssueAccess(acc)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	refresh, err := svc.IssueRefresh(acc, svc.RefreshTTL())
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}

	if _, err := svc.VerifyRefresh(access); !errors.Is(err, ErrMalformed) {
		t.Errorf("access token verified as refresh: err = %v", err)
	}
	if _, err := svc.VerifyAccess(refresh); !errors.Is(err, ErrMalformed) {
		t.Errorf("refresh token verified as access: err = %v", err)
	}
}

func TestSubjectID(t *testing.T) {
	id := uuid.New()
	got, err := SubjectID(id.String())
	if err != nil || got != id {
		t.Errorf("SubjectID(%q) = %v, %v", id, got, err)
	}
	if _, err := SubjectID("not-a-uuid"); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}
