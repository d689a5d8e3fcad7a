package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/models"
)

// Verification outcomes. Callers must distinguish the two: an expired token
// is cryptographically sound but past its window; a malformed one never was.
var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
)

// AccessClaims is the payload of a short-lived access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email      string            `json:"email"`
	Username   string            `json:"username"`
	Tier       models.Tier       `json:"tier"`
	FarmerType models.FarmerType `json:"farmer_type,omitempty"`
}

// RefreshClaims is the payload of a long-lived refresh token. Deliberately
// minimal: the live account record is the source of truth at refresh time.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Service mints and verifies both token kinds. Signing uses two distinct
// secrets so neither kind can ever stand in for the other. Verification is
// pure: no store lookup happens here.
type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// AccessTTL returns the configured access-token lifetime (cookie max-age
// must match it).
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the default refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccess signs a new access token for the account.
func (s *Service) IssueAccess(acc *models.Account) (string, error) {
	now := time.Now()
	c := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Email:      acc.Email,
		Username:   acc.Username,
		Tier:       acc.SubscriptionTier,
		FarmerType: acc.FarmerType,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.accessSecret)
}

// IssueRefresh signs a new refresh token for the account with the given
// lifetime. Remember-me sessions pass a longer ttl; the signed expiry claim
// extends with it, not just the cookie.
func (s *Service) IssueRefresh(acc *models.Account, ttl time.Duration) (string, error) {
	now := time.Now()
	c := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acc.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Email: acc.Email,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.refreshSecret)
}

// VerifyAccess checks signature and expiry of an access token and returns
// its claims. Fails with ErrExpired or ErrMalformed, nothing else.
func (s *Service) VerifyAccess(raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := s.verify(raw, &claims, s.accessSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

// VerifyRefresh checks signature and expiry of a refresh token and returns
// its claims. Membership in the account's live token set is the caller's
// check, so revocation stays distinguishable from cryptographic death.
func (s *Service) VerifyRefresh(raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := s.verify(raw, &claims, s.refreshSecret); err != nil {
		return nil, err
	}
	return &claims, nil
}

func (s *Service) verify(raw string, claims jwt.Claims, secret []byte) error {
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrMalformed
	}
	if !tok.Valid {
		return ErrMalformed
	}
	return nil
}

// SubjectID parses the account id out of a claims subject.
func SubjectID(sub string) (uuid.UUID, error) {
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	return id, nil
}
