package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agriassist/backend/internal/mailer"
	"github.com/agriassist/backend/internal/models"
	"github.com/agriassist/backend/internal/repository"
	"github.com/agriassist/backend/internal/token"
)

var (
	// ErrEmailExists is returned when signing up with an email already registered.
	ErrEmailExists = errors.New("email already registered")
	// ErrUsernameExists is returned when signing up with a username already taken.
	ErrUsernameExists = errors.New("username already taken")
	// ErrInvalidCredentials is returned for any sign-in mismatch. Deliberately
	// identical for unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidRefreshToken covers malformed, revoked, and reused refresh tokens.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenExpired is returned for a well-formed but expired refresh token.
	ErrRefreshTokenExpired = errors.New("refresh token expired")
	// ErrInvalidResetToken covers unknown and expired password reset tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	// ErrInvalidVerificationToken covers unknown and already-consumed email
	// verification tokens.
	ErrInvalidVerificationToken = errors.New("invalid verification token")
	// ErrInvalidCurrentPassword is returned when a password change fails re-confirmation.
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	// ErrInvalidPassword is returned when account deletion fails re-confirmation.
	ErrInvalidPassword = errors.New("password is incorrect")
	// ErrUserNotFound is returned when an authenticated subject no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// AccountStore is the credential-store surface the lifecycle manager needs.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	UpdateProfile(ctx context.Context, a *models.Account) error
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error)
	ClearResetToken(ctx context.Context, id uuid.UUID) error
	SetVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) error
	MarkEmailVerified(ctx context.Context, tokenHash string) (uuid.UUID, error)
	RecordLogin(ctx context.Context, e *models.LoginEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TokenStore is the refresh-token set surface. All mutations are atomic at
// the store; the lifecycle manager never read-modify-writes the set.
type TokenStore interface {
	Add(ctx context.Context, t *models.RefreshToken) error
	Delete(ctx context.Context, accountID uuid.UUID, tok string) error
	DeleteAll(ctx context.Context, accountID uuid.UUID) error
	Rotate(ctx context.Context, accountID uuid.UUID, oldToken string, newToken *models.RefreshToken) error
}

// EnqueueEmailFunc enqueues an outbound email job. Typically a closure over
// river.Client.Insert; nil disables delivery.
type EnqueueEmailFunc func(ctx context.Context, args mailer.SendEmailArgs) error

// SessionMeta carries per-request transport details recorded into login history.
type SessionMeta struct {
	IP         string
	UserAgent  string
	RememberMe bool
}

// TokenPair is a freshly issued access+refresh credential pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	RefreshTTL   time.Duration
}

// SignUpParams is the typed sign-up input, validated by the handler.
type SignUpParams struct {
	Email            string
	Username         string
	Password         string
	Name             string
	Phone            string
	FarmName         string
	FarmSizeHectares *float64
	FarmerType       models.FarmerType
	Location         string
	RememberMe       bool
}

// ProfileParams is the typed profile-update input. Nil fields stay unchanged.
type ProfileParams struct {
	Name             *string
	Phone            *string
	FarmName         *string
	FarmSizeHectares *float64
	FarmerType       *models.FarmerType
	Location         *string
}

// Service orchestrates the account-session lifecycle: sign-up, sign-in,
// refresh rotation, sign-out, password change/reset, account deletion.
type Service interface {
	SignUp(ctx context.Context, p SignUpParams, meta SessionMeta) (*models.Account, *TokenPair, error)
	SignIn(ctx context.Context, email, password string, meta SessionMeta) (*models.Account, *TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (*models.Account, *TokenPair, error)
	SignOut(ctx context.Context, accountID uuid.UUID, refreshToken string) error
	SignOutAll(ctx context.Context, accountID uuid.UUID) error
	ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
	VerifyEmail(ctx context.Context, verificationToken string) error
	DeleteAccount(ctx context.Context, accountID uuid.UUID, password string) error
	Profile(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	UpdateProfile(ctx context.Context, accountID uuid.UUID, p ProfileParams) (*models.Account, error)
}

type service struct {
	accounts     AccountStore
	tokens       TokenStore
	signer       *token.Service
	enqueueEmail EnqueueEmailFunc
	bcryptCost   int
	rememberTTL  time.Duration
	resetTTL     time.Duration
	now          func() time.Time
}

// NewService wires the lifecycle manager. enqueueEmail may be nil.
func NewService(accounts AccountStore, tokens TokenStore, signer *token.Service, enqueueEmail EnqueueEmailFunc, bcryptCost int, rememberTTL, resetTTL time.Duration) *service {
	if bcryptCost == 0 {
		bcryptCost = 12
	}
	return &service{
		accounts:     accounts,
		tokens:       tokens,
		signer:       signer,
		enqueueEmail: enqueueEmail,
		bcryptCost:   bcryptCost,
		rememberTTL:  rememberTTL,
		resetTTL:     resetTTL,
		now:          time.Now,
	}
}

var _ Service = (*service)(nil)

func (s *service) SignUp(ctx context.Context, p SignUpParams, meta SessionMeta) (*models.Account, *TokenPair, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}
	acc := &models.Account{
		ID:               uuid.New(),
		Email:            p.Email,
		Username:         p.Username,
		PasswordHash:     string(hash),
		Name:             p.Name,
		Phone:            p.Phone,
		FarmName:         p.FarmName,
		FarmSizeHectares: p.FarmSizeHectares,
		FarmerType:       p.FarmerType,
		Location:         p.Location,
		SubscriptionTier: models.TierFree,
	}
	if err := s.accounts.Create(ctx, acc); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, nil, ErrEmailExists
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, nil, ErrUsernameExists
		}
		return nil, nil, err
	}

	pair, err := s.issuePair(ctx, acc, meta)
	if err != nil {
		return nil, nil, err
	}
	s.recordLogin(ctx, acc, meta)

	// The welcome email doubles as the verification email. Token delivery is
	// best effort; the account works unverified, just without the routes
	// gated on verification.
	if verifyToken, err := newSecretToken(); err == nil {
		if err := s.accounts.SetVerificationToken(ctx, acc.ID, hashSecretToken(verifyToken)); err == nil && s.enqueueEmail != nil {
			_ = s.enqueueEmail(ctx, mailer.SendEmailArgs{
				To:       acc.Email,
				Template: mailer.TemplateVerifyEmail,
				Data:     map[string]string{"username": acc.Username, "token": verifyToken},
			})
		}
	}
	return acc, pair, nil
}

// VerifyEmail consumes a verification token from the welcome email. Single
// use: the store flips the flag and clears the token atomically.
func (s *service) VerifyEmail(ctx context.Context, verificationToken string) error {
	if verificationToken == "" {
		return ErrInvalidVerificationToken
	}
	_, err := s.accounts.MarkEmailVerified(ctx, hashSecretToken(verificationToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidVerificationToken
		}
		return err
	}
	return nil
}

func (s *service) SignIn(ctx context.Context, email, password string, meta SessionMeta) (*models.Account, *TokenPair, error) {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a hash comparison anyway so unknown emails cost the same
			// as wrong passwords.
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !acc.IsActive {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, acc, meta)
	if err != nil {
		return nil, nil, err
	}
	s.recordLogin(ctx, acc, meta)
	return acc, pair, nil
}

func (s *service) Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (*models.Account, *TokenPair, error) {
	claims, err := s.signer.VerifyRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, nil, ErrRefreshTokenExpired
		}
		return nil, nil, ErrInvalidRefreshToken
	}
	accountID, err := token.SubjectID(claims.Subject)
	if err != nil {
		return nil, nil, ErrInvalidRefreshToken
	}
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Deleted account: nothing left for the token to authorize.
			return nil, nil, ErrInvalidRefreshToken
		}
		return nil, nil, err
	}

	// Sliding window: a remember-me token keeps its longer horizon across
	// rotations instead of degrading to the default on first refresh.
	ttl := s.signer.RefreshTTL()
	if claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) > ttl {
		ttl = s.rememberTTL
	}

	newRefresh, err := s.signer.IssueRefresh(acc, ttl)
	if err != nil {
		return nil, nil, err
	}
	err = s.tokens.Rotate(ctx, acc.ID, refreshToken, &models.RefreshToken{
		AccountID: acc.ID,
		Token:     newRefresh,
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(ttl),
	})
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			// Well signed but not in the live set: revoked or replayed.
			return nil, nil, ErrInvalidRefreshToken
		}
		return nil, nil, err
	}

	access, err := s.signer.IssueAccess(acc)
	if err != nil {
		return nil, nil, err
	}
	return acc, &TokenPair{AccessToken: access, RefreshToken: newRefresh, RefreshTTL: ttl}, nil
}

// SignOut removes one refresh token from the account's set. Idempotent: a
// token already absent is not an error.
func (s *service) SignOut(ctx context.Context, accountID uuid.UUID, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	err := s.tokens.Delete(ctx, accountID, refreshToken)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return nil
	}
	return err
}

// SignOutAll clears the account's entire refresh-token set, invalidating
// every other active session.
func (s *service) SignOutAll(ctx context.Context, accountID uuid.UUID) error {
	return s.tokens.DeleteAll(ctx, accountID)
}

func (s *service) ChangePassword(ctx context.Context, accountID uuid.UUID, current, next string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(current)); err != nil {
		return ErrInvalidCurrentPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, string(hash)); err != nil {
		return err
	}
	// Every session re-authenticates, including the one that made this request.
	return s.tokens.DeleteAll(ctx, accountID)
}

// ForgotPassword always succeeds from the caller's perspective. An unknown
// email does nothing; a known one gets a single-use token with a short
// expiry, overwriting any previous outstanding token.
func (s *service) ForgotPassword(ctx context.Context, email string) error {
	acc, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	resetToken, err := newSecretToken()
	if err != nil {
		return err
	}
	expiry := s.now().Add(s.resetTTL)
	if err := s.accounts.SetResetToken(ctx, acc.ID, hashSecretToken(resetToken), expiry); err != nil {
		return err
	}
	if s.enqueueEmail != nil {
		if err := s.enqueueEmail(ctx, mailer.SendEmailArgs{
			To:       acc.Email,
			Template: mailer.TemplatePasswordReset,
			Data:     map[string]string{"token": resetToken, "username": acc.Username},
		}); err != nil {
			return fmt.Errorf("enqueue reset email: %w", err)
		}
	}
	return nil
}

func (s *service) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	acc, err := s.accounts.GetByResetTokenHash(ctx, hashSecretToken(resetToken), s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, acc.ID, string(hash)); err != nil {
		return err
	}
	if err := s.accounts.ClearResetToken(ctx, acc.ID); err != nil {
		return err
	}
	return s.tokens.DeleteAll(ctx, acc.ID)
}

func (s *service) DeleteAccount(ctx context.Context, accountID uuid.UUID, password string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidPassword
	}
	if err := s.tokens.DeleteAll(ctx, accountID); err != nil {
		return err
	}
	return s.accounts.Delete(ctx, accountID)
}

func (s *service) Profile(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (s *service) UpdateProfile(ctx context.Context, accountID uuid.UUID, p ProfileParams) (*models.Account, error) {
	acc, err := s.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		acc.Name = *p.Name
	}
	if p.Phone != nil {
		acc.Phone = *p.Phone
	}
	if p.FarmName != nil {
		acc.FarmName = *p.FarmName
	}
	if p.FarmSizeHectares != nil {
		acc.FarmSizeHectares = p.FarmSizeHectares
	}
	if p.FarmerType != nil {
		acc.FarmerType = *p.FarmerType
	}
	if p.Location != nil {
		acc.Location = *p.Location
	}
	if err := s.accounts.UpdateProfile(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// issuePair mints an access+refresh pair and appends the refresh token to the
// account's live set.
func (s *service) issuePair(ctx context.Context, acc *models.Account, meta SessionMeta) (*TokenPair, error) {
	ttl := s.signer.RefreshTTL()
	if meta.RememberMe {
		ttl = s.rememberTTL
	}
	access, err := s.signer.IssueAccess(acc)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signer.IssueRefresh(acc, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Add(ctx, &models.RefreshToken{
		AccountID: acc.ID,
		Token:     refresh,
		UserAgent: meta.UserAgent,
		ExpiresAt: s.now().Add(ttl),
	}); err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh, RefreshTTL: ttl}, nil
}

// recordLogin appends login history and bumps last_login. Best effort: a
// history write failure never blocks authentication.
func (s *service) recordLogin(ctx context.Context, acc *models.Account, meta SessionMeta) {
	now := s.now()
	_ = s.accounts.RecordLogin(ctx, &models.LoginEntry{AccountID: acc.ID, IP: meta.IP, UserAgent: meta.UserAgent})
	_ = s.accounts.UpdateLastLogin(ctx, acc.ID, now)
	acc.LastLogin = &now
}

// dummyHash is a bcrypt hash of an unguessable value, compared against when
// the email is unknown so both sign-in failure paths cost one bcrypt.
var dummyHash = []byte("$2a$12$8Kte5cWdAZO3hbLJWdwQleYR4vnPvX3KGXpqGyGnWQXvBrLjYGh2e")

func newSecretToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashSecretToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
