package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriassist/backend/internal/models"
)

var (
	// ErrNotFound is returned when no matching row exists.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an insert trips the email uniqueness constraint.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrDuplicateUsername is returned when an insert trips the username uniqueness constraint.
	ErrDuplicateUsername = errors.New("username already taken")
)

const accountColumns = `id, email, username, password_hash, name, phone, farm_name, farm_size_hectares,
	farmer_type, location, subscription_tier, subscription_expiry,
	email_verified, phone_verified, farmer_verified, is_active, last_login, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, username, password_hash, name, phone, farm_name, farm_size_hectares, farmer_type, location, subscription_tier, is_active)
		VALUES ($1, lower($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Username, a.PasswordHash, a.Name, a.Phone, a.FarmName, a.FarmSizeHectares, a.FarmerType, a.Location, a.SubscriptionTier).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return mapUniqueViolation(err)
	}
	a.Email = strings.ToLower(a.Email)
	a.IsActive = true
	return nil
}

// mapUniqueViolation translates a 23505 into the matching conflict error by
// constraint name; anything else passes through.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "email"):
			return ErrDuplicateEmail
		case strings.Contains(pgErr.ConstraintName, "username"):
			return ErrDuplicateUsername
		}
	}
	return err
}

func (r *AccountRepo) getBy(ctx context.Context, where string, arg any) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+where, arg,
	).Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Name, &a.Phone, &a.FarmName, &a.FarmSizeHectares,
		&a.FarmerType, &a.Location, &a.SubscriptionTier, &a.SubscriptionExpiry,
		&a.EmailVerified, &a.PhoneVerified, &a.FarmerVerified, &a.IsActive, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.getBy(ctx, "id = $1", id)
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getBy(ctx, "email = lower($1)", email)
}

// UpdateProfile writes the pass-through profile fields only. Credentials and
// subscription state have their own, narrower updates.
func (r *AccountRepo) UpdateProfile(ctx context.Context, a *models.Account) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET name = $2, phone = $3, farm_name = $4, farm_size_hectares = $5, farmer_type = $6, location = $7, updated_at = now()
		WHERE id = $1
	`, a.ID, a.Name, a.Phone, a.FarmName, a.FarmSizeHectares, a.FarmerType, a.Location)
	return err
}

func (r *AccountRepo) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	return err
}

func (r *AccountRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET last_login = $2, updated_at = now() WHERE id = $1
	`, id, at)
	return err
}

// SetResetToken overwrites the single outstanding reset token. The stored
// value is a SHA-256 hex of the token, never the token itself.
func (r *AccountRepo) SetResetToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = $2, reset_token_expiry = $3, updated_at = now() WHERE id = $1
	`, id, tokenHash, expiresAt)
	return err
}

// GetByResetTokenHash resolves an unexpired reset token to its account.
// Returns ErrNotFound for unknown and expired tokens alike.
func (r *AccountRepo) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts
		WHERE reset_token_hash = $1 AND reset_token_expiry > $2
	`, tokenHash, now).Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Name, &a.Phone, &a.FarmName, &a.FarmSizeHectares,
		&a.FarmerType, &a.Location, &a.SubscriptionTier, &a.SubscriptionExpiry,
		&a.EmailVerified, &a.PhoneVerified, &a.FarmerVerified, &a.IsActive, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// SetVerificationToken stores the hash of the emailed verification token.
func (r *AccountRepo) SetVerificationToken(ctx context.Context, id uuid.UUID, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET verification_token_hash = $2, updated_at = now() WHERE id = $1
	`, id, tokenHash)
	return err
}

// MarkEmailVerified consumes a verification token in a single statement:
// the flag flips and the token clears together, so a token verifies at most
// once. ErrNotFound means unknown or already-used.
func (r *AccountRepo) MarkEmailVerified(ctx context.Context, tokenHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		UPDATE accounts SET email_verified = TRUE, verification_token_hash = NULL, updated_at = now()
		WHERE verification_token_hash = $1
		RETURNING id
	`, tokenHash).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *AccountRepo) ClearResetToken(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *AccountRepo) RecordLogin(ctx context.Context, e *models.LoginEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO login_history (account_id, ip, user_agent)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, e.AccountID, e.IP, e.UserAgent).Scan(&e.CreatedAt)
}

// Delete removes the account row. refresh_tokens, usage_records and
// login_history cascade with it, so every outstanding token for this account
// becomes unauthorizable.
func (r *AccountRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
