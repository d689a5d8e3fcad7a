package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriassist/backend/internal/models"
)

// ErrTokenNotFound is returned when a refresh token is absent from the
// account's live set — revoked, rotated away, or never issued.
var ErrTokenNotFound = errors.New("refresh token not found")

// TokenRepo maintains the per-account refresh-token set. Every operation is
// a single conditional statement (or a short transaction built from them),
// never a read-modify-write of the whole set, so concurrent sessions cannot
// lose each other's updates.
type TokenRepo struct {
	pool *pgxpool.Pool
}

func NewTokenRepo(pool *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{pool: pool}
}

func (r *TokenRepo) Add(ctx context.Context, t *models.RefreshToken) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (account_id, token, user_agent, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, t.AccountID, t.Token, t.UserAgent, t.ExpiresAt).Scan(&t.CreatedAt)
}

// Delete removes one token. Returns ErrTokenNotFound when it was already
// absent so callers can decide whether absence matters (sign-out treats it
// as success, refresh treats it as revocation).
func (r *TokenRepo) Delete(ctx context.Context, accountID uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE account_id = $1 AND token = $2
	`, accountID, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// DeleteAll clears the account's entire set — sign-out-all, password change,
// password reset.
func (r *TokenRepo) DeleteAll(ctx context.Context, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE account_id = $1
	`, accountID)
	return err
}

// Rotate atomically replaces oldToken with newToken. The conditional delete
// is the serialization point: of N concurrent refreshes presenting the same
// old token, exactly one sees a deleted row and wins; the rest get
// ErrTokenNotFound and must be rejected as replays.
func (r *TokenRepo) Rotate(ctx context.Context, accountID uuid.UUID, oldToken string, newToken *models.RefreshToken) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM refresh_tokens WHERE account_id = $1 AND token = $2
		`, accountID, oldToken)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrTokenNotFound
		}
		return tx.QueryRow(ctx, `
			INSERT INTO refresh_tokens (account_id, token, user_agent, expires_at)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, newToken.AccountID, newToken.Token, newToken.UserAgent, newToken.ExpiresAt).Scan(&newToken.CreatedAt)
	})
}

// DeleteExpired prunes tokens whose signed lifetime has passed. Housekeeping
// only: verification never consults expires_at here, the claim inside the
// token is authoritative.
func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
