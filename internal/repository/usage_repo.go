package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agriassist/backend/internal/models"
)

// UsageRepo stores per-account, per-month usage counters. Increments are
// single upsert statements keyed by (account_id, month): the database applies
// them atomically, so interleaved requests can never lose an update.
type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

// column maps a usage category to its counter column. Categories come from
// the models enum, never from request input, so this cannot be injected into.
func column(cat models.UsageCategory) (string, error) {
	switch cat {
	case models.CategoryCropRecommendations:
		return "crop_recommendations", nil
	case models.CategoryImageProcessing:
		return "image_processing", nil
	case models.CategoryChatMessages:
		return "chat_messages", nil
	}
	return "", fmt.Errorf("unknown usage category %q", cat)
}

// Get returns the record for (accountID, month), or ErrNotFound when the
// account has no usage that month.
func (r *UsageRepo) Get(ctx context.Context, accountID uuid.UUID, month string) (*models.UsageRecord, error) {
	var u models.UsageRecord
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, month, crop_recommendations, image_processing, chat_messages,
		       limit_crop_recommendations, limit_image_processing, limit_chat_messages,
		       created_at, updated_at
		FROM usage_records WHERE account_id = $1 AND month = $2
	`, accountID, month).Scan(&u.AccountID, &u.Month,
		&u.Counters.CropRecommendations, &u.Counters.ImageProcessing, &u.Counters.ChatMessages,
		&u.Limits.CropRecommendations, &u.Limits.ImageProcessing, &u.Limits.ChatMessages,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Increment bumps one category's counter for the month, creating the record
// seeded at 1 with the given ceilings on first use. The ceilings in the ON
// CONFLICT branch are deliberately not updated: they stay frozen at whatever
// was in effect at first use that month.
func (r *UsageRepo) Increment(ctx context.Context, accountID uuid.UUID, month string, cat models.UsageCategory, limits models.Ceilings) (int, error) {
	col, err := column(cat)
	if err != nil {
		return 0, err
	}
	var count int
	err = r.pool.QueryRow(ctx, `
		INSERT INTO usage_records (account_id, month, `+col+`, limit_crop_recommendations, limit_image_processing, limit_chat_messages)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (account_id, month)
		DO UPDATE SET `+col+` = usage_records.`+col+` + 1, updated_at = now()
		RETURNING `+col+`
	`, accountID, month, limits.CropRecommendations, limits.ImageProcessing, limits.ChatMessages).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListForAccount returns the account's usage history, newest month first.
func (r *UsageRepo) ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.UsageRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT account_id, month, crop_recommendations, image_processing, chat_messages,
		       limit_crop_recommendations, limit_image_processing, limit_chat_messages,
		       created_at, updated_at
		FROM usage_records WHERE account_id = $1 ORDER BY month DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.UsageRecord
	for rows.Next() {
		var u models.UsageRecord
		if err := rows.Scan(&u.AccountID, &u.Month,
			&u.Counters.CropRecommendations, &u.Counters.ImageProcessing, &u.Counters.ChatMessages,
			&u.Limits.CropRecommendations, &u.Limits.ImageProcessing, &u.Limits.ChatMessages,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &u)
	}
	return list, rows.Err()
}
