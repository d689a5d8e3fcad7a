package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agriassist/backend/internal/models"
	"github.com/agriassist/backend/internal/repository"
)

// UsageStore is the counter storage surface. Increment must be atomic per
// (account, month, category) at the store; the tracker adds no locking of
// its own.
type UsageStore interface {
	Get(ctx context.Context, accountID uuid.UUID, month string) (*models.UsageRecord, error)
	Increment(ctx context.Context, accountID uuid.UUID, month string, cat models.UsageCategory, limits models.Ceilings) (int, error)
	ListForAccount(ctx context.Context, accountID uuid.UUID) ([]*models.UsageRecord, error)
}

// Tracker enforces monthly per-category ceilings determined by subscription
// tier at first use in the month.
type Tracker struct {
	store    UsageStore
	ceilings map[models.Tier]models.Ceilings
	now      func() time.Time
}

func NewTracker(store UsageStore, ceilings map[models.Tier]models.Ceilings) *Tracker {
	return &Tracker{store: store, ceilings: ceilings, now: time.Now}
}

// CeilingsFor returns the ceiling table entry for a tier. Unknown tiers get
// the free allowances.
func (t *Tracker) CeilingsFor(tier models.Tier) models.Ceilings {
	if c, ok := t.ceilings[tier]; ok {
		return c
	}
	return t.ceilings[models.TierFree]
}

// CurrentUsage returns the account's record for the current calendar month.
// A month with no usage yet yields a zero-valued record with the tier's
// ceilings; nothing is written — records materialize only on increment.
func (t *Tracker) CurrentUsage(ctx context.Context, acc *models.Account) (*models.UsageRecord, error) {
	month := models.MonthKey(t.now())
	rec, err := t.store.Get(ctx, acc.ID, month)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &models.UsageRecord{
				AccountID: acc.ID,
				Month:     month,
				Limits:    t.CeilingsFor(acc.SubscriptionTier),
			}, nil
		}
		return nil, err
	}
	return rec, nil
}

// HasExceeded reports whether the account has used up its allowance for the
// category this month. A negative ceiling means unmetered.
func (t *Tracker) HasExceeded(ctx context.Context, acc *models.Account, cat models.UsageCategory) (bool, error) {
	rec, err := t.CurrentUsage(ctx, acc)
	if err != nil {
		return false, err
	}
	limit := rec.Limits.For(cat)
	if limit < 0 {
		return false, nil
	}
	return rec.Count(cat) >= limit, nil
}

// Increment bumps the category counter for the current month, creating the
// record with the tier's ceilings on first use. Returns the new count.
func (t *Tracker) Increment(ctx context.Context, acc *models.Account, cat models.UsageCategory) (int, error) {
	if !cat.Valid() {
		return 0, fmt.Errorf("quota: unknown usage category %q", cat)
	}
	return t.store.Increment(ctx, acc.ID, models.MonthKey(t.now()), cat, t.CeilingsFor(acc.SubscriptionTier))
}

// History returns all of the account's monthly records, newest first. Past
// months are immutable; crossing a month boundary starts a fresh record
// without touching them.
func (t *Tracker) History(ctx context.Context, accountID uuid.UUID) ([]*models.UsageRecord, error) {
	return t.store.ListForAccount(ctx, accountID)
}
