package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier is an account subscription tier. Tiers are totally ordered so gate
// checks can compare against a minimum.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierFree:       0,
	TierBasic:      1,
	TierPremium:    2,
	TierEnterprise: 3,
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t ranks at or above min. Unknown tiers rank with free.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// FarmerType classifies the account holder's operation. Opaque to the core
// except where a route restricts access to a subset.
type FarmerType string

const (
	FarmerSmallholder FarmerType = "smallholder"
	FarmerCommercial  FarmerType = "commercial"
	FarmerCooperative FarmerType = "cooperative"
	FarmerResearcher  FarmerType = "researcher"
)

type Account struct {
	ID                 uuid.UUID  `json:"id"`
	Email              string     `json:"email"`
	Username           string     `json:"username"`
	PasswordHash       string     `json:"-"`
	Name               string     `json:"name"`
	Phone              string     `json:"phone,omitempty"`
	FarmName           string     `json:"farm_name,omitempty"`
	FarmSizeHectares   *float64   `json:"farm_size_hectares,omitempty"`
	FarmerType         FarmerType `json:"farmer_type"`
	Location           string     `json:"location,omitempty"`
	SubscriptionTier   Tier       `json:"subscription_tier"`
	SubscriptionExpiry *time.Time `json:"subscription_expiry,omitempty"`
	EmailVerified      bool       `json:"email_verified"`
	PhoneVerified      bool       `json:"phone_verified"`
	FarmerVerified     bool       `json:"farmer_verified"`
	IsActive           bool       `json:"is_active"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SubscriptionExpired reports whether the account's paid subscription has
// lapsed. Accounts without an expiry never expire.
func (a *Account) SubscriptionExpired(now time.Time) bool {
	return a.SubscriptionExpiry != nil && a.SubscriptionExpiry.Before(now)
}

// RefreshToken is one member of an account's live refresh-token set. A row
// here is the sole stateful authorization condition for the refresh flow:
// a cryptographically valid token with no matching row is revoked.
type RefreshToken struct {
	AccountID uuid.UUID `json:"account_id"`
	Token     string    `json:"-"`
	UserAgent string    `json:"user_agent,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// LoginEntry is one row of an account's login history.
type LoginEntry struct {
	AccountID uuid.UUID `json:"account_id"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
}
