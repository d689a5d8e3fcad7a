package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageCategory names one of the metered API categories.
type UsageCategory string

const (
	CategoryCropRecommendations UsageCategory = "crop_recommendations"
	CategoryImageProcessing     UsageCategory = "image_processing"
	CategoryChatMessages        UsageCategory = "chat_messages"
)

// Valid reports whether c is a known usage category.
func (c UsageCategory) Valid() bool {
	switch c {
	case CategoryCropRecommendations, CategoryImageProcessing, CategoryChatMessages:
		return true
	}
	return false
}

// Ceilings holds the per-category monthly allowances for one tier.
// Unlimited is -1.
type Ceilings struct {
	CropRecommendations int `json:"crop_recommendations" yaml:"crop_recommendations"`
	ImageProcessing     int `json:"image_processing" yaml:"image_processing"`
	ChatMessages        int `json:"chat_messages" yaml:"chat_messages"`
}

// For returns the ceiling for one category.
func (c Ceilings) For(cat UsageCategory) int {
	switch cat {
	case CategoryCropRecommendations:
		return c.CropRecommendations
	case CategoryImageProcessing:
		return c.ImageProcessing
	case CategoryChatMessages:
		return c.ChatMessages
	}
	return 0
}

// UsageRecord is one account's counters for one calendar month. The ceilings
// are frozen at the record's creation, so a mid-month tier change does not
// retroactively rewrite an in-flight month.
type UsageRecord struct {
	AccountID uuid.UUID `json:"account_id"`
	Month     string    `json:"month"` // YYYY-MM, UTC
	Counters  Ceilings  `json:"counters"`
	Limits    Ceilings  `json:"limits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Count returns the counter for one category.
func (u *UsageRecord) Count(cat UsageCategory) int {
	return u.Counters.For(cat)
}

// MonthKey formats t's calendar month as the usage-record key (UTC).
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
