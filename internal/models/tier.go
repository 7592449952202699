package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TierLimits maps a credit tier to the borrowing policy it unlocks.
type TierLimits struct {
	Tier         int             `json:"tier"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	MaxMonths    int             `json:"max_months"`
	DeadlineDays int             `json:"deadline_days"`
}

// CreditTierHistory is an append-only record of tier changes. Rows are written
// only when a recompute actually moves the tier.
type CreditTierHistory struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	FromTier  int       `json:"from_tier" db:"from_tier"`
	ToTier    int       `json:"to_tier" db:"to_tier"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
