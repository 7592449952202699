package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BatchStatusPending = "pending"
	BatchStatusCleared = "cleared"
)

// SettlementBatch aggregates unsettled ad-view revenue into one dated run.
// Invariant: the watershed credits written for the batch sum to
// TotalWatershedCredit, and every referenced ad view belongs to this batch only.
type SettlementBatch struct {
	ID                   string          `json:"id" db:"id"`
	BatchDate            time.Time       `json:"batch_date" db:"batch_date"`
	TotalGross           decimal.Decimal `json:"total_gross" db:"total_gross"`
	TotalPlatformCut     decimal.Decimal `json:"total_platform_cut" db:"total_platform_cut"`
	TotalWatershedCredit decimal.Decimal `json:"total_watershed_credit" db:"total_watershed_credit"`
	AdViewCount          int             `json:"ad_view_count" db:"ad_view_count"`
	Status               string          `json:"status" db:"status"`
	NetTermDays          int             `json:"net_term_days" db:"net_term_days"`
	ExpectedClearDate    time.Time       `json:"expected_clear_date" db:"expected_clear_date"`
	ClearedAt            *time.Time      `json:"cleared_at,omitempty" db:"cleared_at"`
	Notes                string          `json:"notes" db:"notes"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// AdView is one revenue-generating impression. SettlementBatchID is set when
// the event is claimed by a batch; a claimed event can never be claimed again.
type AdView struct {
	ID                string          `json:"id" db:"id"`
	UserID            string          `json:"user_id" db:"user_id"`
	GrossRevenue      decimal.Decimal `json:"gross_revenue" db:"gross_revenue"`
	SettlementBatchID *string         `json:"settlement_batch_id,omitempty" db:"settlement_batch_id"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}
