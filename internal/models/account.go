package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Watershed transaction types. Every balance change on a watershed is
// explained by exactly one row carrying one of these types.
const (
	TxTypeCashContribution  = "cash_contribution"
	TxTypeAdCredit          = "ad_credit"
	TxTypeLoanFund          = "loan_fund"
	TxTypeLoanRefund        = "loan_refund"
	TxTypeLoanDisbursement  = "loan_disbursement"
	TxTypeLoanRepayment     = "loan_repayment"
	TxTypeRepaymentReceived = "loan_repayment_received"
	TxTypeSettlementCredit  = "settlement_credit"
	TxTypeAdjustment        = "adjustment"
)

// Watershed is a user's internal currency balance. Invariant:
// balance == total_inflow - total_outflow and balance >= 0.
type Watershed struct {
	UserID       string          `json:"user_id" db:"user_id"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	TotalInflow  decimal.Decimal `json:"total_inflow" db:"total_inflow"`
	TotalOutflow decimal.Decimal `json:"total_outflow" db:"total_outflow"`
	Version      int             `json:"version" db:"version"` // for optimistic locking
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// WatershedTransaction is an immutable ledger row. BalanceAfter is a snapshot
// taken at write time and is never recomputed or edited afterward.
type WatershedTransaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Type         string          `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed
	Description  string          `json:"description" db:"description"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
