package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Loan statuses. Transitions: funding -> funded -> active -> completed or
// defaulted; funding -> expired when the deadline passes unfunded.
const (
	LoanStatusFunding   = "funding"
	LoanStatusFunded    = "funded"
	LoanStatusActive    = "active"
	LoanStatusCompleted = "completed"
	LoanStatusDefaulted = "defaulted"
	LoanStatusExpired   = "expired"
)

type Loan struct {
	ID              string          `json:"id" db:"id"`
	BorrowerID      string          `json:"borrower_id" db:"borrower_id"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Purpose         string          `json:"purpose" db:"purpose"`
	Category        string          `json:"category" db:"category"`
	TotalShares     int             `json:"total_shares" db:"total_shares"`
	SharesRemaining int             `json:"shares_remaining" db:"shares_remaining"`
	MonthlyPayment  decimal.Decimal `json:"monthly_payment" db:"monthly_payment"`
	RepaymentMonths int             `json:"repayment_months" db:"repayment_months"`
	PaymentsMade    int             `json:"payments_made" db:"payments_made"`
	LatePayments    int             `json:"late_payments" db:"late_payments"`
	Status          string          `json:"status" db:"status"`
	FundingDeadline time.Time       `json:"funding_deadline" db:"funding_deadline"`
	DisbursedAt     *time.Time      `json:"disbursed_at,omitempty" db:"disbursed_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DefaultedAt     *time.Time      `json:"defaulted_at,omitempty" db:"defaulted_at"`
	LastPaymentAt   *time.Time      `json:"last_payment_at,omitempty" db:"last_payment_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// LoanShare records one lender's fixed-price stake in a loan. Refunded shares
// stay on file with refunded_at set; disbursed shares are never deleted.
type LoanShare struct {
	ID         string          `json:"id" db:"id"`
	LoanID     string          `json:"loan_id" db:"loan_id"`
	FunderID   string          `json:"funder_id" db:"funder_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	RefundedAt *time.Time      `json:"refunded_at,omitempty" db:"refunded_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// Loan health classifications derived by the risk monitor.
const (
	LoanHealthCurrent    = "current"
	LoanHealthLate       = "late"
	LoanHealthAtRisk     = "at_risk"
	LoanHealthDefaulted  = "defaulted"
	LoanHealthRecovering = "recovering"
)
