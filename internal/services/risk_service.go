package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/models"
)

// RiskService derives loan health from missed scheduled payments. It never
// mutates loans directly; default transitions are raised through the loan
// service, which re-reads the row under its own lock.
type RiskService struct {
	db     *sql.DB
	loans  *LoanService
	policy *config.PolicyConfig
}

func NewRiskService(db *sql.DB, loans *LoanService, policy *config.PolicyConfig) *RiskService {
	return &RiskService{
		db:     db,
		loans:  loans,
		policy: policy,
	}
}

// ScanResult summarizes one risk scan for dashboards and logs.
type ScanResult struct {
	Scanned    int `json:"scanned"`
	Late       int `json:"late"`
	AtRisk     int `json:"at_risk"`
	Defaulted  int `json:"defaulted"`
	Recovering int `json:"recovering"`
}

// Scan classifies every active and defaulted loan. Idempotent; safe to run
// concurrently with repayment recording because default transitions re-read
// the loan under lock.
func (rs *RiskService) Scan() (*ScanResult, error) {
	loans, err := rs.fetchMonitoredLoans()
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Scanned: len(loans)}
	for i := range loans {
		loan := &loans[i]
		switch rs.Classify(loan, time.Now()) {
		case models.LoanHealthLate:
			result.Late++
		case models.LoanHealthAtRisk:
			result.AtRisk++
		case models.LoanHealthRecovering:
			result.Recovering++
		case models.LoanHealthDefaulted:
			result.Defaulted++
			if loan.Status == models.LoanStatusActive {
				if err := rs.loans.MarkDefaulted(loan.ID); err != nil {
					log.Printf("[RISK] Default transition for loan %s failed: %v", loan.ID, err)
				}
			}
		}
	}

	log.Printf("[RISK] Scan: %d loans, %d late, %d at risk, %d defaulted, %d recovering",
		result.Scanned, result.Late, result.AtRisk, result.Defaulted, result.Recovering)
	return result, nil
}

// Classify maps one loan to a health bucket at the given instant.
func (rs *RiskService) Classify(loan *models.Loan, now time.Time) string {
	if loan.Status == models.LoanStatusDefaulted {
		if loan.LastPaymentAt != nil &&
			now.Sub(*loan.LastPaymentAt) <= time.Duration(rs.policy.RecoveryWindowDays)*24*time.Hour {
			return models.LoanHealthRecovering
		}
		return models.LoanHealthDefaulted
	}

	if loan.Status != models.LoanStatusActive || loan.DisbursedAt == nil {
		return models.LoanHealthCurrent
	}

	missed := rs.missedPayments(loan, now)
	switch {
	case missed >= rs.policy.DefaultThreshold:
		return models.LoanHealthDefaulted
	case missed >= 2:
		return models.LoanHealthAtRisk
	case missed == 1:
		return models.LoanHealthLate
	default:
		return models.LoanHealthCurrent
	}
}

// missedPayments counts installments whose due date plus grace has passed
// without a recorded payment. Installment n is due n months after disbursement.
func (rs *RiskService) missedPayments(loan *models.Loan, now time.Time) int {
	due := 0
	for n := 1; n <= loan.RepaymentMonths; n++ {
		deadline := loan.DisbursedAt.AddDate(0, n, 0).AddDate(0, 0, rs.policy.GraceDays)
		if deadline.After(now) {
			break
		}
		due++
	}
	missed := due - loan.PaymentsMade
	if missed < 0 {
		return 0
	}
	return missed
}

func (rs *RiskService) fetchMonitoredLoans() ([]models.Loan, error) {
	rows, err := rs.db.Query(`
		SELECT id, borrower_id, amount, purpose, category, total_shares, shares_remaining,
		       monthly_payment, repayment_months, payments_made, late_payments, status,
		       funding_deadline, disbursed_at, completed_at, defaulted_at, last_payment_at,
		       created_at, updated_at
		FROM loans
		WHERE status IN ('active', 'defaulted')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loans := []models.Loan{}
	for rows.Next() {
		var loan models.Loan
		err := rows.Scan(
			&loan.ID, &loan.BorrowerID, &loan.Amount, &loan.Purpose, &loan.Category,
			&loan.TotalShares, &loan.SharesRemaining, &loan.MonthlyPayment, &loan.RepaymentMonths,
			&loan.PaymentsMade, &loan.LatePayments, &loan.Status, &loan.FundingDeadline,
			&loan.DisbursedAt, &loan.CompletedAt, &loan.DefaultedAt, &loan.LastPaymentAt,
			&loan.CreatedAt, &loan.UpdatedAt)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}

// GetAtRiskLoans groups monitored loans by health status
// @Summary Get at-risk loans
// @Description Group active and defaulted loans by health classification (admin only)
// @Tags risk
// @Produce json
// @Success 200 {object} object{groups=map[string][]models.Loan,counts=map[string]int}
// @Failure 500 {object} ErrorResponse
// @Router /loans/at-risk [get]
func (rs *RiskService) GetAtRiskLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := rs.fetchMonitoredLoans()
	if err != nil {
		log.Printf("[RISK] Failed to fetch monitored loans: %v", err)
		SendErrorResponse(w, "Failed to fetch at-risk loans", http.StatusInternalServerError, nil)
		return
	}

	now := time.Now()
	groups := map[string][]models.Loan{}
	counts := map[string]int{}
	for _, loan := range loans {
		health := rs.Classify(&loan, now)
		if health == models.LoanHealthCurrent {
			continue
		}
		groups[health] = append(groups[health], loan)
		counts[health]++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups": groups,
		"counts": counts,
	})
}
