package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commonfund/backend/internal/audit"
	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/database"
	"github.com/commonfund/backend/internal/models"
)

var (
	ErrLoanNotFound       = errors.New("loan not found")
	ErrLoanNotFunding     = errors.New("loan is not open for funding")
	ErrNotFunded          = errors.New("loan is not fully funded")
	ErrAlreadyDisbursed   = errors.New("loan already disbursed")
	ErrLoanNotActive      = errors.New("loan is not active")
	ErrSelfFunding        = errors.New("borrowers cannot fund their own loan")
	ErrAmountNotDivisible = errors.New("amount must be a multiple of the share price")
	ErrExceedsCreditLimit = errors.New("amount or term exceeds the borrower's credit tier limits")
)

// LoanService owns the loan state machine: funding -> funded -> active ->
// completed/defaulted, with funding -> expired on deadline. All money movement
// goes through the watershed ledger's atomic primitives against the pooled
// loan account.
type LoanService struct {
	db          *sql.DB
	redis       *redis.Client
	ledger      *WatershedLedgerService
	tiers       *CreditTierEngine
	audit       *audit.Logger
	validator   *ValidationHelper
	policy      *config.PolicyConfig
	tierConfig  *config.TierConfig
	poolAccount string
}

func NewLoanService(db *sql.DB, rdb *redis.Client, ledger *WatershedLedgerService, tiers *CreditTierEngine, policy *config.PolicyConfig, tierConfig *config.TierConfig) *LoanService {
	poolAccount := "loan-pool"
	if envAccount := os.Getenv("LOAN_POOL_ACCOUNT"); envAccount != "" {
		poolAccount = envAccount
	}
	return &LoanService{
		db:          db,
		redis:       rdb,
		ledger:      ledger,
		tiers:       tiers,
		audit:       audit.NewLogger(),
		validator:   NewValidationHelper(),
		policy:      policy,
		tierConfig:  tierConfig,
		poolAccount: poolAccount,
	}
}

// CreateLoan opens a new loan request in funding state. The share count and
// funding deadline are derived from the share price and the borrower's tier.
func (ls *LoanService) CreateLoan(borrowerID string, amount decimal.Decimal, purpose, category string, months int) (*models.Loan, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if !amount.Mod(ls.policy.SharePrice).IsZero() {
		return nil, ErrAmountNotDivisible
	}

	var tier int
	err := ls.db.QueryRow(`SELECT credit_tier FROM users WHERE id = $1`, borrowerID).Scan(&tier)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	limits := ls.tierConfig.LimitsFor(tier)
	if amount.GreaterThan(limits.MaxAmount) || months < 1 || months > limits.MaxMonths {
		return nil, ErrExceedsCreditLimit
	}

	totalShares := int(amount.Div(ls.policy.SharePrice).IntPart())
	now := time.Now()
	loan := &models.Loan{
		ID:              uuid.New().String(),
		BorrowerID:      borrowerID,
		Amount:          amount,
		Purpose:         purpose,
		Category:        category,
		TotalShares:     totalShares,
		SharesRemaining: totalShares,
		MonthlyPayment:  amount.Div(decimal.NewFromInt(int64(months))).Round(2),
		RepaymentMonths: months,
		Status:          models.LoanStatusFunding,
		FundingDeadline: now.AddDate(0, 0, limits.DeadlineDays),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = ls.db.Exec(`
		INSERT INTO loans
		(id, borrower_id, amount, purpose, category, total_shares, shares_remaining,
		 monthly_payment, repayment_months, payments_made, late_payments, status,
		 funding_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, 0, $10, $11, $12, $12)`,
		loan.ID, loan.BorrowerID, loan.Amount, loan.Purpose, loan.Category,
		loan.TotalShares, loan.SharesRemaining, loan.MonthlyPayment, loan.RepaymentMonths,
		loan.Status, loan.FundingDeadline, now)
	if err != nil {
		return nil, err
	}

	log.Printf("[LOAN] Created loan %s for %s: %s over %d months (%d shares)",
		loan.ID, borrowerID, amount.StringFixed(2), months, totalShares)
	return loan, nil
}

// FundShare claims one share of a funding loan for the funder. The share claim
// is a guarded decrement inside the same database transaction as the funder's
// debit, so concurrent funders of the last share race to exactly one winner.
func (ls *LoanService) FundShare(loanID, funderID string) (*models.LoanShare, error) {
	tx, err := ls.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var borrowerID, status string
	var sharesRemaining int
	err = tx.QueryRow(`
		UPDATE loans
		SET shares_remaining = shares_remaining - 1,
		    status = CASE WHEN shares_remaining = 1 THEN 'funded' ELSE status END,
		    updated_at = $2
		WHERE id = $1 AND status = 'funding' AND shares_remaining > 0
		RETURNING borrower_id, shares_remaining, status`,
		loanID, time.Now()).Scan(&borrowerID, &sharesRemaining, &status)

	if err == sql.ErrNoRows {
		// Distinguish a missing loan from one that is no longer fundable
		var exists bool
		if scanErr := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM loans WHERE id = $1)`, loanID).Scan(&exists); scanErr != nil {
			return nil, scanErr
		}
		if !exists {
			return nil, ErrLoanNotFound
		}
		return nil, ErrLoanNotFunding
	}
	if err != nil {
		return nil, err
	}

	if borrowerID == funderID {
		return nil, ErrSelfFunding
	}

	share := &models.LoanShare{
		ID:        uuid.New().String(),
		LoanID:    loanID,
		FunderID:  funderID,
		Amount:    ls.policy.SharePrice,
		CreatedAt: time.Now(),
	}

	desc := fmt.Sprintf("Loan share purchase for loan %s", loanID)
	if err := ls.ledger.TransferTx(tx, funderID, ls.poolAccount, share.Amount, models.TxTypeLoanFund, desc); err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO loan_shares (id, loan_id, funder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		share.ID, share.LoanID, share.FunderID, share.Amount, share.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if status == models.LoanStatusFunded {
		log.Printf("[LOAN] Loan %s fully funded", loanID)
	}
	return share, nil
}

// refundFailure is the dead-letter payload pushed when one loan's expiry
// refund rolls back. The loan stays in funding state and the next sweep
// retries it.
type refundFailure struct {
	LoanID   string    `json:"loan_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ExpireOverdueLoans refunds every share of each loan still funding past its
// deadline and marks the loan expired. Each loan is one database transaction;
// one loan's failure never blocks the rest of the sweep.
func (ls *LoanService) ExpireOverdueLoans() (int, error) {
	rows, err := ls.db.Query(`
		SELECT id FROM loans
		WHERE status = 'funding' AND funding_deadline < $1
		ORDER BY funding_deadline`, time.Now())
	if err != nil {
		return 0, err
	}

	var loanIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		loanIDs = append(loanIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	expired := 0
	for _, loanID := range loanIDs {
		if err := ls.expireLoan(loanID); err != nil {
			log.Printf("[LOAN] Expiry of loan %s failed, queued for retry: %v", loanID, err)
			ls.deadLetterRefund(loanID, err)
			continue
		}
		expired++
	}

	if len(loanIDs) > 0 {
		log.Printf("[LOAN] Expiry sweep: %d/%d overdue loans expired", expired, len(loanIDs))
	}
	return expired, nil
}

func (ls *LoanService) expireLoan(loanID string) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Re-check under lock; a concurrent funder may have completed funding
	var status string
	var deadline time.Time
	err = tx.QueryRow(`
		SELECT status, funding_deadline FROM loans WHERE id = $1 FOR UPDATE`,
		loanID).Scan(&status, &deadline)
	if err != nil {
		return err
	}
	if status != models.LoanStatusFunding || deadline.After(time.Now()) {
		return nil
	}

	shareRows, err := tx.Query(`
		SELECT id, funder_id, amount FROM loan_shares
		WHERE loan_id = $1 AND refunded_at IS NULL
		ORDER BY funder_id`, loanID)
	if err != nil {
		return err
	}

	type shareRow struct {
		id       string
		funderID string
		amount   decimal.Decimal
	}
	var shares []shareRow
	for shareRows.Next() {
		var sr shareRow
		if err := shareRows.Scan(&sr.id, &sr.funderID, &sr.amount); err != nil {
			shareRows.Close()
			return err
		}
		shares = append(shares, sr)
	}
	shareRows.Close()
	if err := shareRows.Err(); err != nil {
		return err
	}

	// Pool first, same lock order as repayment distribution
	if _, err := ls.ledger.lockWatershed(tx, ls.poolAccount); err != nil && err != sql.ErrNoRows {
		return err
	}

	now := time.Now()
	for _, sr := range shares {
		desc := fmt.Sprintf("Refund for expired loan %s", loanID)
		if err := ls.ledger.TransferTx(tx, ls.poolAccount, sr.funderID, sr.amount, models.TxTypeLoanRefund, desc); err != nil {
			return fmt.Errorf("refund to %s failed: %w", sr.funderID, err)
		}
		if _, err := tx.Exec(`UPDATE loan_shares SET refunded_at = $1 WHERE id = $2`, now, sr.id); err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		UPDATE loans SET status = 'expired', updated_at = $1 WHERE id = $2`,
		now, loanID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ls.audit.LogOperation(loanID, "", "LOAN_EXPIRED", fmt.Sprintf("Refunded %d shares", len(shares)))
	return nil
}

func (ls *LoanService) deadLetterRefund(loanID string, cause error) {
	if ls.redis == nil {
		return
	}
	payload, err := json.Marshal(refundFailure{LoanID: loanID, Error: cause.Error(), FailedAt: time.Now()})
	if err != nil {
		return
	}
	if err := ls.redis.RPush(context.Background(), database.RedisKeyRefundDeadLetter, string(payload)).Err(); err != nil {
		log.Printf("[LOAN] Failed to dead-letter refund for loan %s: %v", loanID, err)
	}
}

// Disburse moves the pooled amount to the borrower and activates the loan.
// The status check and the transition run under the same row lock, which makes
// a double disbursement impossible.
func (ls *LoanService) Disburse(loanID, adminID, notes string) (*models.Loan, error) {
	tx, err := ls.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	loan, err := ls.lockLoan(tx, loanID)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	if loan.Status != models.LoanStatusFunded {
		if loan.DisbursedAt != nil {
			return nil, ErrAlreadyDisbursed
		}
		return nil, ErrNotFunded
	}

	desc := fmt.Sprintf("Disbursement of loan %s", loanID)
	if notes != "" {
		desc = desc + ": " + notes
	}
	if err := ls.ledger.TransferTx(tx, ls.poolAccount, loan.BorrowerID, loan.Amount, models.TxTypeLoanDisbursement, desc); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE loans SET status = 'active', disbursed_at = $1, updated_at = $1 WHERE id = $2`,
		now, loanID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	loan.Status = models.LoanStatusActive
	loan.DisbursedAt = &now
	loan.UpdatedAt = now

	ls.audit.LogOperation(loanID, adminID, "LOAN_DISBURSED", loan.Amount.StringFixed(2))
	log.Printf("[LOAN] Loan %s disbursed to %s by %s", loanID, loan.BorrowerID, adminID)
	return loan, nil
}

// RecordRepayment moves one installment from the borrower into the pool and
// credits every active share holder its slice in the same database
// transaction, so the pool nets to zero per installment. Payments on a
// defaulted loan are accepted as recovery payments.
func (ls *LoanService) RecordRepayment(loanID string, amount decimal.Decimal) (*models.Loan, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	tx, err := ls.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	loan, err := ls.lockLoan(tx, loanID)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}

	if loan.Status != models.LoanStatusActive && loan.Status != models.LoanStatusDefaulted {
		return nil, ErrLoanNotActive
	}

	// The pool is the first watershed row locked in every multi-transfer
	// transaction; expiry refunds take the same lock first.
	if _, err := ls.ledger.lockWatershed(tx, ls.poolAccount); err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	desc := fmt.Sprintf("Repayment %d/%d for loan %s", loan.PaymentsMade+1, loan.RepaymentMonths, loanID)
	if err := ls.ledger.TransferTx(tx, loan.BorrowerID, ls.poolAccount, amount, models.TxTypeLoanRepayment, desc); err != nil {
		return nil, err
	}

	if err := ls.distributeToLenders(tx, loan, amount); err != nil {
		return nil, err
	}

	now := time.Now()
	loan.PaymentsMade++
	loan.LastPaymentAt = &now

	// Installment n is due n months after disbursement; past-due payments
	// beyond the grace window count as late.
	if loan.DisbursedAt != nil {
		due := loan.DisbursedAt.AddDate(0, loan.PaymentsMade, 0).AddDate(0, 0, ls.policy.GraceDays)
		if now.After(due) {
			loan.LatePayments++
		}
	}

	completed := loan.Status == models.LoanStatusActive && loan.PaymentsMade >= loan.RepaymentMonths
	if completed {
		loan.Status = models.LoanStatusCompleted
		loan.CompletedAt = &now
	}

	_, err = tx.Exec(`
		UPDATE loans
		SET payments_made = $1, late_payments = $2, status = $3,
		    completed_at = $4, last_payment_at = $5, updated_at = $5
		WHERE id = $6`,
		loan.PaymentsMade, loan.LatePayments, loan.Status, loan.CompletedAt, now, loanID)
	if err != nil {
		return nil, err
	}

	if completed {
		if err := ls.tiers.RecomputeForBorrowerTx(tx, loan.BorrowerID, "loan_completed"); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	if completed {
		log.Printf("[LOAN] Loan %s completed after %d payments (%d late)", loanID, loan.PaymentsMade, loan.LatePayments)
	}
	return loan, nil
}

// distributeToLenders splits a repayment across active shares. Shares are
// equal-priced, so the split is equal with any rounding remainder going to the
// first funder in order, keeping the credited sum exactly equal to the debit.
func (ls *LoanService) distributeToLenders(tx *sql.Tx, loan *models.Loan, amount decimal.Decimal) error {
	rows, err := tx.Query(`
		SELECT funder_id FROM loan_shares
		WHERE loan_id = $1 AND refunded_at IS NULL
		ORDER BY funder_id`, loan.ID)
	if err != nil {
		return err
	}

	var funders []string
	for rows.Next() {
		var funderID string
		if err := rows.Scan(&funderID); err != nil {
			rows.Close()
			return err
		}
		funders = append(funders, funderID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(funders) == 0 {
		return fmt.Errorf("loan %s has no active shares to repay", loan.ID)
	}
	sort.Strings(funders)

	n := decimal.NewFromInt(int64(len(funders)))
	base := amount.Div(n).RoundDown(2)
	remainder := amount.Sub(base.Mul(n))

	desc := fmt.Sprintf("Repayment distribution for loan %s", loan.ID)
	for i, funderID := range funders {
		slice := base
		if i == 0 {
			slice = slice.Add(remainder)
		}
		if slice.LessThanOrEqual(decimal.Zero) {
			continue
		}
		if err := ls.ledger.TransferTx(tx, ls.poolAccount, funderID, slice, models.TxTypeRepaymentReceived, desc); err != nil {
			return err
		}
	}
	return nil
}

// MarkDefaulted transitions an active loan to defaulted. Invoked by the risk
// monitor; idempotent for loans already past the transition.
func (ls *LoanService) MarkDefaulted(loanID string) error {
	tx, err := ls.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	loan, err := ls.lockLoan(tx, loanID)
	if err == sql.ErrNoRows {
		return ErrLoanNotFound
	}
	if err != nil {
		return err
	}

	if loan.Status == models.LoanStatusDefaulted {
		return nil
	}
	if loan.Status != models.LoanStatusActive {
		return ErrLoanNotActive
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE loans SET status = 'defaulted', defaulted_at = $1, updated_at = $1 WHERE id = $2`,
		now, loanID)
	if err != nil {
		return err
	}

	if err := ls.tiers.RecomputeForBorrowerTx(tx, loan.BorrowerID, "loan_defaulted"); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ls.audit.LogOperation(loanID, loan.BorrowerID, "LOAN_DEFAULTED", fmt.Sprintf("%d payments made, %d late", loan.PaymentsMade, loan.LatePayments))
	return nil
}

func (ls *LoanService) lockLoan(tx *sql.Tx, loanID string) (*models.Loan, error) {
	var loan models.Loan
	err := tx.QueryRow(`
		SELECT id, borrower_id, amount, purpose, category, total_shares, shares_remaining,
		       monthly_payment, repayment_months, payments_made, late_payments, status,
		       funding_deadline, disbursed_at, completed_at, defaulted_at, last_payment_at,
		       created_at, updated_at
		FROM loans
		WHERE id = $1
		FOR UPDATE`, loanID).Scan(
		&loan.ID, &loan.BorrowerID, &loan.Amount, &loan.Purpose, &loan.Category,
		&loan.TotalShares, &loan.SharesRemaining, &loan.MonthlyPayment, &loan.RepaymentMonths,
		&loan.PaymentsMade, &loan.LatePayments, &loan.Status, &loan.FundingDeadline,
		&loan.DisbursedAt, &loan.CompletedAt, &loan.DefaultedAt, &loan.LastPaymentAt,
		&loan.CreatedAt, &loan.UpdatedAt)
	return &loan, err
}

// GetLoan fetches a loan without locking.
func (ls *LoanService) GetLoan(loanID string) (*models.Loan, error) {
	var loan models.Loan
	err := ls.db.QueryRow(`
		SELECT id, borrower_id, amount, purpose, category, total_shares, shares_remaining,
		       monthly_payment, repayment_months, payments_made, late_payments, status,
		       funding_deadline, disbursed_at, completed_at, defaulted_at, last_payment_at,
		       created_at, updated_at
		FROM loans
		WHERE id = $1`, loanID).Scan(
		&loan.ID, &loan.BorrowerID, &loan.Amount, &loan.Purpose, &loan.Category,
		&loan.TotalShares, &loan.SharesRemaining, &loan.MonthlyPayment, &loan.RepaymentMonths,
		&loan.PaymentsMade, &loan.LatePayments, &loan.Status, &loan.FundingDeadline,
		&loan.DisbursedAt, &loan.CompletedAt, &loan.DefaultedAt, &loan.LastPaymentAt,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// HTTP handlers

// CreateLoanHandler opens a loan request
// @Summary Create a loan
// @Description Open a new loan request in funding state
// @Tags loans
// @Accept json
// @Produce json
// @Param loan body object{amount=string,purpose=string,category=string,repayment_months=int} true "Loan request"
// @Success 201 {object} models.Loan
// @Failure 400 {object} ErrorResponse
// @Router /loans [post]
func (ls *LoanService) CreateLoanHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount          decimal.Decimal `json:"amount"`
		Purpose         string          `json:"purpose" validate:"required,max=200"`
		Category        string          `json:"category" validate:"max=50"`
		RepaymentMonths int             `json:"repayment_months" validate:"required,min=1"`
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	loan, err := ls.CreateLoan(userID, req.Amount, req.Purpose, req.Category, req.RepaymentMonths)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount):
			SendConflictResponse(w, "Amount must be greater than zero", "InvalidAmount", http.StatusBadRequest)
		case errors.Is(err, ErrAmountNotDivisible):
			SendConflictResponse(w, "Amount must be a multiple of the share price", "InvalidAmount", http.StatusBadRequest)
		case errors.Is(err, ErrExceedsCreditLimit):
			SendConflictResponse(w, "Amount or term exceeds your credit tier limits", "ExceedsCreditLimit", http.StatusBadRequest)
		default:
			log.Printf("[LOAN] Create failed for %s: %v", userID, err)
			SendErrorResponse(w, "Failed to create loan", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(loan)
}

// FundShareHandler buys one share of a funding loan
// @Summary Fund a loan share
// @Description Purchase one fixed-price share of a loan that is open for funding
// @Tags loans
// @Produce json
// @Param loanId path string true "Loan ID"
// @Success 201 {object} models.LoanShare
// @Failure 402 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /loans/{loanId}/shares [post]
func (ls *LoanService) FundShareHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	loanID := chi.URLParam(r, "loanId")

	share, err := ls.FundShare(loanID, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrLoanNotFound):
			SendConflictResponse(w, "Loan not found", "LoanNotFound", http.StatusNotFound)
		case errors.Is(err, ErrLoanNotFunding):
			SendConflictResponse(w, "Loan is not open for funding", "LoanNotFunding", http.StatusConflict)
		case errors.Is(err, ErrSelfFunding):
			SendConflictResponse(w, "You cannot fund your own loan", "SelfFunding", http.StatusConflict)
		case errors.Is(err, ErrInsufficientFunds):
			SendConflictResponse(w, "Insufficient watershed balance", "InsufficientFunds", http.StatusPaymentRequired)
		case errors.Is(err, ErrAccountNotFound):
			SendConflictResponse(w, "No watershed account to fund from", "InsufficientFunds", http.StatusPaymentRequired)
		default:
			log.Printf("[LOAN] Funding of %s by %s failed: %v", loanID, userID, err)
			SendErrorResponse(w, "Failed to fund share", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(share)
}

// DisburseHandler releases pooled funds to the borrower
// @Summary Disburse a funded loan
// @Description Transfer the pooled share amount to the borrower's watershed (admin only)
// @Tags loans
// @Accept json
// @Produce json
// @Param loanId path string true "Loan ID"
// @Param disbursement body object{notes=string} false "Disbursement notes"
// @Success 200 {object} models.Loan
// @Failure 409 {object} ErrorResponse
// @Router /loans/{loanId}/disburse [post]
func (ls *LoanService) DisburseHandler(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value("userID").(string)
	loanID := chi.URLParam(r, "loanId")

	var req struct {
		Notes string `json:"notes"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	loan, err := ls.Disburse(loanID, adminID, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, ErrLoanNotFound):
			SendConflictResponse(w, "Loan not found", "LoanNotFound", http.StatusNotFound)
		case errors.Is(err, ErrAlreadyDisbursed):
			SendConflictResponse(w, "Loan already disbursed", "AlreadyDisbursed", http.StatusConflict)
		case errors.Is(err, ErrNotFunded):
			SendConflictResponse(w, "No pledged allocations to disburse", "NotFunded", http.StatusConflict)
		default:
			log.Printf("[LOAN] Disbursement of %s failed: %v", loanID, err)
			SendErrorResponse(w, "Failed to disburse loan", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

// RepaymentHandler records one installment
// @Summary Record a repayment
// @Description Debit the borrower for one installment and distribute it to share holders
// @Tags loans
// @Accept json
// @Produce json
// @Param loanId path string true "Loan ID"
// @Param repayment body object{amount=string} true "Installment amount"
// @Success 200 {object} models.Loan
// @Failure 409 {object} ErrorResponse
// @Router /loans/{loanId}/repayments [post]
func (ls *LoanService) RepaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanId")

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	loan, err := ls.RecordRepayment(loanID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrLoanNotFound):
			SendConflictResponse(w, "Loan not found", "LoanNotFound", http.StatusNotFound)
		case errors.Is(err, ErrLoanNotActive):
			SendConflictResponse(w, "Loan is not active", "LoanNotActive", http.StatusConflict)
		case errors.Is(err, ErrInvalidAmount):
			SendConflictResponse(w, "Amount must be greater than zero", "InvalidAmount", http.StatusBadRequest)
		case errors.Is(err, ErrInsufficientFunds):
			SendConflictResponse(w, "Insufficient watershed balance", "InsufficientFunds", http.StatusPaymentRequired)
		default:
			log.Printf("[LOAN] Repayment on %s failed: %v", loanID, err)
			SendErrorResponse(w, "Failed to record repayment", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

// GetLoanHandler fetches one loan
// @Summary Get loan by ID
// @Tags loans
// @Produce json
// @Param loanId path string true "Loan ID"
// @Success 200 {object} models.Loan
// @Failure 404 {object} ErrorResponse
// @Router /loans/{loanId} [get]
func (ls *LoanService) GetLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanId")

	loan, err := ls.GetLoan(loanID)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			SendConflictResponse(w, "Loan not found", "LoanNotFound", http.StatusNotFound)
		} else {
			SendErrorResponse(w, "Failed to fetch loan", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loan)
}

// ListLoansHandler lists loans with optional filters
// @Summary List loans
// @Tags loans
// @Produce json
// @Param status query string false "Filter by status"
// @Param borrowerId query string false "Filter by borrower"
// @Success 200 {object} object{loans=[]models.Loan,count=int}
// @Router /loans [get]
func (ls *LoanService) ListLoansHandler(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	borrowerID := r.URL.Query().Get("borrowerId")

	query := `
		SELECT id, borrower_id, amount, purpose, category, total_shares, shares_remaining,
		       monthly_payment, repayment_months, payments_made, late_payments, status,
		       funding_deadline, disbursed_at, completed_at, defaulted_at, last_payment_at,
		       created_at, updated_at
		FROM loans
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR borrower_id = $2)
		ORDER BY created_at DESC
		LIMIT 100`

	rows, err := ls.db.Query(query, status, borrowerID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
		return
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
			SendErrorResponse(w, "Failed to fetch loans", http.StatusInternalServerError, nil)
			return
		}
		loans = append(loans, loan)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"loans": loans,
		"count": len(loans),
	})
}
