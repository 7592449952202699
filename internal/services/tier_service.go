package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/commonfund/backend/internal/config"
)

// CreditTierEngine derives a borrower's tier from their full loan history.
// The tier is purely derived: recomputing at any time with the same history
// yields the same tier, and defaults affect it only through the inputs.
type CreditTierEngine struct {
	db     *sql.DB
	config *config.TierConfig
}

func NewCreditTierEngine(db *sql.DB, cfg *config.TierConfig) *CreditTierEngine {
	return &CreditTierEngine{db: db, config: cfg}
}

// ComputeTier maps completed-loan and late-payment counts to a tier in 1..5.
// Monotonic: more completions or fewer lates never produce a lower tier.
func (e *CreditTierEngine) ComputeTier(completedCount, lateCount int) int {
	for _, t := range e.config.Thresholds {
		if completedCount >= t.MinCompleted && lateCount <= t.MaxLate {
			return t.Tier
		}
	}
	return 1
}

// RecomputeForBorrowerTx recounts the borrower's history inside the caller's
// database transaction, updates the user's tier and credit limit, and appends
// one history row iff the tier changed.
func (e *CreditTierEngine) RecomputeForBorrowerTx(tx *sql.Tx, borrowerID, reason string) error {
	var completed, late int
	err := tx.QueryRow(`
		SELECT COUNT(*) FILTER (WHERE status = 'completed'),
		       COALESCE(SUM(late_payments) FILTER (WHERE status IN ('completed', 'defaulted')), 0)
		FROM loans
		WHERE borrower_id = $1`, borrowerID).Scan(&completed, &late)
	if err != nil {
		return err
	}

	// A defaulted loan counts its unpaid installments as late so defaults
	// lower the inputs without a separate penalty path.
	var defaultedMissed int
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(repayment_months - payments_made), 0)
		FROM loans
		WHERE borrower_id = $1 AND status = 'defaulted'`, borrowerID).Scan(&defaultedMissed)
	if err != nil {
		return err
	}
	late += defaultedMissed

	newTier := e.ComputeTier(completed, late)

	var currentTier int
	err = tx.QueryRow(`SELECT credit_tier FROM users WHERE id = $1 FOR UPDATE`, borrowerID).Scan(&currentTier)
	if err != nil {
		return err
	}

	if newTier == currentTier {
		return nil
	}

	limits := e.config.LimitsFor(newTier)
	_, err = tx.Exec(`
		UPDATE users SET credit_tier = $1, credit_limit = $2, updated_at = $3 WHERE id = $4`,
		newTier, limits.MaxAmount, time.Now(), borrowerID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO credit_tier_history (id, user_id, from_tier, to_tier, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), borrowerID, currentTier, newTier, reason, time.Now())
	if err != nil {
		return err
	}

	log.Printf("[TIER] Borrower %s moved from tier %d to %d (%s: %d completed, %d late)",
		borrowerID, currentTier, newTier, reason, completed, late)
	return nil
}

// RecomputeForBorrower runs the recompute in its own transaction.
func (e *CreditTierEngine) RecomputeForBorrower(borrowerID, reason string) error {
	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.RecomputeForBorrowerTx(tx, borrowerID, reason); err != nil {
		return fmt.Errorf("tier recompute for %s: %w", borrowerID, err)
	}

	return tx.Commit()
}
