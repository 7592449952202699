package services

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/database"
	"github.com/commonfund/backend/internal/models"
)

func newLoanServiceForTest(db *sql.DB) *LoanService {
	policy := config.LoadPolicyConfig()
	tierConfig := config.LoadTierConfig()
	ledger := NewWatershedLedgerService(db)
	tiers := NewCreditTierEngine(db, tierConfig)
	return NewLoanService(db, nil, ledger, tiers, policy, tierConfig)
}

var watershedCols = []string{"user_id", "balance", "total_inflow", "total_outflow", "version", "created_at", "updated_at"}

var loanCols = []string{
	"id", "borrower_id", "amount", "purpose", "category", "total_shares", "shares_remaining",
	"monthly_payment", "repayment_months", "payments_made", "late_payments", "status",
	"funding_deadline", "disbursed_at", "completed_at", "defaulted_at", "last_payment_at",
	"created_at", "updated_at",
}

func expectWatershedLock(mock sqlmock.Sqlmock, userID, balance string, version int) {
	now := time.Now()
	mock.ExpectQuery("FROM watersheds").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(watershedCols).
			AddRow(userID, balance, balance, "0", version, now, now))
}

func expectLedgerWrite(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO watershed_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE watersheds").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestLoanService_CreateLoan(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)

	t.Run("amount must align to share price", func(t *testing.T) {
		_, err := service.CreateLoan("borrower1", decimal.RequireFromString("125.50"), "seed capital", "agriculture", 6)
		assert.ErrorIs(t, err, ErrAmountNotDivisible)
	})

	t.Run("tier limits cap amount and term", func(t *testing.T) {
		// Tier 1 caps at 250 over 6 months
		mock.ExpectQuery("SELECT credit_tier FROM users").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_tier"}).AddRow(1))

		_, err := service.CreateLoan("borrower1", decimal.NewFromInt(500), "seed capital", "agriculture", 6)
		assert.ErrorIs(t, err, ErrExceedsCreditLimit)

		mock.ExpectQuery("SELECT credit_tier FROM users").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_tier"}).AddRow(1))

		_, err = service.CreateLoan("borrower1", decimal.NewFromInt(250), "seed capital", "agriculture", 12)
		assert.ErrorIs(t, err, ErrExceedsCreditLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates funding loan with derived shares", func(t *testing.T) {
		mock.ExpectQuery("SELECT credit_tier FROM users").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_tier"}).AddRow(2))

		mock.ExpectExec("INSERT INTO loans").
			WillReturnResult(sqlmock.NewResult(1, 1))

		loan, err := service.CreateLoan("borrower1", decimal.NewFromInt(500), "seed capital", "agriculture", 10)
		assert.NoError(t, err)
		assert.Equal(t, 10, loan.TotalShares)
		assert.Equal(t, 10, loan.SharesRemaining)
		assert.Equal(t, models.LoanStatusFunding, loan.Status)
		assert.True(t, loan.MonthlyPayment.Equal(decimal.NewFromInt(50)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_FundShare(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)
	loanID := "loan1"
	sharePrice := service.policy.SharePrice

	t.Run("last share flips loan to funded", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE loans").
			WithArgs(loanID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"borrower_id", "shares_remaining", "status"}).
				AddRow("borrower1", 0, models.LoanStatusFunded))

		// funder1 sorts before loan-pool, so it is locked first
		expectWatershedLock(mock, "funder1", "100", 1)
		expectWatershedLock(mock, "loan-pool", "450", 1)
		expectWatershedLock(mock, "funder1", "100", 1)
		mock.ExpectExec("INSERT INTO watershed_transactions").
			WithArgs(sqlmock.AnyArg(), "funder1", models.TxTypeLoanFund, sharePrice.Neg(), sqlmock.AnyArg(), decimal.NewFromInt(50), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE watersheds").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectWatershedLock(mock, "loan-pool", "450", 1)
		mock.ExpectExec("INSERT INTO watershed_transactions").
			WithArgs(sqlmock.AnyArg(), "loan-pool", models.TxTypeLoanFund, sharePrice, sqlmock.AnyArg(), decimal.NewFromInt(500), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE watersheds").
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO loan_shares").
			WithArgs(sqlmock.AnyArg(), loanID, "funder1", sharePrice, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		share, err := service.FundShare(loanID, "funder1")
		assert.NoError(t, err)
		assert.True(t, share.Amount.Equal(sharePrice))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed loan rejects new shares", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE loans").
			WithArgs(loanID, sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		mock.ExpectRollback()

		_, err := service.FundShare(loanID, "funder1")
		assert.ErrorIs(t, err, ErrLoanNotFunding)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown loan", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE loans").
			WithArgs("nope", sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		mock.ExpectRollback()

		_, err := service.FundShare("nope", "funder1")
		assert.ErrorIs(t, err, ErrLoanNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("borrower cannot fund own loan", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE loans").
			WithArgs(loanID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"borrower_id", "shares_remaining", "status"}).
				AddRow("borrower1", 4, models.LoanStatusFunding))

		mock.ExpectRollback()

		_, err := service.FundShare(loanID, "borrower1")
		assert.ErrorIs(t, err, ErrSelfFunding)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient watershed balance aborts the claim", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("UPDATE loans").
			WithArgs(loanID, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"borrower_id", "shares_remaining", "status"}).
				AddRow("borrower1", 4, models.LoanStatusFunding))

		expectWatershedLock(mock, "funder1", "10", 1)
		expectWatershedLock(mock, "loan-pool", "450", 1)
		expectWatershedLock(mock, "funder1", "10", 1)

		mock.ExpectRollback()

		_, err := service.FundShare(loanID, "funder1")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_Disburse(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)
	loanID := "loan1"
	now := time.Now()

	fundedRow := func() *sqlmock.Rows {
		return sqlmock.NewRows(loanCols).AddRow(
			loanID, "borrower1", "500", "seed capital", "agriculture", 10, 0,
			"50", 10, 0, 0, models.LoanStatusFunded,
			now.AddDate(0, 0, 14), nil, nil, nil, nil, now, now)
	}

	t.Run("funded loan disburses and activates", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(fundedRow())

		// borrower1 sorts before loan-pool
		expectWatershedLock(mock, "borrower1", "0", 1)
		expectWatershedLock(mock, "loan-pool", "500", 1)
		expectWatershedLock(mock, "loan-pool", "500", 1)
		expectLedgerWrite(mock)
		expectWatershedLock(mock, "borrower1", "0", 1)
		expectLedgerWrite(mock)

		mock.ExpectExec("UPDATE loans SET status = 'active'").
			WithArgs(sqlmock.AnyArg(), loanID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		loan, err := service.Disburse(loanID, "admin1", "")
		assert.NoError(t, err)
		assert.Equal(t, models.LoanStatusActive, loan.Status)
		assert.NotNil(t, loan.DisbursedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("double disbursement is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		disbursedAt := now.Add(-time.Hour)
		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows(loanCols).AddRow(
				loanID, "borrower1", "500", "seed capital", "agriculture", 10, 0,
				"50", 10, 0, 0, models.LoanStatusActive,
				now.AddDate(0, 0, 14), disbursedAt, nil, nil, nil, now, now))

		mock.ExpectRollback()

		_, err := service.Disburse(loanID, "admin1", "")
		assert.ErrorIs(t, err, ErrAlreadyDisbursed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("partially funded loan cannot disburse", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows(loanCols).AddRow(
				loanID, "borrower1", "500", "seed capital", "agriculture", 10, 4,
				"50", 10, 0, 0, models.LoanStatusFunding,
				now.AddDate(0, 0, 14), nil, nil, nil, nil, now, now))

		mock.ExpectRollback()

		_, err := service.Disburse(loanID, "admin1", "")
		assert.ErrorIs(t, err, ErrNotFunded)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_RecordRepayment(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)
	loanID := "loan1"
	now := time.Now()

	t.Run("final installment completes the loan", func(t *testing.T) {
		disbursedAt := now.AddDate(0, -1, 0)

		mock.ExpectBegin()

		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows(loanCols).AddRow(
				loanID, "borrower1", "50", "seed capital", "agriculture", 1, 0,
				"50", 1, 0, 0, models.LoanStatusActive,
				now.AddDate(0, 0, -20), disbursedAt, nil, nil, nil, now, now))

		// Disbursement emptied the pool: borrower holds the 50, pool holds 0.
		// The pool row is locked first, then the installment moves into it.
		expectWatershedLock(mock, "loan-pool", "0", 1)

		expectWatershedLock(mock, "borrower1", "50", 1)
		expectWatershedLock(mock, "loan-pool", "0", 1)
		expectWatershedLock(mock, "borrower1", "50", 1)
		mock.ExpectExec("INSERT INTO watershed_transactions").
			WithArgs(sqlmock.AnyArg(), "borrower1", models.TxTypeLoanRepayment, decimal.NewFromInt(-50), sqlmock.AnyArg(), decimal.NewFromInt(0), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE watersheds").
			WillReturnResult(sqlmock.NewResult(1, 1))
		expectWatershedLock(mock, "loan-pool", "0", 1)
		mock.ExpectExec("INSERT INTO watershed_transactions").
			WithArgs(sqlmock.AnyArg(), "loan-pool", models.TxTypeLoanRepayment, decimal.NewFromInt(50), sqlmock.AnyArg(), decimal.NewFromInt(50), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE watersheds").
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Distribution draws the pool back down to zero
		mock.ExpectQuery("SELECT funder_id FROM loan_shares").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows([]string{"funder_id"}).AddRow("funder1"))

		expectWatershedLock(mock, "funder1", "0", 1)
		expectWatershedLock(mock, "loan-pool", "50", 1)
		expectWatershedLock(mock, "loan-pool", "50", 1)
		expectLedgerWrite(mock)
		expectWatershedLock(mock, "funder1", "0", 1)
		expectLedgerWrite(mock)

		mock.ExpectExec("UPDATE loans").
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Completion triggers a tier recompute
		mock.ExpectQuery("FROM loans").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"completed", "late"}).AddRow(1, 0))
		mock.ExpectQuery("FROM loans").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"missed"}).AddRow(0))
		mock.ExpectQuery("SELECT credit_tier FROM users").
			WithArgs("borrower1").
			WillReturnRows(sqlmock.NewRows([]string{"credit_tier"}).AddRow(1))
		mock.ExpectExec("UPDATE users SET credit_tier").
			WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg(), "borrower1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO credit_tier_history").
			WithArgs(sqlmock.AnyArg(), "borrower1", 1, 2, "loan_completed", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		loan, err := service.RecordRepayment(loanID, decimal.NewFromInt(50))
		assert.NoError(t, err)
		assert.Equal(t, models.LoanStatusCompleted, loan.Status)
		assert.Equal(t, 1, loan.PaymentsMade)
		assert.NotNil(t, loan.CompletedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("repayment on expired loan is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows(loanCols).AddRow(
				loanID, "borrower1", "500", "seed capital", "agriculture", 10, 7,
				"50", 10, 0, 0, models.LoanStatusExpired,
				now.AddDate(0, 0, -1), nil, nil, nil, nil, now, now))

		mock.ExpectRollback()

		_, err := service.RecordRepayment(loanID, decimal.NewFromInt(50))
		assert.ErrorIs(t, err, ErrLoanNotActive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_distributeToLenders(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)

	t.Run("rounding remainder goes to the first funder", func(t *testing.T) {
		loan := &models.Loan{ID: "loan1"}

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT funder_id FROM loan_shares").
			WithArgs(loan.ID).
			WillReturnRows(sqlmock.NewRows([]string{"funder_id"}).
				AddRow("funder1").AddRow("funder2").AddRow("funder3"))

		slices := []string{"33.34", "33.33", "33.33"}
		poolBalances := []string{"1000", "966.66", "933.33"}
		for i, funder := range []string{"funder1", "funder2", "funder3"} {
			slice := decimal.RequireFromString(slices[i])

			expectWatershedLock(mock, funder, "0", 1)
			expectWatershedLock(mock, "loan-pool", poolBalances[i], 1)
			expectWatershedLock(mock, "loan-pool", poolBalances[i], 1)
			mock.ExpectExec("INSERT INTO watershed_transactions").
				WithArgs(sqlmock.AnyArg(), "loan-pool", models.TxTypeRepaymentReceived, slice.Neg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE watersheds").
				WillReturnResult(sqlmock.NewResult(1, 1))
			expectWatershedLock(mock, funder, "0", 1)
			mock.ExpectExec("INSERT INTO watershed_transactions").
				WithArgs(sqlmock.AnyArg(), funder, models.TxTypeRepaymentReceived, slice, sqlmock.AnyArg(), slice, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE watersheds").
				WillReturnResult(sqlmock.NewResult(1, 1))
		}

		err := service.distributeToLenders(tx, loan, decimal.NewFromInt(100))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLoanService_ExpireOverdueLoans(t *testing.T) {
	t.Run("refunds every share and expires the loan", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := newLoanServiceForTest(db)
		loanID := "loan1"
		past := time.Now().AddDate(0, 0, -1)

		mock.ExpectQuery("SELECT id FROM loans").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(loanID))

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT status, funding_deadline FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "funding_deadline"}).
				AddRow(models.LoanStatusFunding, past))

		mock.ExpectQuery("FROM loan_shares").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "funder_id", "amount"}).
				AddRow("share1", "funder1", "50").
				AddRow("share2", "funder2", "50"))

		// Pool row is locked once before the refund loop
		expectWatershedLock(mock, "loan-pool", "100", 1)

		poolBalances := []string{"100", "50"}
		for i, funder := range []string{"funder1", "funder2"} {
			expectWatershedLock(mock, funder, "0", 1)
			expectWatershedLock(mock, "loan-pool", poolBalances[i], 1)
			expectWatershedLock(mock, "loan-pool", poolBalances[i], 1)
			expectLedgerWrite(mock)
			expectWatershedLock(mock, funder, "0", 1)
			expectLedgerWrite(mock)

			mock.ExpectExec("UPDATE loan_shares SET refunded_at").
				WillReturnResult(sqlmock.NewResult(1, 1))
		}

		mock.ExpectExec("UPDATE loans SET status = 'expired'").
			WithArgs(sqlmock.AnyArg(), loanID).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		expired, err := service.ExpireOverdueLoans()
		assert.NoError(t, err)
		assert.Equal(t, 1, expired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loan funded since the scan is left alone", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		service := newLoanServiceForTest(db)
		loanID := "loan1"

		mock.ExpectQuery("SELECT id FROM loans").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(loanID))

		mock.ExpectBegin()

		// A funder claimed the last share between the scan and the lock
		mock.ExpectQuery("SELECT status, funding_deadline FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "funding_deadline"}).
				AddRow(models.LoanStatusFunded, time.Now().AddDate(0, 0, -1)))

		mock.ExpectRollback()

		_, err = service.ExpireOverdueLoans()
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed refund is dead-lettered for retry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		redisClient, redisMock := redismock.NewClientMock()
		policy := config.LoadPolicyConfig()
		tierConfig := config.LoadTierConfig()
		ledger := NewWatershedLedgerService(db)
		tiers := NewCreditTierEngine(db, tierConfig)
		service := NewLoanService(db, redisClient, ledger, tiers, policy, tierConfig)

		loanID := "loan1"

		mock.ExpectQuery("SELECT id FROM loans").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(loanID))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, funding_deadline FROM loans").
			WithArgs(loanID).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		redisMock.Regexp().ExpectRPush(database.RedisKeyRefundDeadLetter, `.*loan1.*`).SetVal(1)

		expired, err := service.ExpireOverdueLoans()
		assert.NoError(t, err)
		assert.Equal(t, 0, expired)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})
}

func TestLoanService_MarkDefaulted(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newLoanServiceForTest(db)
	loanID := "loan1"
	now := time.Now()

	t.Run("already defaulted is a no-op", func(t *testing.T) {
		defaultedAt := now.Add(-time.Hour)

		mock.ExpectBegin()

		mock.ExpectQuery("FROM loans").
			WithArgs(loanID).
			WillReturnRows(sqlmock.NewRows(loanCols).AddRow(
				loanID, "borrower1", "500", "seed capital", "agriculture", 10, 0,
				"50", 10, 2, 1, models.LoanStatusDefaulted,
				now.AddDate(0, 0, -60), now.AddDate(0, -5, 0), nil, defaultedAt, nil, now, now))

		mock.ExpectRollback()

		err := service.MarkDefaulted(loanID)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
