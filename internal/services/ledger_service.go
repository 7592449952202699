package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/commonfund/backend/internal/audit"
	"github.com/commonfund/backend/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("watershed account not found")
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
)

// WatershedLedgerService is the only writer of watershed balances. Every
// mutation validates, writes the new balance and appends exactly one immutable
// transaction row inside a single database transaction.
type WatershedLedgerService struct {
	db        *sql.DB
	audit     *audit.Logger
	validator *ValidationHelper
}

func NewWatershedLedgerService(db *sql.DB) *WatershedLedgerService {
	return &WatershedLedgerService{
		db:        db,
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
	}
}

// Credit adds funds to a user's watershed, creating the account lazily on
// first credit.
func (s *WatershedLedgerService) Credit(userID string, amount decimal.Decimal, txType, description string) (*models.WatershedTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.CreditTx(tx, userID, amount, txType, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Debit removes funds from a user's watershed. Fails closed with
// ErrInsufficientFunds; no partial write is ever visible.
func (s *WatershedLedgerService) Debit(userID string, amount decimal.Decimal, txType, description string) (*models.WatershedTransaction, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := s.DebitTx(tx, userID, amount, txType, description)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Transfer composes a debit and a credit atomically.
func (s *WatershedLedgerService) Transfer(fromUserID, toUserID string, amount decimal.Decimal, txType, description string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.TransferTx(tx, fromUserID, toUserID, amount, txType, description); err != nil {
		return err
	}

	return tx.Commit()
}

// CreditTx applies a credit inside a caller-supplied database transaction.
func (s *WatershedLedgerService) CreditTx(tx *sql.Tx, userID string, amount decimal.Decimal, txType, description string) (*models.WatershedTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	ws, err := s.lockWatershed(tx, userID)
	if err == sql.ErrNoRows {
		// Watersheds are created lazily on first credit
		if err := s.createWatershed(tx, userID); err != nil {
			return nil, err
		}
		ws, err = s.lockWatershed(tx, userID)
	}
	if err != nil {
		return nil, err
	}

	newBalance := ws.Balance.Add(amount)
	newInflow := ws.TotalInflow.Add(amount)

	entry, err := s.appendTransaction(tx, userID, amount, txType, description, newBalance)
	if err != nil {
		return nil, err
	}

	if err := s.updateWatershed(tx, userID, newBalance, newInflow, ws.TotalOutflow, ws.Version); err != nil {
		return nil, err
	}

	s.audit.LogLedger(entry.ID, userID, txType, amount)
	return entry, nil
}

// DebitTx applies a debit inside a caller-supplied database transaction.
func (s *WatershedLedgerService) DebitTx(tx *sql.Tx, userID string, amount decimal.Decimal, txType, description string) (*models.WatershedTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	ws, err := s.lockWatershed(tx, userID)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if ws.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	newBalance := ws.Balance.Sub(amount)
	newOutflow := ws.TotalOutflow.Add(amount)

	entry, err := s.appendTransaction(tx, userID, amount.Neg(), txType, description, newBalance)
	if err != nil {
		return nil, err
	}

	if err := s.updateWatershed(tx, userID, newBalance, ws.TotalInflow, newOutflow, ws.Version); err != nil {
		return nil, err
	}

	s.audit.LogLedger(entry.ID, userID, txType, amount.Neg())
	return entry, nil
}

// TransferTx debits fromUserID and credits toUserID inside one database
// transaction. Accounts are locked in lexicographic order to prevent
// deadlocks between concurrent transfers.
func (s *WatershedLedgerService) TransferTx(tx *sql.Tx, fromUserID, toUserID string, amount decimal.Decimal, txType, description string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	firstLock, secondLock := fromUserID, toUserID
	if fromUserID > toUserID {
		firstLock, secondLock = toUserID, fromUserID
	}

	if _, err := s.lockWatershed(tx, firstLock); err != nil && err != sql.ErrNoRows {
		return err
	}
	if _, err := s.lockWatershed(tx, secondLock); err != nil && err != sql.ErrNoRows {
		return err
	}

	debit, err := s.DebitTx(tx, fromUserID, amount, txType, description)
	if err != nil {
		return err
	}

	if _, err := s.CreditTx(tx, toUserID, amount, txType, description); err != nil {
		return err
	}

	s.audit.LogTransfer(debit.ID, fromUserID, toUserID, amount, "SUCCESS")
	return nil
}

// GetWatershed reads the current account state without locking.
func (s *WatershedLedgerService) GetWatershed(userID string) (*models.Watershed, error) {
	var ws models.Watershed
	err := s.db.QueryRow(`
		SELECT user_id, balance, total_inflow, total_outflow, version, created_at, updated_at
		FROM watersheds
		WHERE user_id = $1`, userID).Scan(
		&ws.UserID, &ws.Balance, &ws.TotalInflow, &ws.TotalOutflow, &ws.Version, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ListTransactions returns the account's ledger history, newest first.
func (s *WatershedLedgerService) ListTransactions(userID string, limit int) ([]models.WatershedTransaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, type, amount, description, balance_after, created_at
		FROM watershed_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.WatershedTransaction{}
	for rows.Next() {
		var e models.WatershedTransaction
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Internal helpers

func (s *WatershedLedgerService) lockWatershed(tx *sql.Tx, userID string) (*models.Watershed, error) {
	var ws models.Watershed
	err := tx.QueryRow(`
		SELECT user_id, balance, total_inflow, total_outflow, version, created_at, updated_at
		FROM watersheds
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(
		&ws.UserID, &ws.Balance, &ws.TotalInflow, &ws.TotalOutflow, &ws.Version, &ws.CreatedAt, &ws.UpdatedAt)

	return &ws, err
}

func (s *WatershedLedgerService) createWatershed(tx *sql.Tx, userID string) error {
	_, err := tx.Exec(`
		INSERT INTO watersheds (user_id, balance, total_inflow, total_outflow, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 1, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, time.Now())
	return err
}

func (s *WatershedLedgerService) appendTransaction(tx *sql.Tx, userID string, amount decimal.Decimal, txType, description string, balanceAfter decimal.Decimal) (*models.WatershedTransaction, error) {
	entry := &models.WatershedTransaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		Description:  description,
		BalanceAfter: balanceAfter,
		CreatedAt:    time.Now(),
	}

	_, err := tx.Exec(`
		INSERT INTO watershed_transactions (id, user_id, type, amount, description, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.UserID, entry.Type, entry.Amount, entry.Description, entry.BalanceAfter, entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *WatershedLedgerService) updateWatershed(tx *sql.Tx, userID string, balance, inflow, outflow decimal.Decimal, version int) error {
	result, err := tx.Exec(`
		UPDATE watersheds
		SET balance = $1, total_inflow = $2, total_outflow = $3, version = version + 1, updated_at = $4
		WHERE user_id = $5 AND version = $6`,
		balance, inflow, outflow, time.Now(), userID, version)

	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for watershed %s", userID)
	}

	return nil
}

// HTTP handlers

// GetBalance returns the caller's watershed account
// @Summary Get watershed balance
// @Description Retrieve the authenticated user's watershed account state
// @Tags watershed
// @Produce json
// @Success 200 {object} models.Watershed
// @Failure 404 {object} ErrorResponse
// @Router /watershed/balance [get]
func (s *WatershedLedgerService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	ws, err := s.GetWatershed(userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// No credits yet; report a zero account rather than a 404
			json.NewEncoder(w).Encode(models.Watershed{UserID: userID, Balance: decimal.Zero})
			return
		}
		SendErrorResponse(w, "Failed to fetch watershed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ws)
}

// GetTransactions lists the caller's ledger history
// @Summary List watershed transactions
// @Description List the authenticated user's ledger transactions, newest first
// @Tags watershed
// @Produce json
// @Param limit query int false "Number of transactions to return (default: 50, max: 200)"
// @Success 200 {object} object{transactions=[]models.WatershedTransaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /watershed/transactions [get]
func (s *WatershedLedgerService) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	entries, err := s.ListTransactions(userID, limit)
	if err != nil {
		log.Printf("[LEDGER] Failed to list transactions for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": entries,
		"count":        len(entries),
	})
}

// Contribute credits a cash contribution to the caller's watershed
// @Summary Record a cash contribution
// @Description Credit a cash contribution to the authenticated user's watershed
// @Tags watershed
// @Accept json
// @Produce json
// @Param contribution body object{amount=string,description=string} true "Contribution"
// @Success 201 {object} models.WatershedTransaction
// @Failure 400 {object} ErrorResponse
// @Router /watershed/contributions [post]
func (s *WatershedLedgerService) Contribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount      decimal.Decimal `json:"amount"`
		Description string          `json:"description" validate:"max=200"`
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

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	entry, err := s.Credit(userID, req.Amount, models.TxTypeCashContribution, req.Description)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			SendConflictResponse(w, "Amount must be greater than zero", "InvalidAmount", http.StatusBadRequest)
			return
		}
		log.Printf("[LEDGER] Contribution failed for %s: %v", userID, err)
		SendErrorResponse(w, "Failed to record contribution", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}
