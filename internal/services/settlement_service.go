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
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/commonfund/backend/internal/audit"
	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/database"
	"github.com/commonfund/backend/internal/models"
)

var (
	ErrNoUnsettledItems = errors.New("no unsettled ad views to batch")
	ErrBatchNotFound    = errors.New("settlement batch not found")
	ErrBatchNotPending  = errors.New("settlement batch is not pending")
)

// SettlementService converts aggregated ad-view revenue into watershed
// credits under a net payment term. Batch creation is one database
// transaction: credits, event claiming and the batch row commit together or
// not at all.
type SettlementService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *WatershedLedgerService
	iso       *ISO20022Service
	audit     *audit.Logger
	validator *ValidationHelper
	policy    *config.PolicyConfig
}

func NewSettlementService(db *sql.DB, rdb *redis.Client, ledger *WatershedLedgerService, policy *config.PolicyConfig) *SettlementService {
	return &SettlementService{
		db:        db,
		redis:     rdb,
		ledger:    ledger,
		iso:       NewISO20022Service(),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		policy:    policy,
	}
}

// CreateBatch settles every unsettled ad view. Per-user credits are rounded
// to cents and the batch totals are the sums of those rounded figures, so the
// credited amounts always add up to the recorded watershed total.
func (ss *SettlementService) CreateBatch(notes string) (*models.SettlementBatch, error) {
	tx, err := ss.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id, user_id, gross_revenue
		FROM ad_views
		WHERE settlement_batch_id IS NULL
		FOR UPDATE`)
	if err != nil {
		return nil, err
	}

	var viewIDs []string
	grossByUser := map[string]decimal.Decimal{}
	totalGross := decimal.Zero
	for rows.Next() {
		var id, userID string
		var gross decimal.Decimal
		if err := rows.Scan(&id, &userID, &gross); err != nil {
			rows.Close()
			return nil, err
		}
		viewIDs = append(viewIDs, id)
		grossByUser[userID] = grossByUser[userID].Add(gross)
		totalGross = totalGross.Add(gross)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(viewIDs) == 0 {
		return nil, ErrNoUnsettledItems
	}

	userIDs := make([]string, 0, len(grossByUser))
	for userID := range grossByUser {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	now := time.Now()
	batch := &models.SettlementBatch{
		ID:          uuid.New().String(),
		BatchDate:   now,
		AdViewCount: len(viewIDs),
		Status:      models.BatchStatusPending,
		NetTermDays: ss.policy.NetTermDays,
		Notes:       notes,
		CreatedAt:   now,
	}
	batch.ExpectedClearDate = now.AddDate(0, 0, batch.NetTermDays)

	keepRate := decimal.NewFromInt(1).Sub(ss.policy.PlatformTakeRate)
	totalCredit := decimal.Zero
	for _, userID := range userIDs {
		userGross := grossByUser[userID]
		userCredit := userGross.Mul(keepRate).Round(2)
		if userCredit.LessThanOrEqual(decimal.Zero) {
			continue
		}
		desc := fmt.Sprintf("Ad revenue settlement %s", batch.ID)
		if _, err := ss.ledger.CreditTx(tx, userID, userCredit, models.TxTypeSettlementCredit, desc); err != nil {
			return nil, err
		}
		totalCredit = totalCredit.Add(userCredit)
	}

	batch.TotalGross = totalGross
	batch.TotalWatershedCredit = totalCredit
	batch.TotalPlatformCut = totalGross.Sub(totalCredit)

	_, err = tx.Exec(`
		INSERT INTO settlement_batches
		(id, batch_date, total_gross, total_platform_cut, total_watershed_credit,
		 ad_view_count, status, net_term_days, expected_clear_date, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batch.ID, batch.BatchDate, batch.TotalGross, batch.TotalPlatformCut,
		batch.TotalWatershedCredit, batch.AdViewCount, batch.Status,
		batch.NetTermDays, batch.ExpectedClearDate, batch.Notes, batch.CreatedAt)
	if err != nil {
		return nil, err
	}

	// Claim the events. The IS NULL guard makes double settlement impossible;
	// a mismatch here means the locking failed and the batch must not commit.
	result, err := tx.Exec(`
		UPDATE ad_views SET settlement_batch_id = $1
		WHERE settlement_batch_id IS NULL
		  AND id = ANY($2)`,
		batch.ID, pq.Array(viewIDs))
	if err != nil {
		return nil, err
	}
	claimed, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if int(claimed) != len(viewIDs) {
		return nil, fmt.Errorf("settlement batch %s claimed %d of %d ad views, aborting", batch.ID, claimed, len(viewIDs))
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	ss.audit.LogOperation(batch.ID, "", "SETTLEMENT_BATCH", fmt.Sprintf(
		"gross=%s cut=%s credited=%s views=%d",
		batch.TotalGross.StringFixed(2), batch.TotalPlatformCut.StringFixed(2),
		batch.TotalWatershedCredit.StringFixed(2), batch.AdViewCount))
	log.Printf("[SETTLEMENT] Batch %s created: %d views, %s credited",
		batch.ID, batch.AdViewCount, batch.TotalWatershedCredit.StringFixed(2))

	ss.queueForClearing(batch)
	return batch, nil
}

// ClearBatch flips a pending batch to cleared. Clearing is terminal and the
// only allowed status transition.
func (ss *SettlementService) ClearBatch(batchID string) (*models.SettlementBatch, error) {
	now := time.Now()
	result, err := ss.db.Exec(`
		UPDATE settlement_batches
		SET status = 'cleared', cleared_at = $1
		WHERE id = $2 AND status = 'pending'`,
		now, batchID)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		if _, err := ss.GetBatch(batchID); err != nil {
			return nil, err
		}
		return nil, ErrBatchNotPending
	}

	batch, err := ss.GetBatch(batchID)
	if err != nil {
		return nil, err
	}

	// Remittance advice for the cleared funds
	doc, err := ss.iso.CreateBatchRemittance(batch)
	if err != nil {
		log.Printf("[SETTLEMENT] Remittance conversion for batch %s failed: %v", batchID, err)
	} else if err := ss.iso.SendToSettlement(doc); err != nil {
		log.Printf("[SETTLEMENT] Remittance send for batch %s failed: %v", batchID, err)
	}

	ss.audit.LogOperation(batchID, "", "SETTLEMENT_CLEARED", batch.TotalWatershedCredit.StringFixed(2))
	return batch, nil
}

// RecordAdView stores one unsettled revenue event.
func (ss *SettlementService) RecordAdView(userID string, grossRevenue decimal.Decimal) (*models.AdView, error) {
	if grossRevenue.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	view := &models.AdView{
		ID:           uuid.New().String(),
		UserID:       userID,
		GrossRevenue: grossRevenue,
		CreatedAt:    time.Now(),
	}

	_, err := ss.db.Exec(`
		INSERT INTO ad_views (id, user_id, gross_revenue, created_at)
		VALUES ($1, $2, $3, $4)`,
		view.ID, view.UserID, view.GrossRevenue, view.CreatedAt)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// GetBatch fetches one settlement batch.
func (ss *SettlementService) GetBatch(batchID string) (*models.SettlementBatch, error) {
	var b models.SettlementBatch
	err := ss.db.QueryRow(`
		SELECT id, batch_date, total_gross, total_platform_cut, total_watershed_credit,
		       ad_view_count, status, net_term_days, expected_clear_date, cleared_at, notes, created_at
		FROM settlement_batches
		WHERE id = $1`, batchID).Scan(
		&b.ID, &b.BatchDate, &b.TotalGross, &b.TotalPlatformCut, &b.TotalWatershedCredit,
		&b.AdViewCount, &b.Status, &b.NetTermDays, &b.ExpectedClearDate, &b.ClearedAt, &b.Notes, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (ss *SettlementService) queueForClearing(batch *models.SettlementBatch) {
	if ss.redis == nil {
		return
	}
	data, err := json.Marshal(map[string]string{
		"batch_id":            batch.ID,
		"expected_clear_date": batch.ExpectedClearDate.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := ss.redis.RPush(context.Background(), database.RedisKeySettlementClearing, data).Err(); err != nil {
		log.Printf("[SETTLEMENT] Failed to queue batch %s for clearing: %v", batch.ID, err)
	}
}

// HTTP handlers

// CreateBatchHandler runs a settlement batch
// @Summary Create a settlement batch
// @Description Settle all unsettled ad views into watershed credits (admin only)
// @Tags settlements
// @Accept json
// @Produce json
// @Param batch body object{notes=string} false "Batch notes"
// @Success 201 {object} models.SettlementBatch
// @Failure 409 {object} ErrorResponse
// @Router /settlements [post]
func (ss *SettlementService) CreateBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Notes string `json:"notes" validate:"max=500"`
	}
	if r.Body != nil && r.Body != http.NoBody {
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil && err != io.EOF {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	batch, err := ss.CreateBatch(req.Notes)
	if err != nil {
		if errors.Is(err, ErrNoUnsettledItems) {
			SendConflictResponse(w, "No unsettled ad views to batch", "NoUnsettledItems", http.StatusConflict)
			return
		}
		log.Printf("[SETTLEMENT] Batch creation failed: %v", err)
		SendErrorResponse(w, "Failed to create settlement batch", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(batch)
}

// ClearBatchHandler marks a batch cleared
// @Summary Clear a settlement batch
// @Description Confirm external funds settlement for a pending batch (admin only)
// @Tags settlements
// @Produce json
// @Param batchId path string true "Batch ID"
// @Success 200 {object} models.SettlementBatch
// @Failure 409 {object} ErrorResponse
// @Router /settlements/{batchId}/clear [post]
func (ss *SettlementService) ClearBatchHandler(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchId")

	batch, err := ss.ClearBatch(batchID)
	if err != nil {
		switch {
		case errors.Is(err, ErrBatchNotFound):
			SendConflictResponse(w, "Settlement batch not found", "BatchNotFound", http.StatusNotFound)
		case errors.Is(err, ErrBatchNotPending):
			SendConflictResponse(w, "Settlement batch is not pending", "BatchNotPending", http.StatusConflict)
		default:
			log.Printf("[SETTLEMENT] Clearing of %s failed: %v", batchID, err)
			SendErrorResponse(w, "Failed to clear settlement batch", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batch)
}

// ListBatchesHandler lists settlement batches, newest first
// @Summary List settlement batches
// @Tags settlements
// @Produce json
// @Success 200 {object} object{batches=[]models.SettlementBatch,count=int}
// @Router /settlements [get]
func (ss *SettlementService) ListBatchesHandler(w http.ResponseWriter, r *http.Request) {
	rows, err := ss.db.Query(`
		SELECT id, batch_date, total_gross, total_platform_cut, total_watershed_credit,
		       ad_view_count, status, net_term_days, expected_clear_date, cleared_at, notes, created_at
		FROM settlement_batches
		ORDER BY batch_date DESC
		LIMIT 100`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch settlement batches", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	batches := []models.SettlementBatch{}
	for rows.Next() {
		var b models.SettlementBatch
		err := rows.Scan(
			&b.ID, &b.BatchDate, &b.TotalGross, &b.TotalPlatformCut, &b.TotalWatershedCredit,
			&b.AdViewCount, &b.Status, &b.NetTermDays, &b.ExpectedClearDate, &b.ClearedAt, &b.Notes, &b.CreatedAt)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch settlement batches", http.StatusInternalServerError, nil)
			return
		}
		batches = append(batches, b)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// RecordAdViewHandler stores a revenue event
// @Summary Record an ad view
// @Description Record one unsettled ad impression revenue event
// @Tags settlements
// @Accept json
// @Produce json
// @Param view body object{user_id=string,gross_revenue=string} true "Ad view"
// @Success 201 {object} models.AdView
// @Failure 400 {object} ErrorResponse
// @Router /ads/views [post]
func (ss *SettlementService) RecordAdViewHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string          `json:"user_id" validate:"required"`
		GrossRevenue decimal.Decimal `json:"gross_revenue"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := ss.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	view, err := ss.RecordAdView(req.UserID, req.GrossRevenue)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			SendConflictResponse(w, "Gross revenue must be greater than zero", "InvalidAmount", http.StatusBadRequest)
			return
		}
		log.Printf("[SETTLEMENT] Ad view recording failed: %v", err)
		SendErrorResponse(w, "Failed to record ad view", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(view)
}
