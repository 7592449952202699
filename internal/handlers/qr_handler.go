package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/commonfund/backend/internal/config"
	"github.com/commonfund/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	policy    *config.PolicyConfig
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService, policy *config.PolicyConfig) *QRHandler {
	return &QRHandler{
		service:   service,
		policy:    policy,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR generates a funding QR code for a loan
// @Summary Generate funding QR Code
// @Description Generate a single-use QR code for pledging one share of a loan
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{loan_id=string} true "QR generation request"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		LoanID string `json:"loan_id" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	qrCode, qrImage, err := h.service.GenerateFundingCode(r.Context(), req.LoanID, h.policy.SharePrice)
	if err == services.ErrLoanNotFound {
		services.SendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
		return
	}
	if err == services.ErrLoanNotFunding {
		services.SendConflictResponse(w, "Loan is not accepting funding", "LoanNotFunding", http.StatusConflict)
		return
	}
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}

// ProcessQR resolves a scanned funding QR code
// @Summary Process funding QR Code
// @Description Resolve a scanned funding code into its loan and share price
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "QR processing request"
// @Success 200 {object} object{loanId=string,sharePrice=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/process [post]
func (h *QRHandler) ProcessQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ResolveFundingCode(r.Context(), req.QRData)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
