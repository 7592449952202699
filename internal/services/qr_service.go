package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/commonfund/backend/internal/models"
)

// QRService issues scannable funding codes for loans in their funding window.
// A code carries the loan id and share price so a funder's device can submit
// the pledge without typing anything.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// GenerateFundingCode builds a QR code for one funding share of the given
// loan. The payload is cached in redis with a short TTL; expired codes are
// rejected on scan.
func (s *QRService) GenerateFundingCode(ctx context.Context, loanID string, sharePrice decimal.Decimal) (string, string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM loans WHERE id = $1`, loanID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", "", ErrLoanNotFound
	}
	if err != nil {
		return "", "", err
	}
	if status != models.LoanStatusFunding {
		return "", "", ErrLoanNotFunding
	}

	qrData := map[string]any{
		"loanId":     loanID,
		"sharePrice": sharePrice.String(),
		"timestamp":  time.Now().Unix(),
		"nonce":      s.generateNonce(),
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:funding:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return qrCode, qrImage, nil
}

// ResolveFundingCode validates a scanned code and returns its payload. Codes
// are single use; a successful resolve deletes the cached entry.
func (s *QRService) ResolveFundingCode(ctx context.Context, qrData string) (map[string]any, error) {
	key := fmt.Sprintf("qr:funding:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
