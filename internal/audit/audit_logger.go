package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

type Event struct {
	Timestamp     time.Time       `json:"timestamp"`
	EventType     string          `json:"event_type"`
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	Details       any             `json:"details"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(transactionID, fromUser, toUser string, amount decimal.Decimal, status string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "TRANSFER",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        status,
		Details: map[string]string{
			"from_user": fromUser,
			"to_user":   toUser,
		},
	}
	a.log(event)
}

func (a *Logger) LogLedger(transactionID, userID, txType string, amount decimal.Decimal) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "LEDGER",
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details:       map[string]string{"type": txType},
	}
	a.log(event)
}

func (a *Logger) LogError(transactionID, userID string, err error) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) LogOperation(transactionID, userID, operation, details string) {
	event := Event{
		Timestamp:     time.Now(),
		EventType:     operation,
		TransactionID: transactionID,
		UserID:        userID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
