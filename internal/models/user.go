package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID          string          `json:"id" example:"a3f1c9d2"`
	Email       string          `json:"email" example:"user@example.com"`
	FirstName   string          `json:"first_name" example:"John"`
	LastName    string          `json:"last_name" example:"Doe"`
	Role        string          `json:"role" example:"member"`
	CreditTier  int             `json:"credit_tier" example:"1"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	ArchivedAt  *time.Time      `json:"archived_at,omitempty"`
	LastLogin   *time.Time      `json:"last_login,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)
