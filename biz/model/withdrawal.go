package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending  WithdrawalStatus = "PENDING"
	WithdrawalApproved WithdrawalStatus = "APPROVED"
	WithdrawalRejected WithdrawalStatus = "REJECTED"
)

type WithdrawalMethod string

const (
	WithdrawalCrypto WithdrawalMethod = "CRYPTO"
	WithdrawalBank   WithdrawalMethod = "BANK"
)

// WithdrawalRequest 法币提现申请，申请时即扣款，驳回时退回
type WithdrawalRequest struct {
	ID         string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID     string            `gorm:"index;type:varchar(64);not null" json:"user_id"`
	AmountFiat decimal.Decimal   `gorm:"type:numeric(36,2);not null" json:"amount_fiat"`
	Method     WithdrawalMethod  `gorm:"type:varchar(16);not null" json:"method"`
	Details    map[string]string `gorm:"serializer:json;type:jsonb" json:"details"`
	Status     WithdrawalStatus  `gorm:"index;type:varchar(16);not null" json:"status"`
	AdminNotes string            `json:"admin_notes,omitempty"`
	ReviewedBy string            `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}
