package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BuyRequestStatus string

const (
	BuyRequestPending  BuyRequestStatus = "PENDING"
	BuyRequestApproved BuyRequestStatus = "APPROVED"
	BuyRequestRejected BuyRequestStatus = "REJECTED"
)

// BuyRequest 银行汇款买币申请。价格在申请时锁定，审核通过后按锁定数量入账代币
type BuyRequest struct {
	ID              string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string           `gorm:"index;type:varchar(64);not null" json:"user_id"`
	BankRegion      string           `gorm:"type:varchar(32)" json:"bank_region"`
	FiatAmount      decimal.Decimal  `gorm:"type:numeric(36,2);not null" json:"fiat_amount"`
	FiatCurrency    string           `gorm:"type:varchar(8);not null" json:"fiat_currency"`
	PaymentProofURL string           `json:"payment_proof_url,omitempty"`
	ReferenceNote   string           `json:"reference_note,omitempty"`
	LockedPriceUSD  decimal.Decimal  `gorm:"type:numeric(36,18);not null" json:"locked_price_usd"`
	LockedToken     decimal.Decimal  `gorm:"type:numeric(36,18);not null" json:"locked_token_amount"`
	LockedAt        time.Time        `json:"locked_at"`
	Status          BuyRequestStatus `gorm:"index;type:varchar(16);not null" json:"status"`
	AdminNotes      string           `json:"admin_notes,omitempty"`
	ReviewedBy      string           `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

func (BuyRequest) TableName() string {
	return "buy_requests"
}
