package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPendingClaim TransferStatus = "PENDING_CLAIM"
	TransferClaimed      TransferStatus = "CLAIMED"
	TransferExpired      TransferStatus = "EXPIRED"
)

func (s TransferStatus) Terminal() bool {
	return s == TransferClaimed || s == TransferExpired
}

// ExternalTransfer 外部转出的软锁记录
// PENDING_CLAIM -> CLAIMED | EXPIRED，终态不可再迁移
// ClaimToken / ClaimLeaseUntil 是领取中的租约，租约有效期内清扫任务不会处理该记录
// PENDING_CLAIM 且 ExternalRef 非空：外部转账已完成、扣款等待补偿，不可再领取也不可过期
type ExternalTransfer struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string          `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Code            string          `gorm:"uniqueIndex;type:varchar(64);not null" json:"code"`
	AmountToken     decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"amount_token"`
	AmountFiat      decimal.Decimal `gorm:"type:numeric(36,2);not null" json:"amount_fiat"`
	Rate            decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"rate"`
	TargetPlatform  string          `gorm:"type:varchar(32)" json:"target_platform"`
	Status          TransferStatus  `gorm:"index:idx_transfer_status_expiry,priority:1;type:varchar(16);not null" json:"status"`
	ExternalRef     string          `gorm:"type:varchar(128)" json:"external_ref,omitempty"`
	ExpiresAt       time.Time       `gorm:"index:idx_transfer_status_expiry,priority:2;not null" json:"expires_at"`
	ClaimedAt       *time.Time      `json:"claimed_at,omitempty"`
	ClaimToken      string          `gorm:"type:varchar(36)" json:"-"`
	ClaimLeaseUntil *time.Time      `json:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (ExternalTransfer) TableName() string {
	return "external_transfers"
}

func (t *ExternalTransfer) ExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

func (t *ExternalTransfer) LeaseActive(now time.Time) bool {
	return t.ClaimLeaseUntil != nil && t.ClaimLeaseUntil.After(now)
}

// SettlementPending 外部转账已成功，本地扣款尚未落账
func (t *ExternalTransfer) SettlementPending() bool {
	return t.Status == TransferPendingClaim && t.ExternalRef != ""
}

// Expirable 惰性过期与清扫的统一判定
func (t *ExternalTransfer) Expirable(now time.Time) bool {
	return t.Status == TransferPendingClaim && !t.SettlementPending() && !t.LeaseActive(now) && t.ExpiredAt(now)
}
