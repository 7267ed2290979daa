package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry 账本流水，只追加，写入后不再修改
type LedgerEntry struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID    string          `gorm:"index:idx_ledger_user_currency,priority:1;type:varchar(64);not null" json:"user_id"`
	BalanceID string          `gorm:"type:varchar(36);not null" json:"balance_id"`
	Currency  Currency        `gorm:"index:idx_ledger_user_currency,priority:2;type:varchar(8);not null" json:"currency"`
	Amount    decimal.Decimal `gorm:"type:numeric(36,18);not null" json:"amount"`
	CauseType CauseType       `gorm:"type:varchar(48);not null" json:"cause_type"`
	Metadata  json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Cause 还原强类型元数据
func (e *LedgerEntry) Cause() (Cause, error) {
	return DecodeCause(e.CauseType, e.Metadata)
}
