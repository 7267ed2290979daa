package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency 币种：平台代币与法币等值（美元）
type Currency string

const (
	CurrencyToken Currency = "SGC"
	CurrencyFiat  Currency = "USD"
)

func (c Currency) Valid() bool {
	return c == CurrencyToken || c == CurrencyFiat
}

type BalanceStatus string

const (
	BalanceActive BalanceStatus = "ACTIVE"
	BalanceFrozen BalanceStatus = "FROZEN"
)

// Balance 用户余额（每个用户一条）
// 可用余额按币种区分，冻结余额只存在于代币
// 该表是账本流水的物化缓存，只能由账本引擎修改
type Balance struct {
	ID             string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID         string          `gorm:"uniqueIndex;type:varchar(64);not null" json:"user_id"`
	TokenAvailable decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"token_available"`
	TokenLocked    decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"token_locked"`
	FiatAvailable  decimal.Decimal `gorm:"type:numeric(36,18);not null;default:0" json:"fiat_available"`
	Status         BalanceStatus   `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

func (b *Balance) Frozen() bool {
	return b.Status == BalanceFrozen
}

func (b *Balance) Available(c Currency) decimal.Decimal {
	if c == CurrencyFiat {
		return b.FiatAvailable
	}
	return b.TokenAvailable
}

func (b *Balance) SetAvailable(c Currency, v decimal.Decimal) {
	if c == CurrencyFiat {
		b.FiatAvailable = v
		return
	}
	b.TokenAvailable = v
}

// Locked 法币没有冻结概念，恒为 0
func (b *Balance) Locked(c Currency) decimal.Decimal {
	if c == CurrencyToken {
		return b.TokenLocked
	}
	return decimal.Zero
}

// Holdings 可用 + 冻结，与该币种全部流水之和相等
func (b *Balance) Holdings(c Currency) decimal.Decimal {
	return b.Available(c).Add(b.Locked(c))
}
