package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierFun   Tier = "FUN"
	TierSuper Tier = "SUPER"
)

// LaunchStatus 发币申请状态 DRAFT -> PENDING_EXTERNAL -> SUCCEEDED | FAILED
type LaunchStatus string

const (
	LaunchDraft           LaunchStatus = "DRAFT"
	LaunchPendingExternal LaunchStatus = "PENDING_EXTERNAL"
	LaunchSucceeded       LaunchStatus = "SUCCEEDED"
	LaunchFailed          LaunchStatus = "FAILED"
)

type AllocationCategory string

const (
	AllocCreator   AllocationCategory = "CREATOR"
	AllocTeam      AllocationCategory = "TEAM"
	AllocTreasury  AllocationCategory = "TREASURY"
	AllocCommunity AllocationCategory = "COMMUNITY"
	AllocLiquidity AllocationCategory = "LIQUIDITY"
	AllocAdvisors  AllocationCategory = "ADVISORS"
	AllocMarketing AllocationCategory = "MARKETING"
	AllocAirdrop   AllocationCategory = "AIRDROP"
	AllocReserve   AllocationCategory = "RESERVE"
	AllocOther     AllocationCategory = "OTHER"
)

func (c AllocationCategory) Valid() bool {
	switch c {
	case AllocCreator, AllocTeam, AllocTreasury, AllocCommunity, AllocLiquidity,
		AllocAdvisors, AllocMarketing, AllocAirdrop, AllocReserve, AllocOther:
		return true
	}
	return false
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)

type TokenMetadata struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    int32  `json:"decimals"`
	LogoURL     string `json:"logo_url,omitempty"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`
}

func (m TokenMetadata) Validate() error {
	if l := len(m.Name); l == 0 || l > 50 {
		return fmt.Errorf("name length must be 1..50")
	}
	if !symbolPattern.MatchString(m.Symbol) {
		return fmt.Errorf("symbol must be 1..10 uppercase alphanumeric characters")
	}
	if m.Decimals < 0 || m.Decimals > 18 {
		return fmt.Errorf("decimals must be 0..18")
	}
	if len(m.Description) > 1000 {
		return fmt.Errorf("description too long")
	}
	return nil
}

// AllocationShare 用户输入的分配比例（百分比）
type AllocationShare struct {
	Category     AllocationCategory `json:"category"`
	Label        string             `json:"label,omitempty"`
	Percent      decimal.Decimal    `json:"percent"`
	TargetWallet string             `json:"target_wallet,omitempty"`
}

// Allocation 去尘修正后的分配结果，Amount 为最小单位的整数
type Allocation struct {
	Category     AllocationCategory `json:"category"`
	Label        string             `json:"label,omitempty"`
	Percent      decimal.Decimal    `json:"percent"`
	BasisPoints  int64              `json:"basis_points"`
	Amount       decimal.Decimal    `json:"amount"`
	TargetWallet string             `json:"target_wallet,omitempty"`
}

type VestingType string

const (
	VestingImmediate VestingType = "IMMEDIATE"
	VestingCliff     VestingType = "CLIFF"
	VestingLinear    VestingType = "LINEAR"
	VestingCustom    VestingType = "CUSTOM"
)

type VestingFrequency string

const (
	FrequencyDaily   VestingFrequency = "DAILY"
	FrequencyWeekly  VestingFrequency = "WEEKLY"
	FrequencyMonthly VestingFrequency = "MONTHLY"
)

type VestingTranche struct {
	UnlockTime time.Time       `json:"unlock_time"`
	Percent    decimal.Decimal `json:"percent"`
}

// VestingSchedule 解锁计划，不同类型允许的字段不同，由 Validate 统一约束
type VestingSchedule struct {
	Category       AllocationCategory `json:"category"`
	Type           VestingType        `json:"type"`
	TGEPercent     decimal.Decimal    `json:"tge_percent"`
	TGETime        time.Time          `json:"tge_time"`
	CliffMonths    int                `json:"cliff_months,omitempty"`
	DurationMonths int                `json:"duration_months,omitempty"`
	Frequency      VestingFrequency   `json:"frequency,omitempty"`
	Tranches       []VestingTranche   `json:"tranches,omitempty"`
}

var hundred = decimal.NewFromInt(100)

func (v VestingSchedule) Validate() error {
	if !v.Category.Valid() {
		return fmt.Errorf("unknown allocation category %q", v.Category)
	}
	if v.TGETime.IsZero() {
		return fmt.Errorf("%s: tge time required", v.Category)
	}
	if v.TGEPercent.IsNegative() || v.TGEPercent.GreaterThan(hundred) {
		return fmt.Errorf("%s: tge percent must be 0..100", v.Category)
	}
	if v.CliffMonths < 0 || v.DurationMonths < 0 {
		return fmt.Errorf("%s: months must not be negative", v.Category)
	}
	switch v.Type {
	case VestingImmediate:
		if !v.TGEPercent.Equal(hundred) || v.CliffMonths != 0 || v.Frequency != "" || len(v.Tranches) > 0 {
			return fmt.Errorf("%s: immediate vesting releases 100%% at tge only", v.Category)
		}
	case VestingCliff:
		if v.CliffMonths == 0 || v.Frequency != "" || len(v.Tranches) > 0 {
			return fmt.Errorf("%s: cliff vesting needs cliff months only", v.Category)
		}
	case VestingLinear:
		switch v.Frequency {
		case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		default:
			return fmt.Errorf("%s: linear vesting needs a release frequency", v.Category)
		}
		if v.DurationMonths == 0 || len(v.Tranches) > 0 {
			return fmt.Errorf("%s: linear vesting needs a duration and no tranches", v.Category)
		}
	case VestingCustom:
		if len(v.Tranches) == 0 || v.Frequency != "" {
			return fmt.Errorf("%s: custom vesting needs tranches", v.Category)
		}
		sum := v.TGEPercent
		last := v.TGETime
		for _, t := range v.Tranches {
			if !t.Percent.IsPositive() || t.Percent.GreaterThan(hundred) {
				return fmt.Errorf("%s: tranche percent must be in (0,100]", v.Category)
			}
			if !t.UnlockTime.After(last) {
				return fmt.Errorf("%s: tranche unlock times must increase after tge", v.Category)
			}
			last = t.UnlockTime
			sum = sum.Add(t.Percent)
		}
		if !sum.Equal(hundred) {
			return fmt.Errorf("%s: tge and tranches must add up to 100%%", v.Category)
		}
	default:
		return fmt.Errorf("%s: unknown vesting type %q", v.Category, v.Type)
	}
	return nil
}

// TokenLaunch 发币申请，独占自身状态与链上引用；余额变动全部经由账本引擎
type TokenLaunch struct {
	ID              string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID          string            `gorm:"index;type:varchar(64);not null" json:"user_id"`
	Tier            Tier              `gorm:"type:varchar(8);not null" json:"tier"`
	Status          LaunchStatus      `gorm:"index;type:varchar(20);not null" json:"status"`
	Metadata        TokenMetadata     `gorm:"serializer:json;type:jsonb" json:"metadata"`
	TotalSupply     decimal.Decimal   `gorm:"type:numeric(78,0);not null" json:"total_supply"`
	Allocations     []Allocation      `gorm:"serializer:json;type:jsonb" json:"allocations"`
	Vesting         []VestingSchedule `gorm:"serializer:json;type:jsonb" json:"vesting,omitempty"`
	FeeAmount       decimal.Decimal   `gorm:"type:numeric(36,18)" json:"fee_amount"`
	PlatformFee     decimal.Decimal   `gorm:"type:numeric(36,18)" json:"platform_fee"`
	LiquidityAmount decimal.Decimal   `gorm:"type:numeric(36,18)" json:"liquidity_amount"`
	TokenAddress    string            `gorm:"type:varchar(64)" json:"token_address,omitempty"`
	TxHash          string            `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	ExternalRef     string            `gorm:"type:varchar(128)" json:"external_ref,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	DeployedAt      *time.Time        `json:"deployed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func (TokenLaunch) TableName() string {
	return "token_launches"
}
