package model

import (
	"encoding/json"
	"time"
)

// CompensationKind 外部动作已成功、本地落账失败时需要补偿的动作
type CompensationKind string

const (
	CompensateClaimSettlement  CompensationKind = "CLAIM_SETTLEMENT"
	CompensateFeeRefund        CompensationKind = "FEE_REFUND"
	CompensateTransferReversal CompensationKind = "TRANSFER_REVERSAL"
	CompensatePartnerCredit    CompensationKind = "PARTNER_CREDIT"
	CompensateLaunchFinalize   CompensationKind = "LAUNCH_FINALIZE"
)

type CompensationStatus string

const (
	CompensationPending CompensationStatus = "PENDING"
	CompensationDone    CompensationStatus = "DONE"
	CompensationDead    CompensationStatus = "DEAD"
)

// MaxCompensateRetry 最大重试次数，超过后标记为 DEAD 等待人工处理
const MaxCompensateRetry = 10

type Compensation struct {
	ID            string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Kind          CompensationKind   `gorm:"uniqueIndex:idx_compensation_ref,priority:1;type:varchar(32);not null" json:"kind"`
	RefID         string             `gorm:"uniqueIndex:idx_compensation_ref,priority:2;type:varchar(64);not null" json:"ref_id"`
	UserID        string             `gorm:"type:varchar(64);not null" json:"user_id"`
	Payload       json.RawMessage    `gorm:"type:jsonb" json:"payload"`
	Status        CompensationStatus `gorm:"index;type:varchar(16);not null" json:"status"`
	RetryCount    int                `gorm:"not null;default:0" json:"retry_count"`
	LastError     string             `json:"last_error,omitempty"`
	LastRetryTime *time.Time         `json:"last_retry_time,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (Compensation) TableName() string {
	return "compensations"
}
