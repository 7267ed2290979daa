package model

import "time"

// AdminAuditLog 管理员操作审计，与被审计的资金变动在同一事务内写入
type AdminAuditLog struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AdminID      string         `gorm:"index;type:varchar(64);not null" json:"admin_id"`
	Action       string         `gorm:"type:varchar(48);not null" json:"action"`
	TargetUserID string         `gorm:"index;type:varchar(64)" json:"target_user_id"`
	Payload      map[string]any `gorm:"serializer:json;type:jsonb" json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (AdminAuditLog) TableName() string {
	return "admin_audit_logs"
}

// Setting 运行期可调整的键值配置，例如官方价格
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedBy string    `gorm:"type:varchar(64)" json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Setting) TableName() string {
	return "settings"
}
