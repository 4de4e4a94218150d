package models

import (
	"time"
)

// VerifyLog 验证日志表
// 每次和后台的往返（下单或验证）记一行，用于审计和排查
type VerifyLog struct {
	BaseModel

	ProjectID     string `json:"project_id" gorm:"not null;index"`
	UserID        string `json:"user_id" gorm:"index"`
	TransactionID string `json:"transaction_id" gorm:"size:100;index"`
	ProductID     string `json:"product_id" gorm:"size:100"`

	Action   string `json:"action" gorm:"not null;size:20"` // create_order 或 verify
	Success  bool   `json:"success"`
	OrderNo  string `json:"order_no" gorm:"size:100"`
	ErrorMsg string `json:"error_msg" gorm:"type:text"`

	RequestTime time.Time `json:"request_time"`
}

// TableName 指定表名
func (VerifyLog) TableName() string {
	return "verify_log"
}
