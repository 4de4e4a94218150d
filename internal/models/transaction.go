package models

import (
	"errors"
	"time"
)

// ErrInvalidRecord is returned when a transaction record is constructed
// with a missing required field.
var ErrInvalidRecord = errors.New("invalid transaction record: required field is empty")

// TransactionRecord 待验证交易表
// 存储一笔等待（或正在）和后台验证的 IAP 交易
type TransactionRecord struct {
	BaseModel

	// 关联字段
	ProjectID string `json:"project_id" gorm:"not null;index"` // 项目ID
	UserID    string `json:"user_id" gorm:"not null;index"`    // 用户ID

	// 交易标识
	TransactionID string `json:"transaction_id" gorm:"not null;size:100;uniqueIndex"` // 交易ID
	ProductID     string `json:"product_id" gorm:"not null;size:100"`                 // 产品ID

	// 入队时间，队列按此字段升序排列
	QueuedAt time.Time `json:"queued_at" gorm:"not null;index"`

	// 后台下单后回填的字段，orderNo 一旦写入不再清空
	OrderNo            string `json:"order_no" gorm:"size:100"`
	PriceTag           string `json:"price_tag" gorm:"size:50"`
	ReceiptFingerprint string `json:"receipt_fingerprint" gorm:"size:64"` // 下单时收据的摘要，用于发现收据变动

	// 和后台验证失败的次数，驱动重试退避
	VerifyAttempts uint `json:"verify_attempts" gorm:"default:0"`

	// 后台已给出结论，但平台的未完成交易列表里已经取不到这笔交易
	ResolvedByAuthority bool `json:"resolved_by_authority" gorm:"default:false"`
}

// TableName 指定表名
func (TransactionRecord) TableName() string {
	return "transaction_records"
}

// NewTransactionRecord builds a record for a freshly completed purchase.
// Every argument is required; an empty one fails with ErrInvalidRecord.
func NewTransactionRecord(projectID, userID, productID, transactionID string, queuedAt time.Time) (*TransactionRecord, error) {
	if projectID == "" || userID == "" || productID == "" || transactionID == "" || queuedAt.IsZero() {
		return nil, ErrInvalidRecord
	}
	return &TransactionRecord{
		ProjectID:     projectID,
		UserID:        userID,
		ProductID:     productID,
		TransactionID: transactionID,
		QueuedAt:      queuedAt,
	}, nil
}

// HasOrder reports whether the remote authority already assigned an order
// to this record. Records with an order never repeat order creation.
func (r *TransactionRecord) HasOrder() bool {
	return r.OrderNo != ""
}
