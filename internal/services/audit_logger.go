package services

import (
	"fmt"

	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/internal/models"
	"github.com/beiliao-mobile/BLIAP/internal/verify"

	"gorm.io/gorm"
)

// AuditLogger writes one verify_log row per remote round-trip outcome
type AuditLogger struct {
	db *gorm.DB
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(db *gorm.DB) *AuditLogger {
	if db == nil {
		db = database.GetDB()
	}
	return &AuditLogger{db: db}
}

// Record persists an audit row for the event. Task-started events carry no
// round-trip result and are skipped.
func (l *AuditLogger) Record(event verify.Event) error {
	var action string
	var success bool
	switch event.Type {
	case verify.EventOrderCreated:
		action, success = "create_order", true
	case verify.EventOrderFailed:
		action, success = "create_order", false
	case verify.EventReceiptValid, verify.EventReceiptInvalid:
		action, success = "verify", true
	case verify.EventRequestFailed:
		action, success = "verify", false
	default:
		return nil
	}

	log := &models.VerifyLog{
		ProjectID:     event.ProjectID,
		UserID:        event.UserID,
		TransactionID: event.TransactionID,
		ProductID:     event.ProductID,
		Action:        action,
		Success:       success,
		OrderNo:       event.OrderNo,
		RequestTime:   event.OccurredAt,
	}
	if event.Type == verify.EventReceiptInvalid {
		log.ErrorMsg = "receipt rejected by authority"
	}

	if err := l.db.Create(log).Error; err != nil {
		return fmt.Errorf("failed to write verify log: %w", err)
	}

	return nil
}
