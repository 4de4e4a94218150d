package database

import (
	"fmt"

	"github.com/beiliao-mobile/BLIAP/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionStore is the durable keyed storage for pending transaction
// records. Records survive process restarts; the verify queue owning a
// user id is the only writer for that user's records.
type TransactionStore interface {
	// Save persists records, upserting on transaction id.
	Save(records []*models.TransactionRecord, userID string) error

	// Exists reports whether a record with the transaction id is stored.
	Exists(transactionID, userID string) (bool, error)

	// Delete removes one record. Returns false if it was not found.
	Delete(transactionID, userID string) (bool, error)

	// DeleteAll removes every record belonging to the user.
	DeleteAll(userID string) error

	// FetchAll returns the user's records sorted by queued_at ascending.
	FetchAll(userID string) ([]*models.TransactionRecord, error)

	// FetchAllUnsorted returns the user's records in storage order.
	FetchAllUnsorted(userID string) ([]*models.TransactionRecord, error)

	// UpdateVerifyAttempts persists a new attempt count for one record.
	UpdateVerifyAttempts(transactionID string, count uint, userID string) error

	// UpdateOrderInfo persists the order fields assigned by the remote
	// authority on successful order creation.
	UpdateOrderInfo(transactionID, orderNo, priceTag, fingerprint, userID string) error
}

// GormTransactionStore provides transaction record storage backed by gorm
type GormTransactionStore struct {
	db *gorm.DB
}

// NewGormTransactionStore creates a new gorm-backed transaction store
func NewGormTransactionStore(db *gorm.DB) *GormTransactionStore {
	if db == nil {
		db = GetDB()
	}
	return &GormTransactionStore{db: db}
}

// Save persists records, upserting on transaction id
func (s *GormTransactionStore) Save(records []*models.TransactionRecord, userID string) error {
	if len(records) == 0 {
		return nil
	}
	for _, record := range records {
		record.UserID = userID
	}

	// The order checkpoint must survive a re-save of the same transaction:
	// once order_no is assigned it is never cleared, so the conflict clause
	// only takes incoming values that actually carry information.
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "transaction_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"order_no":              gorm.Expr("CASE WHEN excluded.order_no <> '' THEN excluded.order_no ELSE transaction_records.order_no END"),
			"price_tag":             gorm.Expr("CASE WHEN excluded.price_tag <> '' THEN excluded.price_tag ELSE transaction_records.price_tag END"),
			"receipt_fingerprint":   gorm.Expr("CASE WHEN excluded.receipt_fingerprint <> '' THEN excluded.receipt_fingerprint ELSE transaction_records.receipt_fingerprint END"),
			"verify_attempts":       gorm.Expr("CASE WHEN excluded.verify_attempts > transaction_records.verify_attempts THEN excluded.verify_attempts ELSE transaction_records.verify_attempts END"),
			"resolved_by_authority": gorm.Expr("excluded.resolved_by_authority OR transaction_records.resolved_by_authority"),
			"updated_at":            gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("failed to save transaction records: %w", err)
	}

	return nil
}

// Exists reports whether a record with the transaction id is stored
func (s *GormTransactionStore) Exists(transactionID, userID string) (bool, error) {
	var count int64
	err := s.db.Model(&models.TransactionRecord{}).
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check transaction record: %w", err)
	}

	return count > 0, nil
}

// Delete removes one record, reporting whether it existed
func (s *GormTransactionStore) Delete(transactionID, userID string) (bool, error) {
	// Hard delete: terminal records never linger, and the transaction id
	// must stay reusable should the platform ever re-deliver it.
	result := s.db.Unscoped().
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		Delete(&models.TransactionRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete transaction record: %w", result.Error)
	}

	return result.RowsAffected > 0, nil
}

// DeleteAll removes every record belonging to the user
func (s *GormTransactionStore) DeleteAll(userID string) error {
	if err := s.db.Unscoped().Where("user_id = ?", userID).Delete(&models.TransactionRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete transaction records: %w", err)
	}

	return nil
}

// FetchAll returns the user's records sorted by queued_at ascending
func (s *GormTransactionStore) FetchAll(userID string) ([]*models.TransactionRecord, error) {
	var records []*models.TransactionRecord
	err := s.db.Where("user_id = ?", userID).
		Order("queued_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction records: %w", err)
	}

	return records, nil
}

// FetchAllUnsorted returns the user's records in storage order
func (s *GormTransactionStore) FetchAllUnsorted(userID string) ([]*models.TransactionRecord, error) {
	var records []*models.TransactionRecord
	if err := s.db.Where("user_id = ?", userID).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch transaction records: %w", err)
	}

	return records, nil
}

// UpdateVerifyAttempts persists a new attempt count for one record
func (s *GormTransactionStore) UpdateVerifyAttempts(transactionID string, count uint, userID string) error {
	result := s.db.Model(&models.TransactionRecord{}).
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		Update("verify_attempts", count)
	if result.Error != nil {
		return fmt.Errorf("failed to update verify attempts: %w", result.Error)
	}

	return nil
}

// UpdateOrderInfo persists the order fields assigned by the remote authority
func (s *GormTransactionStore) UpdateOrderInfo(transactionID, orderNo, priceTag, fingerprint, userID string) error {
	result := s.db.Model(&models.TransactionRecord{}).
		Where("transaction_id = ? AND user_id = ?", transactionID, userID).
		Updates(map[string]interface{}{
			"order_no":            orderNo,
			"price_tag":           priceTag,
			"receipt_fingerprint": fingerprint,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order info: %w", result.Error)
	}

	return nil
}
