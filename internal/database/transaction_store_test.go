package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *GormTransactionStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.TransactionRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewGormTransactionStore(db)
}

func storeRecord(t *testing.T, transactionID string, queuedAt int64) *models.TransactionRecord {
	t.Helper()
	record, err := models.NewTransactionRecord("proj", "user-1", "com.app.coins", transactionID, time.Unix(queuedAt, 0))
	if err != nil {
		t.Fatalf("failed to build record: %v", err)
	}
	return record
}

func TestSaveAndFetchAllSorted(t *testing.T) {
	store := newTestStore(t)

	records := []*models.TransactionRecord{
		storeRecord(t, "tx-3", 3),
		storeRecord(t, "tx-1", 1),
		storeRecord(t, "tx-2", 2),
	}
	if err := store.Save(records, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	fetched, err := store.FetchAll("user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetched) != 3 {
		t.Fatalf("expected 3 records, got %d", len(fetched))
	}
	for i, want := range []string{"tx-1", "tx-2", "tx-3"} {
		if fetched[i].TransactionID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, fetched[i].TransactionID)
		}
	}
}

func TestFetchAllScopedToUser(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-a", 1)}, "user-a"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	other := storeRecord(t, "tx-b", 2)
	other.UserID = "user-b"
	if err := store.Save([]*models.TransactionRecord{other}, "user-b"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	fetched, err := store.FetchAll("user-a")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetched) != 1 || fetched[0].TransactionID != "tx-a" {
		t.Fatalf("expected only user-a records, got %v", fetched)
	}
}

func TestUpdateOrderInfoAndAttempts(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-1", 1)}, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := store.UpdateOrderInfo("tx-1", "O1", "$0.99", "digest", "user-1"); err != nil {
		t.Fatalf("update order info failed: %v", err)
	}
	if err := store.UpdateVerifyAttempts("tx-1", 3, "user-1"); err != nil {
		t.Fatalf("update attempts failed: %v", err)
	}

	fetched, err := store.FetchAll("user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	record := fetched[0]
	if record.OrderNo != "O1" || record.PriceTag != "$0.99" || record.ReceiptFingerprint != "digest" {
		t.Errorf("order info not persisted: %+v", record)
	}
	if record.VerifyAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", record.VerifyAttempts)
	}
}

func TestDeleteReportsExistence(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-1", 1)}, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	found, err := store.Delete("tx-1", "user-1")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if !found {
		t.Errorf("expected delete to report the record existed")
	}

	found, err = store.Delete("tx-1", "user-1")
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if found {
		t.Errorf("expected delete of missing record to report false")
	}
}

func TestDeleteAll(t *testing.T) {
	store := newTestStore(t)

	records := []*models.TransactionRecord{
		storeRecord(t, "tx-1", 1),
		storeRecord(t, "tx-2", 2),
	}
	if err := store.Save(records, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if err := store.DeleteAll("user-1"); err != nil {
		t.Fatalf("delete all failed: %v", err)
	}

	fetched, err := store.FetchAllUnsorted("user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetched) != 0 {
		t.Errorf("expected empty store, got %d records", len(fetched))
	}
}

func TestSaveUpsertsOnTransactionID(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-1", 1)}, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	updated := storeRecord(t, "tx-1", 1)
	updated.OrderNo = "O1"
	updated.VerifyAttempts = 2
	if err := store.Save([]*models.TransactionRecord{updated}, "user-1"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	fetched, err := store.FetchAll("user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected a single record after upsert, got %d", len(fetched))
	}
	if fetched[0].OrderNo != "O1" || fetched[0].VerifyAttempts != 2 {
		t.Errorf("upsert did not update fields: %+v", fetched[0])
	}
}

func TestSaveKeepsOrderColumnsOnDuplicate(t *testing.T) {
	store := newTestStore(t)

	seeded := storeRecord(t, "tx-1", 1)
	seeded.OrderNo = "O1"
	seeded.PriceTag = "$0.99"
	seeded.ReceiptFingerprint = "digest"
	seeded.VerifyAttempts = 2
	if err := store.Save([]*models.TransactionRecord{seeded}, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	// A re-reported transaction arrives as a fresh zero-valued record. The
	// order checkpoint must not be wiped.
	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-1", 1)}, "user-1"); err != nil {
		t.Fatalf("duplicate save failed: %v", err)
	}

	fetched, err := store.FetchAll("user-1")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(fetched) != 1 {
		t.Fatalf("expected a single record, got %d", len(fetched))
	}
	record := fetched[0]
	if record.OrderNo != "O1" || record.PriceTag != "$0.99" || record.ReceiptFingerprint != "digest" {
		t.Errorf("order columns wiped by duplicate save: %+v", record)
	}
	if record.VerifyAttempts != 2 {
		t.Errorf("expected 2 attempts preserved, got %d", record.VerifyAttempts)
	}
}

func TestExists(t *testing.T) {
	store := newTestStore(t)

	if err := store.Save([]*models.TransactionRecord{storeRecord(t, "tx-1", 1)}, "user-1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	found, err := store.Exists("tx-1", "user-1")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if !found {
		t.Errorf("expected tx-1 to be reported as stored")
	}

	found, err = store.Exists("tx-1", "user-2")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if found {
		t.Errorf("exists must be scoped to the user")
	}

	found, err = store.Exists("tx-missing", "user-1")
	if err != nil {
		t.Fatalf("exists failed: %v", err)
	}
	if found {
		t.Errorf("expected missing record to be reported as absent")
	}
}
