package verify

import (
	"testing"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/models"
)

func newTestManager(t *testing.T) (*Manager, *fakeStore, *fakeAuthority) {
	t.Helper()
	store := newFakeStore()
	remote := newFakeAuthority()
	manager := NewManager(store, remote, nil, time.Millisecond, 10*time.Millisecond)
	return manager, store, remote
}

func TestManagerStartRehydratesPersistedRecords(t *testing.T) {
	manager, store, _ := newTestManager(t)

	record := mustRecord(t, "tx-a", 1)
	if err := store.Save([]*models.TransactionRecord{record}, "user-1"); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}

	queue, err := manager.Start("proj", "user-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if queue.IsFullyCleared() {
		t.Errorf("queue must hold the rehydrated record")
	}

	again, err := manager.Start("proj", "user-1")
	if err != nil {
		t.Fatalf("second start failed: %v", err)
	}
	if again != queue {
		t.Errorf("starting the same session twice must return the same queue")
	}
}

func TestManagerQueuesAreIndependentPerUser(t *testing.T) {
	manager, _, _ := newTestManager(t)

	queueA, err := manager.Start("proj", "user-a")
	if err != nil {
		t.Fatalf("start user-a failed: %v", err)
	}
	queueB, err := manager.Start("proj", "user-b")
	if err != nil {
		t.Fatalf("start user-b failed: %v", err)
	}
	if queueA == queueB {
		t.Fatalf("each user must own a distinct queue")
	}
}

func TestManagerStopCancelsAndForgets(t *testing.T) {
	manager, store, remote := newTestManager(t)

	queue, err := manager.Start("proj", "user-1")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	queue.RefreshReceipt([]byte("receipt"))
	if err := queue.Append(mustRecord(t, "tx-a", 1)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	expectOrderCall(t, remote) // left unanswered

	manager.Stop("proj", "user-1")

	if _, ok := manager.Get("proj", "user-1"); ok {
		t.Errorf("stopped session must be forgotten")
	}
	if !queue.IsFullyCleared() {
		t.Errorf("stop must cancel the queue")
	}
	if !store.has("tx-a") {
		t.Errorf("stop must not touch persisted records")
	}
}

func TestManagerStopAll(t *testing.T) {
	manager, _, _ := newTestManager(t)

	if _, err := manager.Start("proj", "user-a"); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := manager.Start("proj", "user-b"); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	manager.StopAll()

	if _, ok := manager.Get("proj", "user-a"); ok {
		t.Errorf("user-a queue must be gone after StopAll")
	}
	if _, ok := manager.Get("proj", "user-b"); ok {
		t.Errorf("user-b queue must be gone after StopAll")
	}
}
