package verify

import (
	"sort"
	"sync"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/authority"
	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/internal/models"
	"github.com/beiliao-mobile/BLIAP/pkg/logging"
)

// VerifyQueue owns the pending transaction records of one user session.
// It serializes verification so that at most one task talks to the remote
// authority at a time, schedules bounded-backoff retries, and reconciles
// terminal outcomes into the transaction store.
//
// Every record is persisted before any network action is taken for it, so
// a crash at any point is recoverable by rehydrating the store.
type VerifyQueue struct {
	mu sync.Mutex

	projectID string
	userID    string

	receipt []byte

	// pending is ordered by QueuedAt ascending, ties kept stable.
	pending []*models.TransactionRecord

	// current is the record in flight or awaiting its retry; it blocks
	// FIFO progression until it reaches a terminal outcome.
	current *models.TransactionRecord
	active  *VerifyTask

	retryTimer *time.Timer

	store    database.TransactionStore
	client   authority.Client
	notifier Notifier

	retryStep    time.Duration
	retryMaxStep time.Duration
}

// NewVerifyQueue creates a queue for one user session
func NewVerifyQueue(projectID, userID string, store database.TransactionStore, client authority.Client, notifier Notifier, retryStep, retryMaxStep time.Duration) *VerifyQueue {
	if notifier == nil {
		notifier = NotifierFunc(func(Event) {})
	}
	return &VerifyQueue{
		projectID:    projectID,
		userID:       userID,
		store:        store,
		client:       client,
		notifier:     notifier,
		retryStep:    retryStep,
		retryMaxStep: retryMaxStep,
	}
}

// UserID returns the user this queue belongs to
func (q *VerifyQueue) UserID() string {
	return q.userID
}

// RefreshReceipt replaces the stored receipt bytes. It does not trigger
// verification by itself.
func (q *VerifyQueue) RefreshReceipt(receipt []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.receipt = receipt
}

// Append persists the record and then either starts verifying it
// immediately (queue idle) or inserts it into the pending list in
// QueuedAt order. Fails with ErrReceiptMissing when no receipt bytes are
// held; the record is not enqueued and the store is untouched.
func (q *VerifyQueue) Append(record *models.TransactionRecord) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.receipt) == 0 {
		return ErrReceiptMissing
	}

	// Hosts re-report their unfinished transactions after a restart; an id
	// already queued or stored keeps its durable state, orderNo checkpoint
	// included, and must not be enqueued a second time.
	if q.containsLocked(record.TransactionID) {
		logging.Infof("transaction already queued, append ignored - user: %s, transaction: %s",
			q.userID, record.TransactionID)
		return nil
	}
	stored, err := q.store.Exists(record.TransactionID, q.userID)
	if err != nil {
		return err
	}
	if stored {
		logging.Infof("transaction already stored, append ignored - user: %s, transaction: %s",
			q.userID, record.TransactionID)
		return nil
	}

	// Durability before side effect.
	if err := q.store.Save([]*models.TransactionRecord{record}, q.userID); err != nil {
		return err
	}

	q.insertPending(record)
	if q.current == nil {
		// Idle queue: promote the earliest record, which is not
		// necessarily the new one when rehydrated records are waiting.
		head := q.pending[0]
		q.pending = q.pending[1:]
		q.startTask(head)
	}
	return nil
}

// StartIfNeeded pops the earliest pending record into a fresh task. No-op
// when a record is already in flight (or awaiting retry) or nothing is
// pending. Call after Rehydrate at session start so transactions
// interrupted by a previous process exit resume automatically.
func (q *VerifyQueue) StartIfNeeded() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil || len(q.pending) == 0 {
		return
	}
	if len(q.receipt) == 0 {
		// Verification cannot begin until the host refreshes the receipt.
		logging.Warnf("verify queue idle without receipt - user: %s, pending: %d", q.userID, len(q.pending))
		return
	}

	record := q.pending[0]
	q.pending = q.pending[1:]
	q.startTask(record)
}

// Rehydrate replaces the in-memory pending list with the user's persisted
// records, oldest first. The in-flight record, if any, is left alone.
// Records flagged resolvedByAuthority stay out: reconciliation already
// retired them and re-verifying would redo a settled outcome.
func (q *VerifyQueue) Rehydrate() error {
	records, err := q.store.FetchAll(q.userID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = q.pending[:0]
	for _, record := range records {
		if record.ResolvedByAuthority {
			continue
		}
		if q.current != nil && record.TransactionID == q.current.TransactionID {
			continue
		}
		q.pending = append(q.pending, record)
	}

	return nil
}

// ReconcilePlatformList reconciles stored records against the platform's
// own pending-transaction list. A queued record the platform no longer
// reports cannot be finished locally: it is flagged resolvedByAuthority,
// persisted, and dropped from the in-memory queue. The in-flight record is
// left alone until its outcome arrives.
func (q *VerifyQueue) ReconcilePlatformList(platformIDs []string) error {
	present := make(map[string]struct{}, len(platformIDs))
	for _, id := range platformIDs {
		present[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var kept []*models.TransactionRecord
	var resolved []*models.TransactionRecord
	for _, record := range q.pending {
		if _, ok := present[record.TransactionID]; ok {
			kept = append(kept, record)
			continue
		}
		record.ResolvedByAuthority = true
		resolved = append(resolved, record)
	}

	if len(resolved) == 0 {
		return nil
	}
	if err := q.store.Save(resolved, q.userID); err != nil {
		return err
	}
	q.pending = kept

	logging.Infof("reconciled platform list - user: %s, resolved: %d, kept: %d",
		q.userID, len(resolved), len(kept))
	return nil
}

// CancelAll cancels the active task and discards the pending list in
// memory. Store entries are left intact: they are not terminal state and
// the next session rehydrates them.
func (q *VerifyQueue) CancelAll() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	if q.active != nil {
		q.active.Cancel()
		q.active = nil
	}
	q.current = nil
	q.pending = nil
}

// IsFullyCleared reports whether there is no active task and nothing
// pending. Hosts poll this before allowing logout or termination.
func (q *VerifyQueue) IsFullyCleared() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current == nil && len(q.pending) == 0
}

// PendingSnapshot returns value copies of the pending records plus the
// record currently in flight, oldest first. Copies, because the queue keeps
// mutating its own records (attempt counts, order info) under q.mu while
// callers read the snapshot outside it.
func (q *VerifyQueue) PendingSnapshot() []*models.TransactionRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]*models.TransactionRecord, 0, len(q.pending)+1)
	if q.current != nil {
		clone := *q.current
		snapshot = append(snapshot, &clone)
	}
	for _, record := range q.pending {
		clone := *record
		snapshot = append(snapshot, &clone)
	}
	return snapshot
}

// containsLocked reports whether the transaction id occupies the current
// slot or the pending list. Caller holds q.mu.
func (q *VerifyQueue) containsLocked(transactionID string) bool {
	if q.current != nil && q.current.TransactionID == transactionID {
		return true
	}
	for _, record := range q.pending {
		if record.TransactionID == transactionID {
			return true
		}
	}
	return false
}

// insertPending keeps the pending list sorted by QueuedAt ascending; equal
// timestamps keep insertion order. Caller holds q.mu.
func (q *VerifyQueue) insertPending(record *models.TransactionRecord) {
	i := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].QueuedAt.After(record.QueuedAt)
	})
	q.pending = append(q.pending, nil)
	copy(q.pending[i+1:], q.pending[i:])
	q.pending[i] = record
}

// startTask promotes a record to a fresh verify task. Caller holds q.mu.
func (q *VerifyQueue) startTask(record *models.TransactionRecord) {
	task := NewVerifyTask(record, q.receipt, q.client, q.handleOutcome)
	q.current = record
	q.active = task

	if err := task.Start(); err != nil {
		// Cannot happen for a fresh task; surface it, do not retry.
		logging.Errorf("verify task failed to start - user: %s, transaction: %s, error: %v",
			q.userID, record.TransactionID, err)
		q.current = nil
		q.active = nil
		return
	}

	go q.notifier.Notify(newEvent(EventTaskStarted, q.projectID, q.userID, record))
}

// handleOutcome is the task report callback. Outcomes from a task that is
// no longer the active one (cancelled queue, superseded retry) are
// discarded by identity, not timing.
func (q *VerifyQueue) handleOutcome(task *VerifyTask, outcome Outcome) {
	q.mu.Lock()

	if task != q.active {
		q.mu.Unlock()
		return
	}

	record := q.current

	switch outcome.Kind {
	case OutcomeOrderCreated:
		record.OrderNo = outcome.OrderNo
		record.PriceTag = outcome.PriceTag
		record.ReceiptFingerprint = outcome.Fingerprint
		if err := q.store.UpdateOrderInfo(record.TransactionID, outcome.OrderNo, outcome.PriceTag, outcome.Fingerprint, q.userID); err != nil {
			logging.Errorf("failed to persist order info - user: %s, transaction: %s, error: %v",
				q.userID, record.TransactionID, err)
		}
		q.mu.Unlock()

		// The task continues into verification on its own.
		q.notifier.Notify(newEvent(EventOrderCreated, q.projectID, q.userID, record))

	case OutcomeOrderFailed, OutcomeRequestFailed:
		record.VerifyAttempts++
		if err := q.store.UpdateVerifyAttempts(record.TransactionID, record.VerifyAttempts, q.userID); err != nil {
			logging.Errorf("failed to persist verify attempts - user: %s, transaction: %s, error: %v",
				q.userID, record.TransactionID, err)
		}

		// The failed record keeps its slot: it retries before any pending
		// record starts, so a stuck transaction cannot be starved out by
		// later arrivals completing out of order.
		q.active = nil
		delay := q.backoff(record.VerifyAttempts)
		q.retryTimer = time.AfterFunc(delay, func() {
			q.retry(record)
		})
		q.mu.Unlock()

		logging.Warnf("verify round-trip failed - user: %s, transaction: %s, attempts: %d, retry in %s, error: %v",
			q.userID, record.TransactionID, record.VerifyAttempts, delay, outcome.Err)

		eventType := EventRequestFailed
		if outcome.Kind == OutcomeOrderFailed {
			eventType = EventOrderFailed
		}
		q.notifier.Notify(newEvent(eventType, q.projectID, q.userID, record))

	case OutcomeReceiptValid, OutcomeReceiptInvalid:
		// Terminal: the record leaves the store the instant the verdict
		// arrives, then the queue advances.
		if _, err := q.store.Delete(record.TransactionID, q.userID); err != nil {
			logging.Errorf("failed to delete verified record - user: %s, transaction: %s, error: %v",
				q.userID, record.TransactionID, err)
		}
		q.active = nil
		q.current = nil
		q.mu.Unlock()

		eventType := EventReceiptValid
		if outcome.Kind == OutcomeReceiptInvalid {
			eventType = EventReceiptInvalid
		}
		q.notifier.Notify(newEvent(eventType, q.projectID, q.userID, record))

		q.StartIfNeeded()
	}
}

// retry re-runs the same record on a fresh task once its backoff elapsed.
// The attempt counter lives on the record, so it persists across retries.
func (q *VerifyQueue) retry(record *models.TransactionRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	// CancelAll or a competing start may have run while the timer was
	// pending.
	if q.current != record || q.active != nil {
		return
	}
	q.retryTimer = nil
	q.startTask(record)
}

// backoff computes the retry delay: min(attempts * step, maxStep).
func (q *VerifyQueue) backoff(attempts uint) time.Duration {
	delay := time.Duration(attempts) * q.retryStep
	if delay > q.retryMaxStep {
		delay = q.retryMaxStep
	}
	return delay
}
