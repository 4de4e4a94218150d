package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/beiliao-mobile/BLIAP/internal/authority"
	"github.com/beiliao-mobile/BLIAP/internal/models"
)

// TaskState is the lifecycle state of a verify task
type TaskState int

const (
	// TaskCreated is the initial state, before Start
	TaskCreated TaskState = iota
	// TaskAwaitingAuthority means a remote round-trip is in flight
	TaskAwaitingAuthority
	// TaskFinished is terminal; the outcome has been reported
	TaskFinished
	// TaskCancelled is terminal; a cancelled task can never be restarted
	// and any response still in flight is discarded
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskAwaitingAuthority:
		return "awaiting_authority"
	case TaskFinished:
		return "finished"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OutcomeKind tags a task outcome
type OutcomeKind int

const (
	// OutcomeOrderCreated is the only non-terminal outcome: the authority
	// assigned an order and the task continues into verification
	OutcomeOrderCreated OutcomeKind = iota
	// OutcomeOrderFailed means the order-creation round-trip failed
	OutcomeOrderFailed
	// OutcomeReceiptValid means the authority accepted the receipt
	OutcomeReceiptValid
	// OutcomeReceiptInvalid means the authority rejected the receipt
	OutcomeReceiptInvalid
	// OutcomeRequestFailed means the verification round-trip failed
	OutcomeRequestFailed
)

// Outcome is reported to the owning queue. Exactly one terminal outcome is
// delivered per started task, possibly preceded by OutcomeOrderCreated.
type Outcome struct {
	Kind        OutcomeKind
	OrderNo     string
	PriceTag    string
	Fingerprint string
	Err         error
}

// Terminal reports whether the outcome ends the task
func (o Outcome) Terminal() bool {
	return o.Kind != OutcomeOrderCreated
}

// Fingerprint computes the digest of receipt bytes used to detect that the
// receipt changed since order creation.
func Fingerprint(receipt []byte) string {
	sum := sha256.Sum256(receipt)
	return hex.EncodeToString(sum[:])
}

// VerifyTask drives one transaction record through order creation and
// receipt verification with the remote authority. A task wraps the receipt
// bytes active at creation time and is disposable: it is never reused
// after reaching Finished or Cancelled.
type VerifyTask struct {
	mu    sync.Mutex
	state TaskState

	record  *models.TransactionRecord
	receipt []byte
	client  authority.Client

	// report delivers outcomes to the owning queue. The queue keys its
	// bookkeeping off the task pointer itself; the task knows nothing
	// about the queue.
	report func(*VerifyTask, Outcome)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewVerifyTask creates a task for one record and the current receipt bytes
func NewVerifyTask(record *models.TransactionRecord, receipt []byte, client authority.Client, report func(*VerifyTask, Outcome)) *VerifyTask {
	ctx, cancel := context.WithCancel(context.Background())
	return &VerifyTask{
		state:   TaskCreated,
		record:  record,
		receipt: receipt,
		client:  client,
		report:  report,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Record returns the wrapped transaction record
func (t *VerifyTask) Record() *models.TransactionRecord {
	return t.record
}

// State returns the current task state
func (t *VerifyTask) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins execution. Valid only from Created; any other state is an
// illegal transition. The remote round-trips run on the task's own
// goroutine and outcomes are delivered through the report callback.
func (t *VerifyTask) Start() error {
	t.mu.Lock()
	if t.state != TaskCreated {
		state := t.state
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrIllegalTransition, state)
	}
	t.state = TaskAwaitingAuthority
	t.mu.Unlock()

	go t.run()
	return nil
}

// Cancel transitions to Cancelled from Created or AwaitingAuthority and
// aborts any in-flight request. Cancelling twice, or cancelling a finished
// task, is a no-op.
func (t *VerifyTask) Cancel() {
	t.mu.Lock()
	if t.state == TaskFinished || t.state == TaskCancelled {
		t.mu.Unlock()
		return
	}
	t.state = TaskCancelled
	t.mu.Unlock()

	t.cancel()
}

// run performs the two-phase exchange with the remote authority.
//
// Records without an order number go through order creation first; the
// order number is the resumption checkpoint, so records that already have
// one skip straight to verification after a restart. A record whose stored
// fingerprint no longer matches the current receipt bytes redoes order
// creation: the receipt changed since the order was placed.
func (t *VerifyTask) run() {
	record := t.record
	receiptDigest := Fingerprint(t.receipt)

	orderNo := record.OrderNo
	needOrder := !record.HasOrder() ||
		(record.ReceiptFingerprint != "" && record.ReceiptFingerprint != receiptDigest)

	if needOrder {
		result, err := t.client.CreateOrder(t.ctx, record.ProductID, record.TransactionID, t.receipt)
		if err != nil {
			t.finish(Outcome{Kind: OutcomeOrderFailed, Err: err})
			return
		}

		fingerprint := result.Fingerprint
		if fingerprint == "" {
			fingerprint = receiptDigest
		}
		orderNo = result.OrderNo

		if !t.deliver(Outcome{
			Kind:        OutcomeOrderCreated,
			OrderNo:     result.OrderNo,
			PriceTag:    result.PriceTag,
			Fingerprint: fingerprint,
		}) {
			// Cancelled while the order call was in flight.
			return
		}
	}

	result, err := t.client.VerifyReceipt(t.ctx, orderNo, t.receipt)
	switch {
	case err != nil:
		t.finish(Outcome{Kind: OutcomeRequestFailed, Err: err})
	case result.Valid:
		t.finish(Outcome{Kind: OutcomeReceiptValid, OrderNo: orderNo})
	default:
		t.finish(Outcome{Kind: OutcomeReceiptInvalid, OrderNo: orderNo})
	}
}

// deliver reports a non-terminal outcome. Returns false if the task is no
// longer awaiting the authority, in which case the response is discarded.
func (t *VerifyTask) deliver(outcome Outcome) bool {
	t.mu.Lock()
	if t.state != TaskAwaitingAuthority {
		t.mu.Unlock()
		return false
	}
	t.mu.Unlock()

	t.report(t, outcome)
	return true
}

// finish transitions to Finished and reports the terminal outcome. If the
// task was cancelled while the response was in flight, the outcome is
// dropped: state decides, never timing.
func (t *VerifyTask) finish(outcome Outcome) {
	t.mu.Lock()
	if t.state != TaskAwaitingAuthority {
		t.mu.Unlock()
		return
	}
	t.state = TaskFinished
	t.mu.Unlock()

	t.report(t, outcome)
}
