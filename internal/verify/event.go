package verify

import (
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/models"
)

// EventType identifies a queue notification
type EventType string

const (
	EventTaskStarted    EventType = "task.started"
	EventOrderCreated   EventType = "order.created"
	EventOrderFailed    EventType = "order.failed"
	EventReceiptValid   EventType = "receipt.valid"
	EventReceiptInvalid EventType = "receipt.invalid"
	EventRequestFailed  EventType = "request.failed"
)

// Event is emitted by a verify queue for the surrounding app layer. The
// queue itself never consumes its own events.
type Event struct {
	Type          EventType `json:"type"`
	ProjectID     string    `json:"project_id"`
	UserID        string    `json:"user_id"`
	TransactionID string    `json:"transaction_id"`
	ProductID     string    `json:"product_id"`
	OrderNo       string    `json:"order_no,omitempty"`
	Attempts      uint      `json:"attempts"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Notifier receives queue events. Notify is called synchronously from the
// queue's execution context; implementations that do I/O should hand off
// to their own goroutines.
type Notifier interface {
	Notify(event Event)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(event Event) {
	f(event)
}

func newEvent(eventType EventType, projectID, userID string, record *models.TransactionRecord) Event {
	return Event{
		Type:          eventType,
		ProjectID:     projectID,
		UserID:        userID,
		TransactionID: record.TransactionID,
		ProductID:     record.ProductID,
		OrderNo:       record.OrderNo,
		Attempts:      record.VerifyAttempts,
		OccurredAt:    time.Now(),
	}
}
