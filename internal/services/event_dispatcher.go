package services

import (
	"github.com/beiliao-mobile/BLIAP/internal/verify"
	"github.com/beiliao-mobile/BLIAP/pkg/logging"
)

// EventDispatcher fans verify queue events out to the configured sinks:
// audit log, Redis pub/sub and the project's webhook. It implements
// verify.Notifier; the queue calls Notify synchronously, so everything
// slow runs on its own goroutine.
type EventDispatcher struct {
	projects  *ProjectService
	audit     *AuditLogger
	publisher *EventPublisher
	webhooks  *WebhookNotifier
}

// NewEventDispatcher creates a dispatcher wired to the default services
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		projects:  NewProjectService(),
		audit:     NewAuditLogger(nil),
		publisher: NewEventPublisher(nil),
		webhooks:  NewWebhookNotifier(),
	}
}

// Notify implements verify.Notifier
func (d *EventDispatcher) Notify(event verify.Event) {
	logging.Infof("verify event - type: %s, user: %s, transaction: %s, attempts: %d",
		event.Type, event.UserID, event.TransactionID, event.Attempts)

	if err := d.audit.Record(event); err != nil {
		logging.Errorf("failed to record verify event - transaction: %s, error: %v",
			event.TransactionID, err)
	}

	go func() {
		if err := d.publisher.Publish(event); err != nil {
			logging.Errorf("failed to publish verify event - transaction: %s, error: %v",
				event.TransactionID, err)
		}
	}()

	project, err := d.projects.GetProjectByID(event.ProjectID)
	if err != nil {
		logging.Warnf("verify event for unknown project - project: %s, transaction: %s",
			event.ProjectID, event.TransactionID)
		return
	}
	if project.WebhookCallbackURL != "" {
		go d.webhooks.NotifyAppBackend(project.WebhookCallbackURL, project.WebhookSecret, event)
	}
}
