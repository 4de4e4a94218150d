package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/beiliao-mobile/BLIAP/internal/database"
	"github.com/beiliao-mobile/BLIAP/internal/verify"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventPublisher publishes verify queue events to Redis so other backend
// services can subscribe to verification results
type EventPublisher struct {
	client *redis.Client
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(client *redis.Client) *EventPublisher {
	if client == nil {
		client = database.GetRedis()
	}
	return &EventPublisher{client: client}
}

type publishedEvent struct {
	EventID string `json:"event_id"`
	verify.Event
}

// Publish sends the event to the project's verify_events channel
func (p *EventPublisher) Publish(event verify.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := fmt.Sprintf("verify_events:%s", event.ProjectID)
	data, err := json.Marshal(publishedEvent{
		EventID: uuid.NewString(),
		Event:   event,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
