package messaging

import (
	"context"
	"time"
)

// Delivery event types published by the worker.
const (
	EventNotificationSent         = "notification.sent"
	EventNotificationFailed       = "notification.failed"
	EventNotificationDeadLettered = "notification.dead_lettered"

	// ChannelNotifications is the pub/sub channel delivery events go to.
	ChannelNotifications = "notifications"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publisher
	Close() error
}

// Publisher defines the interface for publishing messages
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

type Message struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}
