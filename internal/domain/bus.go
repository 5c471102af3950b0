package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS (distributed).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the audit pipeline.
const (
	TopicReferenceUpdated     = "tarifario.reference.updated"
	TopicRateStatusChanged    = "tarifario.rate.status"
	TopicCalculationCompleted = "tarifario.calculation.completed"
)

// AuditEvent is one entry of the append-only audit log. Events are
// published on the bus and persisted by the audit recorder; entries are
// never updated or deleted.
type AuditEvent struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Kind is the bus topic the event was published under.
	Kind string `json:"kind"`

	// Entity identifies the affected record: a reference value code, a
	// rate id, or a calculation id.
	Entity string `json:"entity"`

	// Payload carries the event body as published.
	Payload json.RawMessage `json:"payload,omitempty"`

	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
