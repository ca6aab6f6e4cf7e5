package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventBus defines the change feed for rule mutations. Supports Go
// channels in-process or NATS for out-of-process administrators.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

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
	Type string

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// TopicRuleChanged carries every rule-table mutation.
const TopicRuleChanged = "rewards.rule.changed"

// Change operations.
const (
	ChangeOpCreate     = "create"
	ChangeOpUpdate     = "update"
	ChangeOpDeactivate = "deactivate"
)

// RuleChangeEvent is the payload published on TopicRuleChanged.
type RuleChangeEvent struct {
	Op         string      `json:"op"`
	RuleID     string      `json:"ruleId"`
	ActionType string      `json:"actionType"`
	Rule       *RewardRule `json:"rule,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// Encode marshals the event for publication.
func (e *RuleChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeRuleChangeEvent unmarshals a change-feed payload.
func DecodeRuleChangeEvent(payload []byte) (*RuleChangeEvent, error) {
	var ev RuleChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
