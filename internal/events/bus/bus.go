// Package bus is the event fabric of the plane. Services publish Events on
// dotted subjects ("workflow.wf-1.log", "sandbox.p1.state") and subscribers
// match them with NATS-style wildcards: "*" for one token, ">" for the rest
// of the subject. Two implementations exist, an in-process bus for
// single-binary deployments and tests, and a NATS-backed one for running
// several planes against a shared broker.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope every subject carries. Data is freeform per event
// type; consumers that need typed payloads decode it at the edge.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an envelope with a fresh id and the current time. Source
// names the producing service, not the subject.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler consumes one delivered event. A returned error is logged by
// the bus; it does not stop the subscription.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live registration that can be torn down.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish side and the subscribe side of the fabric.
type EventBus interface {
	// Publish delivers the event to every matching subscription.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe registers a handler for a subject pattern.
	Subscribe(subject string, handler EventHandler) (Subscription, error)

	// QueueSubscribe registers a handler inside a queue group; each event
	// goes to exactly one member of the group.
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)

	// Request publishes and waits for a single reply, bounded by timeout.
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)

	// Close tears the bus down; subsequent publishes fail.
	Close()

	// IsConnected reports whether the bus can currently deliver.
	IsConnected() bool
}
