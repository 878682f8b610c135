// Package eventbus provides the queue used to dispatch node jobs and run events.
package eventbus

import (
	"context"

	"github.com/tallybook/automation/pkg/events"
)

// Event is anything that can travel on the bus. Its type selects the topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher enqueues events. Events sharing a key keep their relative
// order on transports that partition, so node jobs are keyed by run id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventHandler processes a decoded event. A returned error nacks the message
// so the transport redelivers it.
type EventHandler func(ctx context.Context, event any) error

// EventSubscriber delivers events to handlers. Handlers are registered with
// Handle before Subscribe starts consuming; delivery is at least once.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventBus is a publisher and subscriber sharing one transport.
type EventBus interface {
	EventPublisher
	EventSubscriber

	// GenerateID returns a sortable unique id for a new event.
	GenerateID() string
	Close() error
}
