// Package outbox defines the event contract between the domain and whatever
// bus carries its events. Publication is fire-and-forget: a publish failure is
// logged by the caller and never rolls back committed state.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-commerce/fulfillment/internal/pkg/correlation"
)

// Event is any domain event with a routing name such as "order.created".
type Event interface {
	EventName() string
}

// Meta carries the envelope fields shared by every domain event.
type Meta struct {
	EventID       string    `json:"event_id"`
	AggregateID   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewMeta builds event metadata, taking the correlation id from ctx.
func NewMeta(ctx context.Context, aggregateID, source string) Meta {
	return Meta{
		EventID:       uuid.NewString(),
		AggregateID:   aggregateID,
		CorrelationID: correlation.FromContext(ctx),
		Source:        source,
		OccurredAt:    time.Now().UTC(),
	}
}

// Key returns the aggregate id, used as the partition key by broker
// publishers so events for one aggregate stay ordered.
func (m Meta) Key() string { return m.AggregateID }

// Handler processes a published event.
type Handler func(ctx context.Context, e Event) error

// Publisher publishes events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Subscriber registers handlers for event names.
type Subscriber interface {
	Subscribe(eventName string, h Handler)
}
