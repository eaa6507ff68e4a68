package events

import "context"

// Redis channels and queues.
const (
	// StreamProject carries project lifecycle notifications fanned out to
	// websocket clients and the worker.
	StreamProject = "events:project"
	// QueueDeposits is the durable list the indexer pushes observed
	// deposits onto. The API drains it with BLPOP so a restart on either
	// side loses nothing.
	QueueDeposits = "queue:deposits"
)

// Event types
const (
	EventProjectStatusChanged = "project_status_changed"
	EventMilestoneUpdated     = "milestone_updated"
	EventPaymentReceived      = "payment_received"
	EventPayoutSent           = "payout_sent"
	EventDeadlineApproaching  = "deadline_approaching"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NoopPublisher drops events. Used in tests and in binaries that do not fan
// out notifications.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, Event) error { return nil }
