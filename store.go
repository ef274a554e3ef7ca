package relay

import "context"

// Store is the append-only persistence backend for conversation events.
// Events passed to AppendEvents already carry their OrderKey; LoadOrdered
// returns events in ascending key order.
type Store interface {
	AppendEvents(ctx context.Context, conversationID string, events []Event) error
	LoadOrdered(ctx context.Context, conversationID string) ([]Event, error)
}

// Appender assigns order keys to finalized events and commits them after
// previousKey. It returns the new tail key.
type Appender interface {
	Append(ctx context.Context, events []Event, conversationID, previousKey string) (string, error)
}

// Publisher fans committed events out to other readers.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, events []Event) error
}
