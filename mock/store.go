package mock

import (
	"context"

	"github.com/fwojciec/relay"
)

// Interface compliance checks.
var (
	_ relay.Store     = (*Store)(nil)
	_ relay.Appender  = (*Appender)(nil)
	_ relay.Publisher = (*Publisher)(nil)
)

// Store is a test double for relay.Store.
type Store struct {
	AppendEventsFn func(ctx context.Context, conversationID string, events []relay.Event) error
	LoadOrderedFn  func(ctx context.Context, conversationID string) ([]relay.Event, error)
}

// AppendEvents delegates to AppendEventsFn.
func (s *Store) AppendEvents(ctx context.Context, conversationID string, events []relay.Event) error {
	return s.AppendEventsFn(ctx, conversationID, events)
}

// LoadOrdered delegates to LoadOrderedFn.
func (s *Store) LoadOrdered(ctx context.Context, conversationID string) ([]relay.Event, error) {
	return s.LoadOrderedFn(ctx, conversationID)
}

// Appender is a test double for relay.Appender.
type Appender struct {
	AppendFn func(ctx context.Context, events []relay.Event, conversationID, previousKey string) (string, error)
}

// Append delegates to AppendFn.
func (a *Appender) Append(ctx context.Context, events []relay.Event, conversationID, previousKey string) (string, error) {
	return a.AppendFn(ctx, events, conversationID, previousKey)
}

// Publisher is a test double for relay.Publisher.
type Publisher struct {
	PublishFn func(ctx context.Context, conversationID string, events []relay.Event) error
}

// Publish delegates to PublishFn.
func (p *Publisher) Publish(ctx context.Context, conversationID string, events []relay.Event) error {
	return p.PublishFn(ctx, conversationID, events)
}
