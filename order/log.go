package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.Appender = (*Log)(nil)

// Log writes finalized events to a store with fresh order keys.
type Log struct {
	store     relay.Store
	publisher relay.Publisher
}

// Option configures a [Log].
type Option func(*Log)

// WithPublisher fans committed events out after every successful append.
func WithPublisher(p relay.Publisher) Option {
	return func(l *Log) { l.publisher = p }
}

// NewLog returns a Log over store.
func NewLog(store relay.Store, opts ...Option) *Log {
	l := &Log{store: store}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append assigns each event a key strictly after previousKey, in order,
// and commits them as one batch. It returns the new tail key. Events that
// already carry a key are rejected: keys are never recomputed.
func (l *Log) Append(ctx context.Context, events []relay.Event, conversationID, previousKey string) (string, error) {
	if len(events) == 0 {
		return previousKey, nil
	}
	keys, err := NKeysBetween(previousKey, "", len(events))
	if err != nil {
		return "", err
	}
	stamped := make([]relay.Event, len(events))
	for i, e := range events {
		if e.OrderKey != "" {
			return "", fmt.Errorf("order: event %s already has key %q: %w", e.ID, e.OrderKey, relay.ErrValidation)
		}
		e.OrderKey = keys[i]
		stamped[i] = e
	}
	if err := l.store.AppendEvents(ctx, conversationID, stamped); err != nil {
		return "", fmt.Errorf("order: append: %w", err)
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, conversationID, stamped); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("publish committed events")
		}
	}
	return keys[len(keys)-1], nil
}

// Load returns the stored events in key order and the tail key.
func (l *Log) Load(ctx context.Context, conversationID string) ([]relay.Event, string, error) {
	events, err := l.store.LoadOrdered(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	if len(events) == 0 {
		return nil, "", nil
	}
	return events, events[len(events)-1].OrderKey, nil
}
