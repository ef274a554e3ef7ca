// Package nats broadcasts committed conversation events over NATS.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/json"
)

// DefaultSubjectPrefix prefixes every conversation subject.
const DefaultSubjectPrefix = "relay.events"

// Conn is the subset of *nats.Conn the Publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Interface compliance checks.
var (
	_ relay.Publisher = (*Publisher)(nil)
	_ Conn            = (*nats.Conn)(nil)
)

// Publisher publishes each committed batch as a JSON array of events on
// "<prefix>.<conversationID>".
type Publisher struct {
	conn   Conn
	prefix string
}

// NewPublisher returns a Publisher over conn. An empty prefix uses
// DefaultSubjectPrefix.
func NewPublisher(conn Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix}
}

// Connect dials url and logs connection state changes.
func Connect(ctx context.Context, url string) (*nats.Conn, error) {
	logger := zerolog.Ctx(ctx)
	nc, err := nats.Connect(url,
		nats.Name("relay"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	logger.Info().Str("url", url).Msg("nats connected")
	return nc, nil
}

// Subject returns the subject events of conversationID are published on.
func (p *Publisher) Subject(conversationID string) string {
	return p.prefix + "." + conversationID
}

// Publish sends events as one message.
func (p *Publisher) Publish(_ context.Context, conversationID string, events []relay.Event) error {
	data, err := json.MarshalEvents(events)
	if err != nil {
		return fmt.Errorf("nats: encode events: %w", err)
	}
	if err := p.conn.Publish(p.Subject(conversationID), data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", p.Subject(conversationID), err)
	}
	return nil
}

// Subscribe delivers every batch published for conversationID to fn until
// the returned function is called. Undecodable messages are logged and
// skipped.
func Subscribe(ctx context.Context, nc *nats.Conn, prefix, conversationID string, fn func([]relay.Event)) (func(), error) {
	p := NewPublisher(nc, prefix)
	logger := zerolog.Ctx(ctx)
	sub, err := nc.Subscribe(p.Subject(conversationID), func(msg *nats.Msg) {
		events, err := json.UnmarshalEvents(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Str("subject", msg.Subject).Msg("decode events")
			return
		}
		fn(events)
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
