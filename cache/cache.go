// Package cache decorates a relay.Store with an in-process ristretto cache
// of ordered conversation events.
package cache

import (
	"context"
	"hash/maphash"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/rs/zerolog"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/json"
)

// DefaultTTL bounds how long a loaded conversation stays cached.
const DefaultTTL = 10 * time.Minute

// Interface compliance check.
var _ relay.Store = (*Store)(nil)

// generationStripes is the number of append generation counters shared by
// all conversations.
const generationStripes = 256

// Store caches LoadOrdered results of the wrapped store, keyed by
// conversation ID. Appends invalidate the conversation's entry.
//
// A load only fills the cache when no append touched the conversation's
// generation stripe while it read from the wrapped store, so a snapshot
// taken before an append never outlives it.
type Store struct {
	next relay.Store
	c    *ristretto.Cache[string, []byte]
	ttl  time.Duration

	seed        maphash.Seed
	generations [generationStripes]atomic.Uint64
}

// New wraps next with a cache holding at most maxCostBytes of serialized
// events.
func New(next relay.Store, maxCostBytes int64) (*Store, error) {
	counters := max(maxCostBytes/100*10, 1000) // ~10x expected items
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{next: next, c: c, ttl: DefaultTTL, seed: maphash.MakeSeed()}, nil
}

func (s *Store) generation(conversationID string) *atomic.Uint64 {
	return &s.generations[maphash.String(s.seed, conversationID)%generationStripes]
}

// AppendEvents writes through to the wrapped store and drops the cached
// conversation.
func (s *Store) AppendEvents(ctx context.Context, conversationID string, events []relay.Event) error {
	gen := s.generation(conversationID)
	gen.Add(1)
	err := s.next.AppendEvents(ctx, conversationID, events)
	gen.Add(1)
	s.c.Del(conversationID)
	return err
}

// LoadOrdered serves from cache, loading from the wrapped store on a miss.
func (s *Store) LoadOrdered(ctx context.Context, conversationID string) ([]relay.Event, error) {
	if data, ok := s.c.Get(conversationID); ok {
		events, err := json.UnmarshalEvents(data)
		if err == nil {
			return events, nil
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("drop corrupt cache entry")
		s.c.Del(conversationID)
	}

	gen := s.generation(conversationID)
	before := gen.Load()
	events, err := s.next.LoadOrdered(ctx, conversationID)
	if err != nil || len(events) == 0 {
		return events, err
	}
	if gen.Load() != before {
		return events, nil
	}
	data, err := json.MarshalEvents(events)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", conversationID).Msg("cache events")
		return events, nil
	}
	s.c.SetWithTTL(conversationID, data, int64(len(data)), s.ttl)
	if gen.Load() != before {
		s.c.Del(conversationID)
	}
	return events, nil
}

// Wait blocks until pending cache writes are applied.
func (s *Store) Wait() {
	s.c.Wait()
}

// Close releases the cache.
func (s *Store) Close() {
	s.c.Close()
}
