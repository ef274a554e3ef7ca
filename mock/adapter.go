// Package mock provides test doubles for relay interfaces using function fields.
package mock

import (
	"context"

	"github.com/fwojciec/relay"
)

// Interface compliance checks.
var (
	_ relay.Adapter      = (*Adapter)(nil)
	_ relay.SelfExecutor = (*Adapter)(nil)
)

// Adapter is a test double for relay.Adapter.
// Set StreamFn before calling Stream. The remaining methods are nil-safe:
// Name returns "mock", features are all supported, configs are valid and
// Chat drains Stream.
type Adapter struct {
	NameFn            func() string
	ValidateConfigFn  func(req relay.Request) relay.ConfigReport
	SupportsFeatureFn func(f relay.Feature) bool
	ChatFn            func(ctx context.Context, req relay.Request) (*relay.ChatResult, error)
	StreamFn          func(ctx context.Context, req relay.Request) (relay.Stream, error)

	// SelfExecutes makes the adapter report itself as self-executing.
	SelfExecutes bool
}

// Name delegates to NameFn.
func (a *Adapter) Name() string {
	if a.NameFn == nil {
		return "mock"
	}
	return a.NameFn()
}

// ValidateConfig delegates to ValidateConfigFn.
func (a *Adapter) ValidateConfig(req relay.Request) relay.ConfigReport {
	if a.ValidateConfigFn == nil {
		return relay.ConfigReport{Valid: true}
	}
	return a.ValidateConfigFn(req)
}

// SupportsFeature delegates to SupportsFeatureFn.
func (a *Adapter) SupportsFeature(f relay.Feature) bool {
	if a.SupportsFeatureFn == nil {
		return true
	}
	return a.SupportsFeatureFn(f)
}

// Chat delegates to ChatFn, or collects Stream when ChatFn is nil.
func (a *Adapter) Chat(ctx context.Context, req relay.Request) (*relay.ChatResult, error) {
	if a.ChatFn != nil {
		return a.ChatFn(ctx, req)
	}
	s, err := a.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return relay.Collect(s)
}

// Stream delegates to StreamFn.
func (a *Adapter) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	return a.StreamFn(ctx, req)
}

// SelfExecuting returns SelfExecutes.
func (a *Adapter) SelfExecuting() bool {
	return a.SelfExecutes
}
