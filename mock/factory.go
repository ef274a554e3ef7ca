package mock

import (
	"github.com/fwojciec/relay"
)

// Factory is a test double for an adapter registry.
type Factory struct {
	CreateFn  func(model string) (relay.Adapter, error)
	ResolveFn func(model string) (relay.Vendor, relay.Mode, error)
}

// Create delegates to CreateFn.
func (f *Factory) Create(model string) (relay.Adapter, error) {
	return f.CreateFn(model)
}

// Resolve delegates to ResolveFn.
func (f *Factory) Resolve(model string) (relay.Vendor, relay.Mode, error) {
	return f.ResolveFn(model)
}
