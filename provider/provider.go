// Package provider selects and caches vendor adapters by model name.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/fwojciec/relay"
	"github.com/fwojciec/relay/anthropic"
	"github.com/fwojciec/relay/openai"
)

var (
	// ErrUnknownModel indicates no vendor serves the requested model.
	ErrUnknownModel = errors.New("provider: unknown model")

	// ErrMissingKey indicates the vendor's API key is not configured.
	ErrMissingKey = errors.New("provider: api key not set")
)

// Config holds the credentials and endpoints used to build adapters.
type Config struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	AnthropicBaseURL string
	HTTPClient       *http.Client

	// RemoteTools are handed to the responses adapter, making it
	// self-executing.
	RemoteTools []relay.RemoteToolServer
}

type cacheKey struct {
	vendor relay.Vendor
	mode   relay.Mode
}

// Registry builds adapters and keeps one instance per (vendor, mode).
// Concurrent first use of the same pair builds a single instance.
type Registry struct {
	cfg Config

	mu    sync.Mutex
	cache map[cacheKey]relay.Adapter
	group singleflight.Group
}

// New returns an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{cfg: cfg, cache: make(map[cacheKey]relay.Adapter)}
}

// reasoningFamilies are the OpenAI model families served by the responses
// protocol.
var reasoningFamilies = []string{"o1", "o3", "o4", "gpt-5"}

// Resolve maps a model name to its vendor and mode.
func Resolve(model string) (relay.Vendor, relay.Mode, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "claude-"):
		return relay.VendorAnthropic, relay.ModeStandard, nil
	case inFamily(m, reasoningFamilies):
		return relay.VendorOpenAI, relay.ModeReasoning, nil
	case strings.HasPrefix(m, "gpt-") || strings.HasPrefix(m, "chatgpt-"):
		return relay.VendorOpenAI, relay.ModeStandard, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// inFamily reports whether m is one of families or a dated/sized variant of
// one ("o3", "o3-mini", "gpt-5-2025-08-07").
func inFamily(m string, families []string) bool {
	for _, f := range families {
		if m == f || strings.HasPrefix(m, f+"-") {
			return true
		}
	}
	return false
}

// Resolve maps a model name to its vendor and mode.
func (r *Registry) Resolve(model string) (relay.Vendor, relay.Mode, error) {
	return Resolve(model)
}

// Create returns the cached adapter serving model, building it on first use.
func (r *Registry) Create(model string) (relay.Adapter, error) {
	vendor, mode, err := Resolve(model)
	if err != nil {
		return nil, err
	}
	key := cacheKey{vendor, mode}

	r.mu.Lock()
	a, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return a, nil
	}

	v, err, _ := r.group.Do(string(vendor)+"/"+string(mode), func() (any, error) {
		r.mu.Lock()
		if a, ok := r.cache[key]; ok {
			r.mu.Unlock()
			return a, nil
		}
		r.mu.Unlock()

		a, err := r.build(vendor, mode)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = a
		r.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(relay.Adapter), nil
}

// CreateNew builds a fresh adapter for model, bypassing the cache.
func (r *Registry) CreateNew(model string) (relay.Adapter, error) {
	vendor, mode, err := Resolve(model)
	if err != nil {
		return nil, err
	}
	return r.build(vendor, mode)
}

// ClearCache drops every cached adapter.
func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[cacheKey]relay.Adapter)
	r.mu.Unlock()
}

func (r *Registry) build(vendor relay.Vendor, mode relay.Mode) (relay.Adapter, error) {
	switch vendor {
	case relay.VendorAnthropic:
		if r.cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("%w: anthropic", ErrMissingKey)
		}
		var opts []anthropic.Option
		if r.cfg.AnthropicBaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(r.cfg.AnthropicBaseURL))
		}
		if r.cfg.HTTPClient != nil {
			opts = append(opts, anthropic.WithHTTPClient(r.cfg.HTTPClient))
		}
		return anthropic.New(r.cfg.AnthropicKey, opts...), nil
	case relay.VendorOpenAI:
		if r.cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingKey)
		}
		var opts []openai.Option
		if r.cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(r.cfg.OpenAIBaseURL))
		}
		if r.cfg.HTTPClient != nil {
			opts = append(opts, openai.WithHTTPClient(r.cfg.HTTPClient))
		}
		if mode == relay.ModeReasoning {
			opts = append(opts, openai.WithRemoteTools(r.cfg.RemoteTools...))
			return openai.NewResponses(r.cfg.OpenAIKey, opts...), nil
		}
		return openai.NewChat(r.cfg.OpenAIKey, opts...), nil
	default:
		return nil, fmt.Errorf("%w: vendor %q", ErrUnknownModel, vendor)
	}
}

// Codec returns the input codec of the protocol serving model.
func Codec(model string) (relay.InputCodec, error) {
	vendor, mode, err := Resolve(model)
	if err != nil {
		return nil, err
	}
	switch {
	case vendor == relay.VendorAnthropic:
		return anthropic.Codec{}, nil
	case mode == relay.ModeReasoning:
		return openai.ResponsesCodec{}, nil
	default:
		return openai.ChatCodec{}, nil
	}
}
