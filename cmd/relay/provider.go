package main

import (
	"errors"

	"github.com/fwojciec/relay/config"
	"github.com/fwojciec/relay/provider"
)

// registryConfig builds the adapter registry configuration. At least one
// vendor key must be set; adapters of a vendor without a key fail on first
// use.
func registryConfig(cfg *config.Config) (provider.Config, error) {
	if cfg.OpenAI.APIKey == "" && cfg.Anthropic.APIKey == "" {
		return provider.Config{}, errors.New("no API key found: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	return provider.Config{
		OpenAIKey:        cfg.OpenAI.APIKey,
		OpenAIBaseURL:    cfg.OpenAI.BaseURL,
		AnthropicKey:     cfg.Anthropic.APIKey,
		AnthropicBaseURL: cfg.Anthropic.BaseURL,
		RemoteTools:      cfg.MCP.RemoteTools(),
	}, nil
}
