// Package openai implements [relay.Adapter] for the two OpenAI wire
// protocols: chat completions ([Chat]) and responses ([Responses]).
//
// Requests are built with the official openai-go SDK. Streams are read
// frame by frame from the raw response body so that a single malformed
// chunk is logged and skipped instead of ending the stream; each frame is
// decoded into the SDK's chunk or event type and dispatched through a
// handler table keyed by the vendor event tag.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/fwojciec/relay"
)

// Adapter names, used as error prefixes and in response metadata.
const (
	ChatName      = "openai-chat"
	ResponsesName = "openai-responses"
)

const (
	defaultChatModel      = "gpt-4o"
	defaultResponsesModel = "o4-mini"
)

type config struct {
	baseURL    string
	httpClient *http.Client
	model      string
	remote     []relay.RemoteToolServer
}

// Option configures a [Chat] or [Responses] adapter.
type Option func(*config)

// WithBaseURL sets the API base URL, e.g. "https://api.openai.com/v1".
// Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithRemoteTools registers tool servers the vendor calls on its own.
// Only the responses protocol supports them; a [Responses] adapter with at
// least one remote server is self-executing.
func WithRemoteTools(servers ...relay.RemoteToolServer) Option {
	return func(c *config) { c.remote = append(c.remote, servers...) }
}

func newConfig(model string, opts []Option) config {
	c := config{model: model}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// newClient builds the SDK client. Retries are disabled: a failed vendor
// call is surfaced, never repeated.
func (c config) newClient(apiKey string) oai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}
	return oai.NewClient(opts...)
}

// classifyError converts an SDK or transport error into a
// [relay.ProviderError]. Context cancellation is passed through.
func classifyError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, err)
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return relay.NewProviderError(name, apiErr.StatusCode, apiErr.Message, err)
	}
	return relay.NewProviderError(name, 0, "", err)
}

// codeStatus maps the error codes of in-stream failures to the HTTP status
// the same failure carries before streaming starts.
func codeStatus(code string) int {
	switch {
	case code == "rate_limit_exceeded" || code == "insufficient_quota":
		return http.StatusTooManyRequests
	case code == "server_error" || code == "vector_store_timeout":
		return http.StatusInternalServerError
	case code == "invalid_api_key":
		return http.StatusUnauthorized
	case strings.HasPrefix(code, "invalid_") || strings.HasPrefix(code, "image_") || code == "context_length_exceeded":
		return http.StatusBadRequest
	default:
		return 0
	}
}
