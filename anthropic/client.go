package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fwojciec/relay"
)

// Interface compliance check.
var _ relay.Adapter = (*Client)(nil)

// Client implements [relay.Adapter] for the Anthropic Messages API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// New creates a new Anthropic [Client] with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Name returns the adapter name.
func (c *Client) Name() string { return Name }

// SupportsFeature reports the capabilities of the Messages protocol as
// implemented here.
func (c *Client) SupportsFeature(f relay.Feature) bool {
	switch f {
	case relay.FeatureTemperature, relay.FeatureToolCalling, relay.FeatureStreaming, relay.FeatureSystemMessage:
		return true
	default:
		return false
	}
}

// ValidateConfig checks req against the adapter's capabilities.
func (c *Client) ValidateConfig(req relay.Request) relay.ConfigReport {
	r := relay.ValidateRequest(c, req)
	if req.Temperature != nil && *req.Temperature > 1 {
		r.Errors = append(r.Errors, "anthropic temperature must be between 0 and 1")
		r.Valid = false
	}
	if req.ReasoningSummary != "" {
		r.Warnings = append(r.Warnings, "reasoning summary is ignored by anthropic")
	}
	return r
}

// Chat sends req and waits for the complete response.
func (c *Client) Chat(ctx context.Context, req relay.Request) (*relay.ChatResult, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return relay.Collect(s)
}

// Stream sends a streaming request to the Anthropic Messages API and returns
// a [relay.Stream] of normalized events.
func (c *Client) Stream(ctx context.Context, req relay.Request) (relay.Stream, error) {
	body, err := c.buildRequestBody(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, relay.NewProviderError(Name, 0, "", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseHTTPError(resp)
	}

	return newStream(ctx, resp.Body), nil
}

func (c *Client) buildRequestBody(req relay.Request) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	messages, err := convertEvents(req.Events)
	if err != nil {
		return nil, err
	}

	apiReq := apiRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Stream:      true,
		System:      convertSystem(req.SystemPrompt, req.Events),
		Messages:    messages,
		Tools:       convertTools(req.Tools),
		Temperature: req.Temperature,
	}
	injectCacheMarkers(&apiReq)

	return json.Marshal(apiReq)
}

// convertSystem gathers the system prompt and any system events into the
// top-level system blocks. Returns nil when there is no system text.
func convertSystem(prompt string, events []relay.Event) []apiContentBlock {
	var blocks []apiContentBlock
	if prompt != "" {
		blocks = append(blocks, apiContentBlock{Type: "text", Text: prompt})
	}
	for _, e := range events {
		if e.Role != relay.RoleSystem {
			continue
		}
		if text := e.Text(); text != "" {
			blocks = append(blocks, apiContentBlock{Type: "text", Text: text})
		}
	}
	return blocks
}

// injectCacheMarkers sets cache_control breakpoints on the request:
//  1. Top-level: automatic caching for the conversation message window.
//  2. System prompt last block: stable content breakpoint.
//  3. Last tool: stable tool definitions breakpoint.
func injectCacheMarkers(req *apiRequest) {
	// cc is shared across all breakpoints; safe because it is read-only after assignment.
	cc := &apiCacheControl{Type: "ephemeral"}
	req.CacheControl = cc
	if len(req.System) > 0 {
		req.System[len(req.System)-1].CacheControl = cc
	}
	if len(req.Tools) > 0 {
		req.Tools[len(req.Tools)-1].CacheControl = cc
	}
}

func convertTools(tools []relay.Tool) []apiTool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]apiTool, len(tools))
	for i, t := range tools {
		schema := t.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		result[i] = apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		}
	}
	return result
}

func parseHTTPError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return relay.NewProviderError(Name, resp.StatusCode, "failed to read body", err)
	}
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Error.Message == "" {
		return relay.NewProviderError(Name, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	return relay.NewProviderError(Name, resp.StatusCode, apiErr.Error.Type+": "+apiErr.Error.Message, nil)
}
