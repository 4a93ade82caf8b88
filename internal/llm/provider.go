// Package llm contains the provider streaming adapters.
// Each adapter translates one provider's wire protocol (NDJSON for Ollama,
// SSE for OpenAI and Anthropic) into the shared StreamEvent sequence.
package llm

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/conduit-ai/conduit/pkg/types"
)

// Security limits to prevent unbounded memory usage
const (
	// MaxErrorBodySize limits how much error response body we read (1MB)
	MaxErrorBodySize = 1 * 1024 * 1024

	// MaxStreamedResponseSize limits total streamed response size (50MB)
	MaxStreamedResponseSize = 50 * 1024 * 1024
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
// Used on error responses so a malformed body cannot exhaust memory.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// ChatRequest is a provider-agnostic streaming chat request.
type ChatRequest struct {
	// Model is the provider-specific model identifier.
	Model string

	// Messages is the conversation so far, chronological. System messages are
	// mapped per provider (top-level field for Anthropic, inline otherwise).
	Messages []types.Message

	// Temperature controls randomness (0.0-1.0). Zero means provider default.
	Temperature float64

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int
}

// StreamEvent is one element of a normalized response stream.
// Exactly one of Delta, Usage, or Err is meaningful per event. The stream
// ends with either a Usage event (clean termination) or an Err event; the
// channel is closed after the terminal event.
type StreamEvent struct {
	// Delta is an incremental text fragment.
	Delta string

	// Usage carries the final token accounting. Exact counts when the
	// provider reports them, length/4 estimates otherwise.
	Usage *types.Usage

	// Err is a terminal failure, typically a *ProviderError. Deltas already
	// emitted before the failure remain valid.
	Err error
}

// StreamingProvider is the adapter contract. Stream returns immediately with
// a channel the adapter feeds from its own goroutine; cancelling ctx tears
// down the upstream connection and ends the stream.
type StreamingProvider interface {
	// Stream opens a streaming completion. An error return means the request
	// never left (bad input, missing credential); wire failures arrive as
	// StreamEvent.Err instead.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)

	// Name returns the provider identifier used for registry dispatch.
	Name() string
}

// ProviderConfig contains configuration for one adapter.
type ProviderConfig struct {
	// Endpoint is the API base URL.
	Endpoint string

	// APIKey resolves the credential at call time, so rotated keys take
	// effect per request. Nil for providers without authentication.
	APIKey func() string

	// ResponseHeaderTimeout bounds connection + time-to-first-byte. The
	// overall client timeout stays unset: it would fire mid-stream while the
	// body is still being read.
	ResponseHeaderTimeout time.Duration
}

// newStreamingClient builds an HTTP client suitable for held-open streaming
// responses. No Client.Timeout: that covers the entire body read.
func newStreamingClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout == 0 {
		headerTimeout = 2 * time.Minute
	}
	return &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: headerTimeout,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
		},
	}
}

// sendEvent delivers an event unless the context is already gone.
// Returns false when the consumer has left; producers must stop then.
func sendEvent(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- ev:
		return true
	}
}

// estimatePromptTokens sums the length/4 estimate over all input messages.
func estimatePromptTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += types.EstimateTokens(m.Content)
	}
	return total
}

// credential resolves the API key, empty when unset.
func (c *ProviderConfig) credential() string {
	if c.APIKey == nil {
		return ""
	}
	return c.APIKey()
}
