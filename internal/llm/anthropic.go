package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/conduit-ai/conduit/pkg/types"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider streams from the Anthropic Messages API. The wire format
// is SSE with typed events (message_start, content_block_delta,
// message_delta, message_stop, error). Anthropic recognizes only user and
// assistant roles in the message list; system content is lifted into the
// request's top-level system field.
type AnthropicProvider struct {
	config *ProviderConfig
	client *http.Client
}

// NewAnthropicProvider creates an Anthropic adapter.
func NewAnthropicProvider(cfg *ProviderConfig) *AnthropicProvider {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com"
	}
	return &AnthropicProvider{
		config: cfg,
		client: newStreamingClient(cfg.ResponseHeaderTimeout),
	}
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Anthropic API types
type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`

	Temperature float64 `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []anthropicContentBlock
}

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`       // always "base64"
	MediaType string `json:"media_type"` // e.g. image/png
	Data      string `json:"data"`
}

type anthropicStreamEvent struct {
	Type string `json:"type"`

	// content_block_delta
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`

		// message_delta carries stop_reason here
		StopReason string `json:"stop_reason"`
	} `json:"delta"`

	// message_start
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`

	// message_delta
	Usage anthropicUsage `json:"usage"`

	// error
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Stream opens a streaming completion against /v1/messages.
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	key := p.config.credential()
	if key == "" {
		return nil, &ProviderError{
			Provider: "anthropic",
			Category: CategoryUnavailable,
			Message:  "no API key configured",
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096 // the Messages API requires an explicit cap
	}

	aReq := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}

	// System messages become the top-level system field, joined in order.
	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == types.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		aReq.Messages = append(aReq.Messages, toAnthropicMessage(msg))
	}
	aReq.System = strings.Join(systemParts, "\n\n")

	body, err := json.Marshal(aReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError("anthropic", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		resp.Body.Close()
		return nil, statusError("anthropic", resp.StatusCode, string(bodyBytes))
	}

	events := make(chan StreamEvent)
	go p.pump(ctx, resp.Body, req, events)
	return events, nil
}

// toAnthropicMessage maps a message onto Anthropic's content-block shape.
// Images attach only to user turns as base64 source blocks.
func toAnthropicMessage(msg types.Message) anthropicMessage {
	role := string(msg.Role)
	if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
		role = string(types.RoleUser)
	}

	if msg.Role == types.RoleUser && len(msg.Images) > 0 {
		blocks := make([]anthropicContentBlock, 0, len(msg.Images)+1)
		for _, img := range msg.Images {
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      strings.TrimPrefix(img, "data:image/png;base64,"),
				},
			})
		}
		blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
		return anthropicMessage{Role: role, Content: blocks}
	}

	return anthropicMessage{Role: role, Content: msg.Content}
}

// pump parses typed SSE events until message_stop, EOF, or failure.
func (p *AnthropicProvider) pump(ctx context.Context, body io.ReadCloser, req *ChatRequest, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	var inputTokens, outputTokens int
	var totalBytes int64
	var completionChars int

	finish := func() {
		var usage types.Usage
		if inputTokens > 0 || outputTokens > 0 {
			usage = types.EstimatedUsage(inputTokens, outputTokens)
		} else {
			usage = types.EstimatedUsage(
				estimatePromptTokens(req.Messages),
				(completionChars+types.CharsPerToken-1)/types.CharsPerToken,
			)
		}
		sendEvent(ctx, events, StreamEvent{Usage: &usage})
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			sendEvent(ctx, events, StreamEvent{Err: transportError("anthropic",
				fmt.Errorf("decode stream event: %w", err))})
			return
		}

		switch event.Type {
		case "message_start":
			inputTokens = event.Message.Usage.InputTokens

		case "content_block_delta":
			text := event.Delta.Text
			if text == "" {
				continue
			}
			totalBytes += int64(len(text))
			if totalBytes > MaxStreamedResponseSize {
				sendEvent(ctx, events, StreamEvent{Err: transportError("anthropic",
					fmt.Errorf("response exceeded %d bytes", MaxStreamedResponseSize))})
				return
			}
			completionChars += len(text)
			if !sendEvent(ctx, events, StreamEvent{Delta: text}) {
				return
			}

		case "message_delta":
			if event.Usage.OutputTokens > 0 {
				outputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			finish()
			return

		case "error":
			sendEvent(ctx, events, StreamEvent{Err: &ProviderError{
				Provider: "anthropic",
				Category: CategoryTransport,
				Message:  event.Error.Message,
			}})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sendEvent(ctx, events, StreamEvent{Err: transportError("anthropic", err)})
		return
	}
	finish()
}
