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

// OpenAIProvider streams chat completions over SSE. Lines arrive as
// "data: {json}" records terminated by a "data: [DONE]" sentinel; exact token
// counts ride on a final usage-only chunk when stream_options requests them.
type OpenAIProvider struct {
	config *ProviderConfig
	client *http.Client
}

// NewOpenAIProvider creates an OpenAI adapter.
func NewOpenAIProvider(cfg *ProviderConfig) *OpenAIProvider {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		config: cfg,
		client: newStreamingClient(cfg.ResponseHeaderTimeout),
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// OpenAI API types
type openaiChatRequest struct {
	Model         string              `json:"model"`
	Messages      []openaiMessage     `json:"messages"`
	Temperature   float64             `json:"temperature,omitempty"`
	MaxTokens     int                 `json:"max_tokens,omitempty"`
	Stream        bool                `json:"stream"`
	StreamOptions openaiStreamOptions `json:"stream_options"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// openaiMessage carries either a plain string content or a part list when
// images are attached; Content is marshalled accordingly.
type openaiMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Stream opens a streaming completion against /chat/completions.
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	key := p.config.credential()
	if key == "" {
		return nil, &ProviderError{
			Provider: "openai",
			Category: CategoryUnavailable,
			Message:  "no API key configured",
		}
	}

	oaReq := openaiChatRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: openaiStreamOptions{IncludeUsage: true},
	}
	for _, msg := range req.Messages {
		oaReq.Messages = append(oaReq.Messages, toOpenAIMessage(msg))
	}

	body, err := json.Marshal(oaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError("openai", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		resp.Body.Close()
		return nil, statusError("openai", resp.StatusCode, string(bodyBytes))
	}

	events := make(chan StreamEvent)
	go p.pump(ctx, resp.Body, req, events)
	return events, nil
}

// toOpenAIMessage maps a message onto OpenAI's content shape. Image parts are
// only attached on user turns; other roles pass text through unchanged.
func toOpenAIMessage(msg types.Message) openaiMessage {
	if msg.Role == types.RoleUser && len(msg.Images) > 0 {
		parts := []openaiContentPart{{Type: "text", Text: msg.Content}}
		for _, img := range msg.Images {
			url := img
			if !strings.HasPrefix(url, "data:") {
				url = "data:image/png;base64," + url
			}
			parts = append(parts, openaiContentPart{
				Type:     "image_url",
				ImageURL: &openaiImageURL{URL: url},
			})
		}
		return openaiMessage{Role: string(msg.Role), Content: parts}
	}
	return openaiMessage{Role: string(msg.Role), Content: msg.Content}
}

// pump parses SSE lines into events until [DONE], EOF, or failure.
func (p *OpenAIProvider) pump(ctx context.Context, body io.ReadCloser, req *ChatRequest, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	var usage *types.Usage
	var totalBytes int64
	var completionChars int

	finish := func() {
		if usage == nil {
			u := types.EstimatedUsage(
				estimatePromptTokens(req.Messages),
				(completionChars+types.CharsPerToken-1)/types.CharsPerToken,
			)
			usage = &u
		}
		sendEvent(ctx, events, StreamEvent{Usage: usage})
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			finish()
			return
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			sendEvent(ctx, events, StreamEvent{Err: transportError("openai",
				fmt.Errorf("decode stream chunk: %w", err))})
			return
		}

		if chunk.Usage != nil {
			usage = &types.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			totalBytes += int64(len(choice.Delta.Content))
			if totalBytes > MaxStreamedResponseSize {
				sendEvent(ctx, events, StreamEvent{Err: transportError("openai",
					fmt.Errorf("response exceeded %d bytes", MaxStreamedResponseSize))})
				return
			}
			completionChars += len(choice.Delta.Content)
			if !sendEvent(ctx, events, StreamEvent{Delta: choice.Delta.Content}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		sendEvent(ctx, events, StreamEvent{Err: transportError("openai", err)})
		return
	}
	// EOF without [DONE]: treat as clean termination with whatever we have.
	finish()
}
