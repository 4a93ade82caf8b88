package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/conduit-ai/conduit/pkg/types"
)

// OllamaProvider streams from a local Ollama daemon. The wire format is
// newline-delimited JSON objects on a held-open chunked response; the final
// object carries done=true plus exact token counts.
type OllamaProvider struct {
	config *ProviderConfig
	client *http.Client
}

// NewOllamaProvider creates an Ollama adapter.
func NewOllamaProvider(cfg *ProviderConfig) *OllamaProvider {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://127.0.0.1:11434"
	}
	return &OllamaProvider{
		config: cfg,
		client: newStreamingClient(cfg.ResponseHeaderTimeout),
	}
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Ollama API types
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64, no data-URI prefix
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Stream opens a streaming chat completion against /api/chat.
func (p *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	ollamaReq := ollamaChatRequest{
		Model:  req.Model,
		Stream: true,
	}
	for _, msg := range req.Messages {
		om := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		if msg.Role == types.RoleUser && len(msg.Images) > 0 {
			om.Images = msg.Images
		}
		ollamaReq.Messages = append(ollamaReq.Messages, om)
	}
	ollamaReq.Options.Temperature = req.Temperature
	ollamaReq.Options.NumPredict = req.MaxTokens

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError("ollama", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := readLimitedBody(resp.Body, MaxErrorBodySize)
		resp.Body.Close()
		return nil, statusError("ollama", resp.StatusCode, string(bodyBytes))
	}

	events := make(chan StreamEvent)
	go p.pump(ctx, resp.Body, req, events)
	return events, nil
}

// pump decodes NDJSON chunks into events until done=true, EOF, or failure.
func (p *OllamaProvider) pump(ctx context.Context, body io.ReadCloser, req *ChatRequest, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	decoder := json.NewDecoder(body)
	var totalBytes int64
	var completionChars int

	for {
		var chunk ollamaChatResponse
		if err := decoder.Decode(&chunk); err != nil {
			if err == io.EOF {
				// Stream ended without a done marker: estimate usage.
				usage := types.EstimatedUsage(
					estimatePromptTokens(req.Messages),
					(completionChars+types.CharsPerToken-1)/types.CharsPerToken,
				)
				sendEvent(ctx, events, StreamEvent{Usage: &usage})
				return
			}
			sendEvent(ctx, events, StreamEvent{Err: transportError("ollama", err)})
			return
		}

		if content := chunk.Message.Content; content != "" {
			totalBytes += int64(len(content))
			if totalBytes > MaxStreamedResponseSize {
				sendEvent(ctx, events, StreamEvent{Err: transportError("ollama",
					fmt.Errorf("response exceeded %d bytes", MaxStreamedResponseSize))})
				return
			}
			completionChars += len(content)
			if !sendEvent(ctx, events, StreamEvent{Delta: content}) {
				return
			}
		}

		if chunk.Done {
			// Final chunk reports exact counts.
			usage := types.EstimatedUsage(chunk.PromptEvalCount, chunk.EvalCount)
			sendEvent(ctx, events, StreamEvent{Usage: &usage})
			return
		}
	}
}
