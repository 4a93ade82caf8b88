package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-ai/conduit/pkg/types"
)

func testKey(key string) func() string {
	return func() string { return key }
}

func TestOpenAIStreamDeltasAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: testKey("sk-test")})
	events, err := p.Stream(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	content, usage, streamErr := collect(t, events)
	require.NoError(t, streamErr)
	assert.Equal(t, "Hello", content)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
	assert.Equal(t, 11, usage.TotalTokens)
}

func TestOpenAIStreamEstimatesUsageWhenAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", `{"choices":[{"delta":{"content":"abcdefgh"}}]}`)
		fmt.Fprintf(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: testKey("sk-test")})
	events, err := p.Stream(context.Background(), &ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []types.Message{{Role: types.RoleUser, Content: "12345678"}}, // 8 chars -> 2 tokens
	})
	require.NoError(t, err)

	content, usage, streamErr := collect(t, events)
	require.NoError(t, streamErr)
	assert.Equal(t, "abcdefgh", content)
	require.NotNil(t, usage)
	assert.Equal(t, 2, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
	assert.Equal(t, usage.PromptTokens+usage.CompletionTokens, usage.TotalTokens)
}

func TestOpenAIMissingKeyFailsBeforeDispatch(t *testing.T) {
	p := NewOpenAIProvider(&ProviderConfig{Endpoint: "http://127.0.0.1:1"})
	_, err := p.Stream(context.Background(), &ChatRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, CategoryUnavailable, provErr.Category)
}

func TestOpenAIRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limit"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: testKey("sk-test")})
	_, err := p.Stream(context.Background(), &ChatRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, CategoryRateLimited, provErr.Category)
	assert.Contains(t, provErr.UserMessage(), "try again")
}

func TestOpenAIImageParts(t *testing.T) {
	var captured struct {
		Messages []json.RawMessage `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: server.URL, APIKey: testKey("sk-test")})
	events, err := p.Stream(context.Background(), &ChatRequest{
		Model: "gpt-4o",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "what is this", Images: []string{"aW1n"}},
		},
	})
	require.NoError(t, err)
	collect(t, events)

	require.Len(t, captured.Messages, 1)
	var msg struct {
		Content []openaiContentPart `json:"content"`
	}
	require.NoError(t, json.Unmarshal(captured.Messages[0], &msg))
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "image_url", msg.Content[1].Type)
	assert.Equal(t, "data:image/png;base64,aW1n", msg.Content[1].ImageURL.URL)
}
