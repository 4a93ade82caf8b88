package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-ai/conduit/pkg/types"
)

// collect drains a stream into deltas, final usage, and terminal error.
func collect(t *testing.T, events <-chan StreamEvent) (string, *types.Usage, error) {
	t.Helper()
	var content string
	var usage *types.Usage
	var streamErr error
	for ev := range events {
		switch {
		case ev.Err != nil:
			streamErr = ev.Err
		case ev.Usage != nil:
			usage = ev.Usage
		default:
			content += ev.Delta
		}
	}
	return content, usage, streamErr
}

func TestOllamaStreamDeltasAndExactUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3.1:8b", req.Model)

		flusher := w.(http.Flusher)
		chunks := []string{
			`{"model":"llama3.1:8b","message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"model":"llama3.1:8b","message":{"role":"assistant","content":", world"},"done":false}`,
			`{"model":"llama3.1:8b","message":{"role":"assistant","content":"!"},"done":true,"prompt_eval_count":12,"eval_count":3}`,
		}
		for _, c := range chunks {
			fmt.Fprintln(w, c)
			flusher.Flush()
		}
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	events, err := p.Stream(context.Background(), &ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	content, usage, streamErr := collect(t, events)
	require.NoError(t, streamErr)
	assert.Equal(t, "Hello, world!", content)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.PromptTokens)
	assert.Equal(t, 3, usage.CompletionTokens)
	assert.Equal(t, 15, usage.TotalTokens)
}

func TestOllamaStreamErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	_, err := p.Stream(context.Background(), &ChatRequest{Model: "nope"})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, CategoryRejected, provErr.Category)
	assert.Equal(t, http.StatusNotFound, provErr.Status)
}

func TestOllamaStreamMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"model":"m","message":{"content":"partial"},"done":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `this is not json`)
		flusher.Flush()
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	events, err := p.Stream(context.Background(), &ChatRequest{Model: "m"})
	require.NoError(t, err)

	content, _, streamErr := collect(t, events)
	// Deltas before the failure remain valid.
	assert.Equal(t, "partial", content)
	require.Error(t, streamErr)

	var provErr *ProviderError
	require.ErrorAs(t, streamErr, &provErr)
	assert.Equal(t, CategoryTransport, provErr.Category)
}

func TestOllamaStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"model":"m","message":{"content":"first"},"done":false}`)
		flusher.Flush()
		<-release // hold the stream open
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	events, err := p.Stream(ctx, &ChatRequest{Model: "m"})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, "first", ev.Delta)

	cancel()

	// The pump must shut down promptly once the consumer is gone.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func TestOllamaImagesOnlyOnUserMessages(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprintln(w, `{"model":"m","message":{"content":"ok"},"done":true,"prompt_eval_count":1,"eval_count":1}`)
	}))
	defer server.Close()

	p := NewOllamaProvider(&ProviderConfig{Endpoint: server.URL})
	events, err := p.Stream(context.Background(), &ChatRequest{
		Model: "m",
		Messages: []types.Message{
			{Role: types.RoleAssistant, Content: "earlier", Images: []string{"c3RhbGU="}},
			{Role: types.RoleUser, Content: "look", Images: []string{"aW1n"}},
		},
	})
	require.NoError(t, err)
	collect(t, events)

	require.Len(t, captured.Messages, 2)
	assert.Empty(t, captured.Messages[0].Images)
	assert.Equal(t, []string{"aW1n"}, captured.Messages[1].Images)
}
