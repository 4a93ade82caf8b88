package llm

import (
	"context"
	"fmt"

	"github.com/conduit-ai/conduit/pkg/types"
)

// Registry dispatches requests to adapters by the catalog's provider field.
// Dispatch never inspects model id strings; the provider name on the Model
// is the single source of truth.
type Registry struct {
	providers map[string]StreamingProvider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]StreamingProvider)}
}

// Register adds an adapter under its own name.
func (r *Registry) Register(p StreamingProvider) {
	r.providers[p.Name()] = p
}

// Provider returns the adapter for a provider name.
func (r *Registry) Provider(name string) (StreamingProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", name)
	}
	return p, nil
}

// Stream dispatches to the model's provider after a capability check: a
// request with images against a non-vision model fails here, before any
// network call.
func (r *Registry) Stream(ctx context.Context, model types.Model, req *ChatRequest) (<-chan StreamEvent, error) {
	if !model.Vision && hasImages(req.Messages) {
		return nil, &ProviderError{
			Provider: model.Provider,
			Category: CategoryRejected,
			Message:  fmt.Sprintf("model %s does not accept image attachments", model.ID),
		}
	}

	p, err := r.Provider(model.Provider)
	if err != nil {
		return nil, err
	}
	return p.Stream(ctx, req)
}

func hasImages(messages []types.Message) bool {
	for _, m := range messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}
