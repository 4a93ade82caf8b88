// Package routing picks the backend model for each prompt.
// It combines the task classifier, the model catalog, and the availability
// oracle into a single deterministic selection pass, and decides whether the
// prompt needs segmentation before dispatch.
package routing

import (
	"errors"

	"github.com/conduit-ai/conduit/pkg/types"
)

// ErrNoEligibleModel is returned when the caller's tier admits no model at
// all. This is a routing failure, not a provider failure: nothing was
// dispatched.
var ErrNoEligibleModel = errors.New("no model eligible for caller tier")

// Input is one routing request.
type Input struct {
	// Prompt is the user's message text.
	Prompt string

	// Tier is the caller's subscription level.
	Tier types.Tier

	// ModelID, when set, is an explicit model request that bypasses
	// capability matching and availability (but not tier eligibility).
	ModelID string

	// Provider, when set, narrows candidates to a single provider.
	Provider string

	// Task, when set, overrides keyword classification.
	Task types.TaskCategory

	// Images are base64 attachments; their presence requires a vision model
	// at dispatch time but does not influence selection here.
	Images []string
}

// Output is a completed routing decision.
type Output struct {
	// Model is the selected backend model.
	Model types.Model

	// Task is the category the prompt was classified (or overridden) as.
	Task types.TaskCategory

	// Segments holds the prompt split into dispatchable pieces. It always has
	// at least one element; a single element means no segmentation happened.
	Segments []string

	// Substituted is true when the decision diverged from what the caller
	// asked for (explicit model unavailable, preferred provider skipped).
	// The divergence is surfaced to clients rather than hidden.
	Substituted bool

	// Reason is a short human-readable note set when Substituted is true, or
	// when the selector had to fall back to an unavailable model.
	Reason string
}

// Segmented reports whether the prompt was split.
func (o *Output) Segmented() bool {
	return len(o.Segments) > 1
}
