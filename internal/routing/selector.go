package routing

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"github.com/conduit-ai/conduit/internal/catalog"
	"github.com/conduit-ai/conduit/internal/classify"
	"github.com/conduit-ai/conduit/pkg/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODEL SELECTOR
// ═══════════════════════════════════════════════════════════════════════════════

// Selector makes routing decisions. It is stateless apart from its
// collaborators; Select is safe for concurrent use.
type Selector struct {
	catalog *catalog.Catalog
	oracle  *Oracle
	log     zerolog.Logger
}

// NewSelector builds a selector over the given catalog and oracle.
func NewSelector(cat *catalog.Catalog, oracle *Oracle, log zerolog.Logger) *Selector {
	return &Selector{catalog: cat, oracle: oracle, log: log}
}

// Select picks one model for the input and decides segmentation.
//
// Availability is preferred over raw tier: an unreachable better model is a
// hard failure while a reachable lesser one still answers. An explicit model
// id inside the caller's eligibility wins over everything, availability
// included; outside eligibility it is ignored and normal ordering applies,
// with the divergence flagged on the output.
func (s *Selector) Select(ctx context.Context, in Input) (*Output, error) {
	task := in.Task
	if task == "" {
		task = classify.Classify(in.Prompt)
	}

	candidates := s.catalog.ModelsForTask(task, in.Tier)
	if len(candidates) == 0 {
		candidates = s.catalog.ModelsForTier(in.Tier)
	}
	if len(candidates) == 0 {
		return nil, ErrNoEligibleModel
	}

	out := &Output{Task: task}

	// Explicit caller intent wins within eligibility, even over availability.
	if in.ModelID != "" {
		if m, ok := findModel(candidates, in.ModelID); ok {
			out.Model = m
			s.finish(out, in.Prompt)
			return out, nil
		}
		out.Substituted = true
		out.Reason = "requested model " + in.ModelID + " is not eligible, routed automatically"
		s.log.Warn().
			Str("model", in.ModelID).
			Str("tier", in.Tier.String()).
			Msg("explicit model outside eligibility, falling through to routing")
	}

	if in.Provider != "" {
		narrowed := filterProvider(candidates, in.Provider)
		if len(narrowed) > 0 {
			candidates = narrowed
		} else if !out.Substituted {
			out.Substituted = true
			out.Reason = "no eligible model from provider " + in.Provider + ", routed automatically"
		}
	}

	var available, unavailable []types.Model
	for _, m := range candidates {
		if s.oracle.Available(ctx, m.Provider) {
			available = append(available, m)
		} else {
			unavailable = append(unavailable, m)
		}
	}

	// Higher tiers first within each partition; catalog insertion order breaks
	// ties, so repeated runs with unchanged state pick the same model.
	byTierDesc(available)
	byTierDesc(unavailable)

	if len(available) > 0 {
		out.Model = available[0]
	} else {
		out.Model = unavailable[0]
		if out.Reason == "" {
			out.Reason = "no provider currently available, proceeding with " + out.Model.ID
		}
		s.log.Warn().
			Str("model", out.Model.ID).
			Str("provider", out.Model.Provider).
			Msg("no available provider for any candidate, dispatch will surface the real failure")
	}

	s.finish(out, in.Prompt)
	return out, nil
}

// finish attaches segments when the prompt estimate exceeds half the model's
// context window.
func (s *Selector) finish(out *Output, prompt string) {
	budget := out.Model.MaxTokens / 2
	if types.EstimateTokens(prompt) > budget {
		out.Segments = Segment(prompt, budget, s.log)
		s.log.Debug().
			Str("model", out.Model.ID).
			Int("segments", len(out.Segments)).
			Msg("prompt segmented")
		return
	}
	out.Segments = []string{prompt}
}

func findModel(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return types.Model{}, false
}

func filterProvider(models []types.Model, provider string) []types.Model {
	var out []types.Model
	for _, m := range models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

func byTierDesc(models []types.Model) {
	sort.SliceStable(models, func(i, j int) bool {
		return models[i].Tier > models[j].Tier
	})
}
