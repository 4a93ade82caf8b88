// Package catalog provides the static registry of backend models.
// The catalog is read-only after initialization; all lookups preserve
// insertion order so routing decisions stay deterministic.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/conduit-ai/conduit/pkg/types"
)

// ErrNotFound is returned by GetModel for an unknown model identifier.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("model %q not found in catalog", e.ID)
}

// Catalog is an insertion-ordered, immutable model registry.
type Catalog struct {
	models []types.Model
	byID   map[string]int
}

// New builds a catalog from the given models.
// Model identifiers must be globally unique.
func New(models []types.Model) (*Catalog, error) {
	c := &Catalog{
		models: make([]types.Model, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}

	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("catalog model with empty id")
		}
		if m.Provider == "" {
			return nil, fmt.Errorf("catalog model %q has no provider", m.ID)
		}
		if m.MaxTokens <= 0 {
			return nil, fmt.Errorf("catalog model %q has invalid max_tokens %d", m.ID, m.MaxTokens)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q in catalog", m.ID)
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}

	return c, nil
}

// ListModels returns all models in insertion order.
func (c *Catalog) ListModels() []types.Model {
	out := make([]types.Model, len(c.models))
	copy(out, c.models)
	return out
}

// GetModel returns the model with the given identifier.
func (c *Catalog) GetModel(id string) (types.Model, error) {
	idx, ok := c.byID[id]
	if !ok {
		return types.Model{}, &ErrNotFound{ID: id}
	}
	return c.models[idx], nil
}

// ModelsForTier returns the subsequence of models usable at the caller's tier
// (model.Tier <= tier), preserving insertion order.
func (c *Catalog) ModelsForTier(tier types.Tier) []types.Model {
	var out []types.Model
	for _, m := range c.models {
		if m.Tier <= tier {
			out = append(out, m)
		}
	}
	return out
}

// ModelsForTask returns the tier-eligible models whose capability set contains
// the given task. An empty result is valid: callers must fall back to
// ModelsForTier in full, since low catalog configurations may have no
// dedicated model for a category.
func (c *Catalog) ModelsForTask(task types.TaskCategory, tier types.Tier) []types.Model {
	var out []types.Model
	for _, m := range c.ModelsForTier(tier) {
		if m.HasCapability(task) {
			out = append(out, m)
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// CATALOG LOADING
// ═══════════════════════════════════════════════════════════════════════════════

// modelSpec is the YAML representation of a catalog entry.
// Tier is a name string in the file and validated on load.
type modelSpec struct {
	ID           string   `yaml:"id"`
	DisplayName  string   `yaml:"display_name"`
	Provider     string   `yaml:"provider"`
	Capabilities []string `yaml:"capabilities"`
	Tier         string   `yaml:"tier"`
	MaxTokens    int      `yaml:"max_tokens"`
	Vision       bool     `yaml:"vision"`
	Description  string   `yaml:"description"`
}

type catalogFile struct {
	Models []modelSpec `yaml:"models"`
}

var validTasks = map[types.TaskCategory]bool{
	types.TaskGeneral:       true,
	types.TaskCoding:        true,
	types.TaskCreative:      true,
	types.TaskAnalysis:      true,
	types.TaskSummarization: true,
}

var validTiers = map[string]bool{"free": true, "pro": true, "enterprise": true}

// LoadFile reads a YAML catalog file and builds a catalog from it.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no models", path)
	}

	models := make([]types.Model, 0, len(file.Models))
	for _, spec := range file.Models {
		if !validTiers[spec.Tier] {
			return nil, fmt.Errorf("model %q has unknown tier %q", spec.ID, spec.Tier)
		}
		caps := make([]types.TaskCategory, 0, len(spec.Capabilities))
		for _, cap := range spec.Capabilities {
			task := types.TaskCategory(cap)
			if !validTasks[task] {
				return nil, fmt.Errorf("model %q has unknown capability %q", spec.ID, cap)
			}
			caps = append(caps, task)
		}
		models = append(models, types.Model{
			ID:           spec.ID,
			DisplayName:  spec.DisplayName,
			Provider:     spec.Provider,
			Capabilities: caps,
			Tier:         types.ParseTier(spec.Tier),
			MaxTokens:    spec.MaxTokens,
			Vision:       spec.Vision,
			Description:  spec.Description,
		})
	}

	return New(models)
}

// ═══════════════════════════════════════════════════════════════════════════════
// DEFAULT CATALOG
// ═══════════════════════════════════════════════════════════════════════════════

// Default returns the built-in catalog used when no catalog file is
// configured. Insertion order here is the deterministic tie-break order for
// routing, so free local models come first.
func Default() *Catalog {
	c, err := New([]types.Model{
		{
			ID:           "llama3.1:8b",
			DisplayName:  "Llama 3.1 8B",
			Provider:     "ollama",
			Capabilities: []types.TaskCategory{types.TaskGeneral, types.TaskSummarization},
			Tier:         types.TierFree,
			MaxTokens:    8192,
			Description:  "Local general-purpose model, no API key required",
		},
		{
			ID:           "qwen2.5-coder:7b",
			DisplayName:  "Qwen 2.5 Coder 7B",
			Provider:     "ollama",
			Capabilities: []types.TaskCategory{types.TaskCoding},
			Tier:         types.TierFree,
			MaxTokens:    32768,
			Description:  "Local coding model",
		},
		{
			ID:           "gpt-4o-mini",
			DisplayName:  "GPT-4o Mini",
			Provider:     "openai",
			Capabilities: []types.TaskCategory{types.TaskGeneral, types.TaskCoding, types.TaskAnalysis, types.TaskSummarization},
			Tier:         types.TierPro,
			MaxTokens:    128000,
			Vision:       true,
			Description:  "Fast, inexpensive cloud model",
		},
		{
			ID:           "claude-3-5-haiku-20241022",
			DisplayName:  "Claude 3.5 Haiku",
			Provider:     "anthropic",
			Capabilities: []types.TaskCategory{types.TaskGeneral, types.TaskCreative, types.TaskSummarization},
			Tier:         types.TierPro,
			MaxTokens:    200000,
			Description:  "Fast cloud model with strong writing quality",
		},
		{
			ID:           "gpt-4o",
			DisplayName:  "GPT-4o",
			Provider:     "openai",
			Capabilities: []types.TaskCategory{types.TaskGeneral, types.TaskCoding, types.TaskCreative, types.TaskAnalysis, types.TaskSummarization},
			Tier:         types.TierEnterprise,
			MaxTokens:    128000,
			Vision:       true,
			Description:  "Frontier all-around model",
		},
		{
			ID:           "claude-sonnet-4-20250514",
			DisplayName:  "Claude Sonnet 4",
			Provider:     "anthropic",
			Capabilities: []types.TaskCategory{types.TaskGeneral, types.TaskCoding, types.TaskCreative, types.TaskAnalysis},
			Tier:         types.TierEnterprise,
			MaxTokens:    200000,
			Vision:       true,
			Description:  "Frontier model with excellent coding and reasoning",
		},
	})
	if err != nil {
		// The built-in catalog is validated by tests; an error here is a bug.
		panic(err)
	}
	return c
}
