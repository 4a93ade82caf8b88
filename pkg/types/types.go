// Package types defines shared types used across all Conduit modules.
package types

import "time"

// ═══════════════════════════════════════════════════════════════════════════════
// TOKEN ESTIMATION
// ═══════════════════════════════════════════════════════════════════════════════

// CharsPerToken is the heuristic for token estimation (~4 chars per token).
// This is a common approximation for English text with LLM tokenizers.
const CharsPerToken = 4

// EstimateTokens provides a rough token estimate for a given text, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + CharsPerToken - 1) / CharsPerToken
}

// ═══════════════════════════════════════════════════════════════════════════════
// SUBSCRIPTION TIERS
// ═══════════════════════════════════════════════════════════════════════════════

// Tier is a subscription level governing model eligibility.
// Tiers are totally ordered: TierFree < TierPro < TierEnterprise.
type Tier int

const (
	TierFree Tier = iota
	TierPro
	TierEnterprise
)

// String returns the tier name for display and serialization.
func (t Tier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierPro:
		return "pro"
	case TierEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// ParseTier converts a tier name to a Tier. Unknown names map to TierFree,
// the safest eligibility floor.
func ParseTier(s string) Tier {
	switch s {
	case "pro":
		return TierPro
	case "enterprise":
		return TierEnterprise
	default:
		return TierFree
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TASK CATEGORIES
// ═══════════════════════════════════════════════════════════════════════════════

// TaskCategory is a heuristic label describing the nature of a prompt.
// It is derived per request and never persisted.
type TaskCategory string

const (
	TaskGeneral       TaskCategory = "general"
	TaskCoding        TaskCategory = "coding"
	TaskCreative      TaskCategory = "creative"
	TaskAnalysis      TaskCategory = "analysis"
	TaskSummarization TaskCategory = "summarization"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MODELS
// ═══════════════════════════════════════════════════════════════════════════════

// Model describes a backend model in the catalog. Models are immutable after
// catalog initialization.
type Model struct {
	// ID is the globally unique model identifier (e.g., "llama3.1:8b").
	ID string `json:"id" yaml:"id"`

	// DisplayName is the human-readable model name.
	DisplayName string `json:"display_name" yaml:"display_name"`

	// Provider is the backend that serves this model (ollama, openai, anthropic).
	// Adapter dispatch is keyed on this field, never on ID prefixes.
	Provider string `json:"provider" yaml:"provider"`

	// Capabilities is the ordered set of task categories this model is suited for.
	Capabilities []TaskCategory `json:"capabilities" yaml:"capabilities"`

	// Tier is the minimum subscription tier required to use this model.
	Tier Tier `json:"tier" yaml:"-"`

	// MaxTokens is the model's context window size in tokens.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`

	// Vision indicates the model accepts image attachments.
	Vision bool `json:"vision,omitempty" yaml:"vision,omitempty"`

	// Description is optional human-readable context for model pickers.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// HasCapability reports whether the model is tagged for the given task.
func (m Model) HasCapability(task TaskCategory) bool {
	for _, c := range m.Capabilities {
		if c == task {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Usage is the token accounting for a single exchange. Values are estimates
// (content length / 4) when the provider does not report exact counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// EstimatedUsage builds a Usage record from the token estimation heuristic,
// keeping the total = prompt + completion invariant by construction.
func EstimatedUsage(promptTokens, completionTokens int) Usage {
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	}
}

// Message is a single chat message. A Message is owned by exactly one Chat.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Images      []string  `json:"images,omitempty"` // base64-encoded attachments
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Model is the identifier of the model that produced an assistant message.
	Model string `json:"model,omitempty"`

	// Usage is attached once a response completes.
	Usage *Usage `json:"usage,omitempty"`

	// Loading is true only while a response is being streamed into this
	// message. It is transient state and is not persisted.
	Loading bool `json:"loading,omitempty"`
}

// Chat is an ordered, append-only conversation owned by a single caller.
type Chat struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	Messages     []Message `json:"messages"`
	DefaultModel string    `json:"default_model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultChatTitle is the placeholder title before the first exchange completes.
const DefaultChatTitle = "New chat"
