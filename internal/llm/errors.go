package llm

import (
	"fmt"
	"net/http"
)

// ErrorCategory partitions provider failures for caller-facing messaging.
type ErrorCategory string

const (
	// CategoryUnavailable: no usable credential for the selected provider.
	CategoryUnavailable ErrorCategory = "unavailable"

	// CategoryRejected: authentication, authorization, or request validation
	// failure. Not retried.
	CategoryRejected ErrorCategory = "rejected"

	// CategoryRateLimited: provider signaled throttling.
	CategoryRateLimited ErrorCategory = "rate_limited"

	// CategoryTransport: dropped connection, malformed framing, or decode
	// failure mid-stream.
	CategoryTransport ErrorCategory = "transport"
)

// ProviderError is a typed upstream failure. Deltas delivered before the
// error stay valid; the error only terminates the stream.
type ProviderError struct {
	Provider string
	Category ErrorCategory
	Status   int // HTTP status when applicable, 0 otherwise
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Category, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Category, e.Message)
}

// UserMessage returns the caller-displayable text for this failure.
// Provider internals are sanitized out; only the category shapes the text.
func (e *ProviderError) UserMessage() string {
	switch e.Category {
	case CategoryUnavailable:
		return fmt.Sprintf("The %s provider is not configured. Add a credential or pick a different model.", e.Provider)
	case CategoryRejected:
		return fmt.Sprintf("The %s provider rejected the request. Check your credential and model choice.", e.Provider)
	case CategoryRateLimited:
		return fmt.Sprintf("The %s provider is rate limiting requests. Please try again in a moment.", e.Provider)
	default:
		return "The response was interrupted. Please try again or try a different model."
	}
}

// statusError classifies an HTTP error status into a ProviderError.
func statusError(provider string, status int, body string) *ProviderError {
	category := CategoryTransport
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		category = CategoryRejected
	case status == http.StatusTooManyRequests:
		category = CategoryRateLimited
	case status >= 400 && status < 500:
		category = CategoryRejected
	}
	return &ProviderError{
		Provider: provider,
		Category: category,
		Status:   status,
		Message:  body,
	}
}

// transportError wraps a mid-stream failure.
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Category: CategoryTransport,
		Message:  err.Error(),
	}
}
