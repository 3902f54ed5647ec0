// Package completion defines the text-completion capability the
// pipeline delegates content generation to, with adapters for
// OpenAI-compatible backends and Gemini, a scripted fake, a rate
// limiter, and a provider registry.
//
// The capability is opaque to callers: a Request in, completion text
// out. Backends may be slow or fail; failures surface as EXTERNAL
// faults and are handled by the pipeline's phase and step policies.
package completion

import "context"

// Provider names accepted in Request.Provider and configuration.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "scripted"
)

// Request is one generation request.
type Request struct {
	// Prompt is the full prompt text.
	Prompt string

	// Model overrides the adapter's default model when set.
	Model string

	// Provider routes the request in a Registry. Empty means the
	// registry's default.
	Provider string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens caps the completion length when positive.
	MaxTokens int
}

// Client generates a completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
