// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI, Anthropic,
// or a local Ollama instance) and exposes a uniform completion interface for
// the dialog orchestrator without coupling it to any specific SDK.
//
// The call pipeline is strictly turn-at-a-time — one finalized utterance in,
// one full reply out, synthesized as a single audio buffer — so Provider
// deliberately exposes only a blocking Complete. Retry behaviour is a
// provider-side configuration knob, never renegotiated per call.
//
// Implementations must be safe for concurrent use from multiple goroutines.
package llm

import (
	"context"

	"github.com/voxline/voxline/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between
// providers for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is the
	// new human turn that drives the response.
	Messages []types.Message

	// SystemPrompt is the rendered scenario template injected before the
	// conversation history. Providers that do not natively support a dedicated
	// system prompt prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or if ctx is cancelled before the
	// completion arrives. Provider-internal retries (if configured) happen
	// inside this call; the caller never retries.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
