// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o, a
// local Ollama instance) and exposes the single call the conversation loop
// needs: turn a message history into one assistant reply. Replies are short
// by construction — the orchestrator caps tokens and supplies stop sequences
// so the model cannot speak the user's next line.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
package llm

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/types"
)

// CompletionRequest carries everything the model needs to produce a reply.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, system preamble first.
	Messages []types.Message

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// Stop lists sequences that end generation when emitted. The conversation
	// loop passes "user:" so the model never answers on the user's behalf.
	Stop []string

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests the
	// provider default.
	Temperature float64
}

// CompletionResponse is a single completed assistant reply.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. An empty string
	// means the model declined to answer; the caller decides what that means.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage types.Usage
}

// Provider is the abstraction over any LLM backend.
//
// Completions are single-choice: one request produces exactly one candidate
// reply.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled before the
	// completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
