package resilience

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several backends,
// each behind its own breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback provider preferring the named primary.
func NewLLMFallback(name string, primary llm.Provider, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers a backend tried when earlier ones fail.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in call order.
func (f *LLMFallback) Names() []string { return f.group.Names() }

// Complete asks the first healthy backend for a reply.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
