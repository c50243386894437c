package resilience

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several backends,
// each behind its own breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a fallback provider preferring the named primary.
func NewSTTFallback(name string, primary stt.Provider, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers a backend tried when earlier ones fail.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in call order.
func (f *STTFallback) Names() []string { return f.group.Names() }

// Transcribe sends the utterance to the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, utterance, language)
	})
}
