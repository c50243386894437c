package resilience

import (
	"context"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/types"
)

// TTSFallback is a [tts.Provider] that fails over across several backends,
// each behind its own breaker.
//
// Voice names are provider-specific, so failing over mid-session can change
// the assistant's voice: the session's pinned voice may not exist on the
// fallback backend. The synthesis call still goes through; backends fall
// back to a default voice for unknown names or return an error that ends
// the turn cleanly.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback returns a fallback provider preferring the named primary.
func NewTTSFallback(name string, primary tts.Provider, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(name, primary, cfg)}
}

// AddFallback registers a backend tried when earlier ones fail.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in call order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Synthesize renders text on the first healthy backend.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (audio.Frame, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Voices lists the catalogue of the first healthy backend.
func (f *TTSFallback) Voices(ctx context.Context, language string) ([]types.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.Voice, error) {
		return p.Voices(ctx, language)
	})
}
