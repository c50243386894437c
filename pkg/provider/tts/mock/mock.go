// Package mock provides a scriptable, in-memory tts.Provider for tests.
//
// Fill SynthesizeFrames with the audio the code under test should receive
// and VoicesResult with the catalogue it should see, then read the recorded
// calls afterwards.
//
//	p := &mock.Provider{
//	    SynthesizeFrames: []audio.Frame{reply},
//	    VoicesResult:     []types.Voice{{Name: "fr-FR-Standard-C", Gender: "FEMALE", Model: "Standard"}},
//	}
//	frame, _ := p.Synthesize(ctx, "bonjour", voice)
package mock

import (
	"context"
	"sync"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/tts"
	"github.com/moshi-chat/moshi/pkg/types"
)

// SynthesizeCall is one recorded Synthesize invocation.
type SynthesizeCall struct {
	Ctx   context.Context
	Text  string
	Voice types.Voice
}

// VoicesCall is one recorded Voices invocation.
type VoicesCall struct {
	Ctx      context.Context
	Language string
}

// Provider replays a script of synthesized frames. With an empty script
// Synthesize returns a zero frame; the Err fields short-circuit their calls.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFrames are returned by successive Synthesize calls in order;
	// the last entry repeats once the script runs out.
	SynthesizeFrames []audio.Frame

	// SynthesizeErr, if non-nil, is returned from every Synthesize.
	SynthesizeErr error

	// VoicesResult is returned by every Voices call.
	VoicesResult []types.Voice

	// VoicesErr, if non-nil, is returned from every Voices.
	VoicesErr error

	// SynthesizeCalls and VoicesCalls collect every invocation, oldest first.
	SynthesizeCalls []SynthesizeCall
	VoicesCalls     []VoicesCall
}

// Synthesize records the call and returns the next scripted frame.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.Voice) (audio.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.SynthesizeCalls)
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return audio.Frame{}, p.SynthesizeErr
	}
	if len(p.SynthesizeFrames) == 0 {
		return audio.Frame{}, nil
	}
	if idx >= len(p.SynthesizeFrames) {
		idx = len(p.SynthesizeFrames) - 1
	}
	return p.SynthesizeFrames[idx], nil
}

// Voices records the call and returns VoicesResult, VoicesErr.
func (p *Provider) Voices(ctx context.Context, language string) ([]types.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VoicesCalls = append(p.VoicesCalls, VoicesCall{Ctx: ctx, Language: language})
	if p.VoicesErr != nil {
		return nil, p.VoicesErr
	}
	return p.VoicesResult, nil
}

// Reset drops the recorded calls so one Provider can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.VoicesCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
