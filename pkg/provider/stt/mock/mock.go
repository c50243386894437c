// Package mock provides a scriptable, in-memory stt.Provider for tests.
//
// Fill Texts with the transcripts the code under test should receive; each
// Transcribe call takes the next entry and the last one repeats once the
// script runs out.
//
//	p := &mock.Provider{Texts: []string{"quelle heure est-il"}}
//	text, _ := p.Transcribe(ctx, utterance, "fr")
package mock

import (
	"context"
	"sync"

	"github.com/moshi-chat/moshi/pkg/audio"
	"github.com/moshi-chat/moshi/pkg/provider/stt"
)

// TranscribeCall is one recorded Transcribe invocation.
type TranscribeCall struct {
	Ctx       context.Context
	Utterance audio.Frame
	Language  string
}

// Provider replays a script of transcripts. With an empty script Transcribe
// returns ""; TranscribeErr short-circuits every call.
type Provider struct {
	mu sync.Mutex

	// Texts are returned by successive Transcribe calls in order; the last
	// entry repeats once the script runs out.
	Texts []string

	// TranscribeErr, if non-nil, is returned from every Transcribe.
	TranscribeErr error

	// TranscribeCalls collects every invocation, oldest first.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted text.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.Frame, language string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Utterance: utterance, Language: language})
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	if len(p.Texts) == 0 {
		return "", nil
	}
	if idx >= len(p.Texts) {
		idx = len(p.Texts) - 1
	}
	return p.Texts[idx], nil
}

// CallCount reports how many Transcribe calls have been recorded.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset drops the recorded calls so one Provider can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

var _ stt.Provider = (*Provider)(nil)
