// Package mock provides a scriptable, in-memory embeddings.Provider for
// tests.
//
// Fill EmbedResponses with the vectors the code under test should receive;
// Embed and EmbedBatch draw from the same script one vector at a time.
//
//	p := &mock.Provider{
//	    EmbedResponses: [][]float32{{0.1, 0.2, 0.3}},
//	    Dims:           3,
//	}
//	vec, err := p.Embed(ctx, "salut")
package mock

import (
	"context"
	"sync"

	"github.com/moshi-chat/moshi/pkg/provider/embeddings"
)

// EmbedCall is one recorded Embed or EmbedBatch invocation. Texts holds one
// entry for Embed and the full batch for EmbedBatch.
type EmbedCall struct {
	Ctx   context.Context
	Texts []string
}

// Provider replays a script of vectors. With an empty script calls return
// nil vectors; Err short-circuits every call.
type Provider struct {
	mu sync.Mutex

	// EmbedResponses are handed out vector by vector across Embed and
	// EmbedBatch calls in order; the last entry repeats once the script runs
	// out.
	EmbedResponses [][]float32

	// Err, if non-nil, is returned from every Embed and EmbedBatch.
	Err error

	// Dims is returned by Dimensions.
	Dims int

	// Model is returned by ModelID.
	Model string

	// Calls collects every invocation, oldest first.
	Calls []EmbedCall

	served int
}

// Embed records the call and returns the next scripted vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, EmbedCall{Ctx: ctx, Texts: []string{text}})
	if p.Err != nil {
		return nil, p.Err
	}
	return p.next(), nil
}

// EmbedBatch records the call and returns one scripted vector per text.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.Calls = append(p.Calls, EmbedCall{Ctx: ctx, Texts: cp})
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = p.next()
	}
	return out, nil
}

// next returns the current scripted vector and advances, holding the last
// entry once the script is exhausted. Callers must hold mu.
func (p *Provider) next() []float32 {
	if len(p.EmbedResponses) == 0 {
		return nil
	}
	idx := p.served
	if idx >= len(p.EmbedResponses) {
		idx = len(p.EmbedResponses) - 1
	}
	p.served++
	return p.EmbedResponses[idx]
}

// Dimensions returns Dims.
func (p *Provider) Dimensions() int {
	return p.Dims
}

// ModelID returns Model.
func (p *Provider) ModelID() string {
	return p.Model
}

// Reset drops the recorded calls and rewinds the script so one Provider can
// serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.served = 0
}

var _ embeddings.Provider = (*Provider)(nil)
