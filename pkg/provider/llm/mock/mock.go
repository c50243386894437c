// Package mock provides a scriptable, in-memory llm.Provider for tests.
//
// Fill CompleteResponses with the replies the code under test should see
// and read CompleteCalls afterwards to check what it sent. Configure the
// Provider before handing it out; the methods themselves are safe for
// concurrent use.
//
//	p := &mock.Provider{
//	    CompleteResponses: []*llm.CompletionResponse{{Content: "Bonjour !"}},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/moshi-chat/moshi/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays a script of completion responses. With an empty script
// Complete returns an empty response; CompleteErr short-circuits every call.
type Provider struct {
	mu sync.Mutex

	// CompleteResponses are returned by successive Complete calls in order;
	// the last entry repeats once the script runs out.
	CompleteResponses []*llm.CompletionResponse

	// CompleteErr, if non-nil, is returned from every Complete.
	CompleteErr error

	// CompleteCalls collects every invocation, oldest first.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.CompleteResponses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	idx := len(p.CompleteCalls) - 1
	if idx >= len(p.CompleteResponses) {
		idx = len(p.CompleteResponses) - 1
	}
	return p.CompleteResponses[idx], nil
}

// Reset drops the recorded calls so one Provider can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
