// Package mock provides a scriptable, in-memory translate.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/moshi-chat/moshi/pkg/provider/translate"
)

// DetectCall is one recorded DetectLanguage invocation.
type DetectCall struct {
	Ctx  context.Context
	Text string
}

// Provider answers every DetectLanguage call with Language ("en" when unset);
// DetectErr short-circuits every call.
type Provider struct {
	mu sync.Mutex

	// Language is returned by every DetectLanguage call.
	Language string

	// DetectErr, if non-nil, is returned from every DetectLanguage.
	DetectErr error

	// DetectCalls collects every invocation, oldest first.
	DetectCalls []DetectCall
}

// DetectLanguage records the call and returns Language, DetectErr.
func (p *Provider) DetectLanguage(ctx context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = append(p.DetectCalls, DetectCall{Ctx: ctx, Text: text})
	if p.DetectErr != nil {
		return "", p.DetectErr
	}
	if p.Language == "" {
		return "en", nil
	}
	return p.Language, nil
}

// Reset drops the recorded calls so one Provider can serve several subtests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DetectCalls = nil
}

var _ translate.Provider = (*Provider)(nil)
