// Package mock provides a recording [llm.Provider] for tests.
//
//	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Bonjour"}}
//	tr := pipeline.NewLLMTranslator(p)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelvox/pkg/provider/llm"
)

// CompleteCall records one invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from its fields and records every call. Set the
// fields before the first call.
type Provider struct {
	mu sync.Mutex

	// Replies are returned one per call, in order. Once exhausted, calls fall
	// through to CompleteFunc or CompleteResponse.
	Replies []*llm.CompletionResponse

	// CompleteResponse and CompleteErr are the answer when no Replies remain.
	// Both nil yields (nil, nil).
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// CompleteFunc, if set, answers instead of CompleteResponse and
	// CompleteErr. It runs outside the lock so it may block on ctx.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteCalls holds every call in order. Read it through Calls while
	// calls may still be in flight.
	CompleteCalls []CompleteCall
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if len(p.Replies) > 0 {
		next := p.Replies[0]
		p.Replies = p.Replies[1:]
		p.mu.Unlock()
		return next, nil
	}
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return resp, err
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}
