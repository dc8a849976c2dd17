// Package mock is a scriptable [llm.Provider] for tests.
//
// Answers are chosen in this order: CompleteFunc, then the next queued
// entry of Script, then CompleteErr, then CompleteResponse.
//
//	p := &mock.Provider{Script: []mock.Step{
//	    mock.Reply(`{"corrected_text":"I have","changes":[]}`),
//	    mock.Fail(context.DeadlineExceeded),
//	}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/correctnow/correctnow/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Step is one scripted answer.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Reply scripts a successful answer with the given model output.
func Reply(content string) Step {
	return Step{Response: &llm.CompletionResponse{Content: content}}
}

// Fail scripts a failed call.
func Fail(err error) Step { return Step{Err: err} }

// Provider records calls and answers from its configuration. Fields may be
// set before use or, under the caller's own synchronisation, between calls.
type Provider struct {
	mu sync.Mutex

	CompleteFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	Script           []Step // consumed front to back
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	// TokenCount overrides [llm.EstimateTokens] when non-zero.
	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	CompleteCalls    []CompleteCall
	CountTokensCalls int
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and answers it.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	req.Messages = slices.Clone(req.Messages)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	fn := p.CompleteFunc
	step := Step{Response: p.CompleteResponse, Err: p.CompleteErr}
	if fn == nil && len(p.Script) > 0 {
		step, p.Script = p.Script[0], p.Script[1:]
	}
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	if step.Response == nil {
		return nil, nil
	}
	out := *step.Response
	return &out, nil
}

// CountTokens answers TokenCount, or an estimate when it is zero.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CountTokensCalls++
	switch {
	case p.CountTokensErr != nil:
		return 0, p.CountTokensErr
	case p.TokenCount != 0:
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}

// Texts returns the last user message of every recorded call, which for
// the correction service is the text that was sent for checking.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.CompleteCalls))
	for _, c := range p.CompleteCalls {
		text := ""
		for _, m := range slices.Backward(c.Req.Messages) {
			if m.Role == llm.RoleUser {
				text = m.Content
				break
			}
		}
		out = append(out, text)
	}
	return out
}

// Reset forgets recorded calls. The configuration and any unconsumed
// Script steps stay.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.CountTokensCalls = 0
}
