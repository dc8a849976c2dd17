package resilience

import (
	"context"

	"github.com/correctnow/correctnow/pkg/provider/llm"
)

// LLMFallback is a [FallbackGroup] of models presented as one
// [llm.Provider]. The correction service only ever sees this type.
type LLMFallback struct {
	chain *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback builds a chain headed by primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{chain: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a model to the chain.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.chain.AddFallback(name, p)
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks the primary only; counting is local.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return f.chain.Primary().CountTokens(messages)
}

// Capabilities reports what every model in the chain can handle: the
// smallest input budget, and JSON mode only if all of them offer it.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	var caps llm.ModelCapabilities
	seen := false
	f.chain.Each(func(_ string, p llm.Provider) {
		c := p.Capabilities()
		switch {
		case !seen:
			caps, seen = c, true
			return
		case c.InputBudget() < caps.InputBudget():
			caps.ContextWindow = c.ContextWindow
			caps.MaxOutputTokens = c.MaxOutputTokens
		}
		caps.SupportsJSONMode = caps.SupportsJSONMode && c.SupportsJSONMode
	})
	return caps
}

// Providers lists model names in call order.
func (f *LLMFallback) Providers() []string { return f.chain.Names() }

// State is "open" once every breaker in the chain is open, "closed"
// otherwise.
func (f *LLMFallback) State() string {
	for _, s := range f.chain.States() {
		if s != StateOpen {
			return StateClosed.String()
		}
	}
	return StateOpen.String()
}
