// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider].
//
// One adapter covers every hosted and local backend CorrectNow can check
// text with besides the native OpenAI client: Anthropic, Gemini, Ollama,
// DeepSeek, Mistral, Groq, llama.cpp and llamafile.
//
//	p, err := anyllm.New("gemini", "gemini-2.0-flash", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/correctnow/correctnow/pkg/provider/llm"
)

// Supported lists the backend names accepted by [New].
var Supported = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// ErrNoChoices is returned when a backend answers without any choice.
var ErrNoChoices = errors.New("anyllm: response has no choices")

// Provider is an [llm.Provider] backed by one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	name    string
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New builds a Provider for backend providerName (one of [Supported],
// case-insensitive). Without [anyllmlib.WithAPIKey] the backend reads its
// usual environment variable, such as ANTHROPIC_API_KEY.
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	switch {
	case name == "":
		return nil, errors.New("anyllm: provider name is empty")
	case model == "":
		return nil, fmt.Errorf("anyllm: %s: model is empty", name)
	}

	backend, err := newBackend(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", name, err)
	}
	return &Provider{backend: backend, name: name, model: model}, nil
}

// NewAnthropic is New("anthropic", ...).
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini is New("gemini", ...).
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama is New("ollama", ...); the server defaults to localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

func newBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch name {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	}
	return nil, fmt.Errorf("unsupported backend; use one of %s", strings.Join(Supported, ", "))
}

// Name is the lower-cased backend name.
func (p *Provider) Name() string { return p.name }

// Complete sends one correction round-trip. JSONOutput is not forwarded; the
// correction prompt already pins the reply format.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrNoChoices, p.name)
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens uses [llm.EstimateTokens]; any-llm-go has no tokenizer.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities reports the context window of the configured model.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

// ── Model table ───────────────────────────────────────────────────────────────

// modelRule matches a lower-cased model name. The first matching rule wins,
// so more specific names come first.
type modelRule struct {
	prefix   string
	contains string
	window   int
	output   int
}

func (r modelRule) matches(model string) bool {
	if r.prefix != "" {
		return strings.HasPrefix(model, r.prefix)
	}
	return strings.Contains(model, r.contains)
}

var modelRules = []modelRule{
	{prefix: "gpt-4o", window: 128_000, output: 16_384},
	{prefix: "gpt-4-turbo", window: 128_000, output: 4_096},
	{prefix: "gpt-4", window: 8_192, output: 4_096},
	{prefix: "gpt-3.5-turbo", window: 16_385, output: 4_096},

	{contains: "claude-3-opus", window: 200_000, output: 4_096},
	{prefix: "claude", window: 200_000, output: 8_192},

	{contains: "gemini-2.5", window: 1_048_576, output: 65_536},
	{contains: "gemini-1.5-pro", window: 2_097_152, output: 8_192},
	{contains: "gemini-2.0-flash", window: 1_048_576, output: 8_192},
	{contains: "gemini-1.5-flash", window: 1_048_576, output: 8_192},
	{prefix: "gemini", window: 128_000, output: 8_192},

	{prefix: "llama", window: 8_192, output: 2_048},
	{prefix: "mistral", window: 8_192, output: 2_048},
	{prefix: "qwen", window: 8_192, output: 2_048},
}

// modelCapabilities looks model up in modelRules. Unknown models get a
// 128k window and 4k replies.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range modelRules {
		if r.matches(lower) {
			return llm.ModelCapabilities{ContextWindow: r.window, MaxOutputTokens: r.output}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}
