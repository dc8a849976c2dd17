// Package openai talks to the OpenAI chat completions API, or to any
// server that speaks it (vLLM, LM Studio, llama-server) via [WithBaseURL].
//
// Correction replies are requested in JSON mode where the model supports
// it. Replies cut off at the token limit and refusals are reported as
// errors so the fallback chain can try the next model.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/correctnow/correctnow/pkg/provider/llm"
)

var (
	// ErrTruncated means the model hit its output limit mid-reply.
	ErrTruncated = errors.New("openai: reply truncated at max tokens")
	// ErrRefused means the model declined to process the text.
	ErrRefused = errors.New("openai: model refused")
	// ErrNoChoices means the response carried no choice at all.
	ErrNoChoices = errors.New("openai: response has no choices")
)

// defaultMaxRetries leaves most retrying to the fallback chain.
const defaultMaxRetries = 1

// Provider is an [llm.Provider] for one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
	caps   llm.ModelCapabilities
}

var _ llm.Provider = (*Provider)(nil)

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option configures [New].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server. With a base
// URL set the API key may be empty.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithMaxRetries sets SDK-level retries; negative means none.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = max(n, 0) }
}

// New returns a Provider for model.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	s := settings{maxRetries: defaultMaxRetries}
	for _, o := range opts {
		o(&s)
	}
	switch {
	case model == "":
		return nil, errors.New("openai: model is empty")
	case apiKey == "" && s.baseURL == "":
		return nil, errors.New("openai: api key is empty")
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(s.maxRetries)}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(s.timeout))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		caps:   modelCapabilities(model),
	}, nil
}

// Complete sends one correction request.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %s: %w", p.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	switch {
	case choice.Message.Refusal != "":
		return nil, fmt.Errorf("%w: %s", ErrRefused, choice.Message.Refusal)
	case choice.FinishReason == "length":
		return nil, fmt.Errorf("%w (%d completion tokens)", ErrTruncated, resp.Usage.CompletionTokens)
	}

	u := resp.Usage
	return &llm.CompletionResponse{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

// CountTokens estimates with [llm.EstimateTokens].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities { return p.caps }

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{Model: shared.ChatModel(p.model), Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.JSONOutput && modelCapabilities(p.model).SupportsJSONMode {
		params.ResponseFormat.OfJSONObject = &shared.ResponseFormatJSONObjectParam{}
	}
	return params, nil
}

func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported role %q", m.Role)
}

// ── Model table ───────────────────────────────────────────────────────────────

// modelRule applies to model names starting with prefix. The first match
// wins, so longer prefixes come first. Zero fields keep the defaults.
type modelRule struct {
	prefix string
	window int
	output int
	noJSON bool
}

var modelRules = []modelRule{
	{prefix: "gpt-4o", output: 16_384},
	{prefix: "gpt-4.1", window: 1_047_576, output: 32_768},
	{prefix: "gpt-4-turbo"},
	{prefix: "gpt-4", window: 8_192, noJSON: true},
	{prefix: "gpt-3.5-turbo", window: 16_385},
	{prefix: "o1-mini", output: 65_536, noJSON: true},
	{prefix: "o1", window: 200_000, output: 100_000},
	{prefix: "o3", window: 200_000, output: 100_000},
}

// modelCapabilities looks model up in modelRules. Unknown models, such as
// those served by compatible servers, get a 128k window, 4k replies and
// JSON mode.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}
	lower := strings.ToLower(model)
	for _, r := range modelRules {
		if !strings.HasPrefix(lower, r.prefix) {
			continue
		}
		if r.window > 0 {
			caps.ContextWindow = r.window
		}
		if r.output > 0 {
			caps.MaxOutputTokens = r.output
		}
		caps.SupportsJSONMode = !r.noJSON
		break
	}
	return caps
}
