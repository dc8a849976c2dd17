// Package correct turns free text into a correction [suggest.Response] by
// asking a language model for a grammar and spelling review.
//
// The [Service] sends the text to an [llm.Provider] with a conservative system
// prompt that pins the reply to a JSON object holding the corrected text and
// an itemised list of changes. Replies are decoded with
// [suggest.ParseResponse]; an unparseable reply degrades to "no changes"
// instead of an error, while transport failures are returned to the caller.
package correct

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/provider/llm"
	"github.com/correctnow/correctnow/pkg/suggest"
)

const (
	defaultTemperature   = 0.1
	defaultMaxTextLength = 10_000
)

var (
	// ErrEmptyText is returned for input that is empty or only whitespace.
	ErrEmptyText = errors.New("correct: text is empty")

	// ErrTextTooLong is returned when the input exceeds the configured
	// character limit or the model's input budget.
	ErrTextTooLong = errors.New("correct: text too long")
)

// systemPromptTemplate is the base system prompt. The language line is
// filled in per request.
const systemPromptTemplate = `You are a careful proofreader.

Your task: find spelling, grammar and punctuation mistakes in the user's text.
%s
Rules:
- Keep the author's meaning, tone and formatting. Do not rephrase correct sentences.
- Every "original" must be copied verbatim from the text, with the same capitalisation and spacing.
- Keep each "original" as short as possible while still identifying the mistake; include a neighbouring word only when the mistake spans words.
- List each distinct mistake once, even if it occurs several times.
- "explanation" is one short sentence in the language of the text.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected text>",
  "changes": [
    {"original": "<text as written>", "corrected": "<replacement>", "explanation": "<why>"}
  ]
}

If the text has no mistakes, return an empty changes array and corrected_text equal to the input.`

// Cache stores decoded responses. Implementations must be safe for
// concurrent use. A miss is (zero, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (suggest.Response, bool, error)
	Set(ctx context.Context, key string, resp suggest.Response) error
}

// Option is a functional option for configuring a [Service].
type Option func(*Service)

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(s *Service) { s.init.temperature = temp }
}

// WithMaxTextLength caps the input length in characters. Zero or a negative
// value disables the character limit; the model's token budget still
// applies. Default: 10000.
func WithMaxTextLength(n int) Option {
	return func(s *Service) { s.init.maxChars = n }
}

// WithTimeout bounds each model call. Cache lookups are not covered.
// Zero means no limit beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithCache enables response caching.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithProviderName labels metrics and namespaces cache keys. It should name
// the model configuration, so that switching models does not serve stale
// cached answers. Default: "llm".
func WithProviderName(name string) Option {
	return func(s *Service) { s.provider = name }
}

// Service corrects text with an [llm.Provider]. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model, construct the [llm.Provider] with that model configured.
type Service struct {
	llm      llm.Provider
	cache    Cache
	metrics  *observe.Metrics
	provider string
	timeout  time.Duration

	init   tuning
	tuning atomic.Pointer[tuning]
}

// tuning holds the settings that may change at runtime.
type tuning struct {
	temperature float64
	maxChars    int
}

// New returns a new [Service] backed by the given [llm.Provider].
func New(provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		llm:      provider,
		provider: "llm",
		init: tuning{
			temperature: defaultTemperature,
			maxChars:    defaultMaxTextLength,
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	t := s.init
	s.tuning.Store(&t)
	return s
}

// Tune replaces the temperature and character limit for later requests.
// It is safe to call while requests are in flight.
func (s *Service) Tune(temperature float64, maxChars int) {
	s.tuning.Store(&tuning{temperature: temperature, maxChars: maxChars})
}

// Correct reviews text and returns the model's changes. language is an
// optional hint such as "en" or "German"; empty lets the model detect it.
//
// When the model reply cannot be decoded, Correct returns a response with
// CorrectedText equal to text, no changes and a nil error. Validation
// failures return [ErrEmptyText] or [ErrTextTooLong]; provider and context
// errors are returned wrapped.
func (s *Service) Correct(ctx context.Context, text, language string) (resp suggest.Response, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "correct.Correct")
	defer func() { observe.EndSpan(span, err) }()

	tun := s.tuning.Load()
	if strings.TrimSpace(text) == "" {
		return suggest.Response{}, ErrEmptyText
	}
	if tun.maxChars > 0 {
		if n := utf8.RuneCountInString(text); n > tun.maxChars {
			return suggest.Response{}, fmt.Errorf("%w: %d characters, limit %d", ErrTextTooLong, n, tun.maxChars)
		}
	}

	language = strings.TrimSpace(language)
	req := llm.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(language),
		Temperature:  tun.temperature,
		JSONOutput:   true,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
	}
	if err := s.checkBudget(req); err != nil {
		return suggest.Response{}, err
	}

	key := CacheKey(s.provider, language, text)
	if resp, ok := s.lookup(ctx, key); ok {
		s.record(ctx, start, "cache")
		return resp, nil
	}

	llmCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	llmStart := time.Now()
	out, err := s.llm.Complete(llmCtx, req)
	s.metrics.RecordModelCall(ctx, s.provider, time.Since(llmStart), err)
	if err != nil {
		return suggest.Response{}, fmt.Errorf("correct: complete: %w", err)
	}

	if out == nil {
		out = &llm.CompletionResponse{}
	}
	resp, err = suggest.ParseResponse([]byte(out.Content))
	if err != nil {
		observe.Logger(ctx).Warn("correct: unparseable model reply", "err", err, "provider", s.provider)
		s.record(ctx, start, "unparsed")
		return suggest.Response{CorrectedText: text}, nil
	}
	if resp.CorrectedText == "" {
		resp.CorrectedText = text
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, resp); err != nil {
			observe.Logger(ctx).Warn("correct: cache store failed", "err", err)
		}
	}
	s.record(ctx, start, "llm")
	return resp, nil
}

// checkBudget rejects requests that cannot fit the model's context window.
func (s *Service) checkBudget(req llm.CompletionRequest) error {
	budget := s.llm.Capabilities().InputBudget()
	if budget <= 0 {
		return nil
	}
	msgs := append([]llm.Message{{Role: llm.RoleSystem, Content: req.SystemPrompt}}, req.Messages...)
	n, err := s.llm.CountTokens(msgs)
	if err != nil {
		return fmt.Errorf("correct: count tokens: %w", err)
	}
	if n > budget {
		return fmt.Errorf("%w: about %d tokens, model budget %d", ErrTextTooLong, n, budget)
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, key string) (suggest.Response, bool) {
	if s.cache == nil {
		return suggest.Response{}, false
	}
	resp, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observe.Logger(ctx).Warn("correct: cache lookup failed", "err", err)
		return suggest.Response{}, false
	}
	s.metrics.RecordCacheLookup(ctx, ok)
	return resp, ok
}

func (s *Service) record(ctx context.Context, start time.Time, source string) {
	s.metrics.RecordCorrection(ctx, source, time.Since(start))
}

// BuildSystemPrompt formats the system prompt for an optional language hint.
func BuildSystemPrompt(language string) string {
	line := "Detect the language of the text and answer in that language.\n"
	if language != "" {
		line = fmt.Sprintf("The text is written in %s. Apply that language's rules.\n", language)
	}
	return fmt.Sprintf(systemPromptTemplate, line)
}

// CacheKey derives the cache key for a request. Equal inputs to the same
// model configuration share a key.
func CacheKey(provider, language, text string) string {
	h := sha256.New()
	for _, part := range []string{provider, strings.ToLower(language), text} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
