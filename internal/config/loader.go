package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the language model backends CorrectNow knows how
// to construct. [Validate] warns about names outside this list.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// ProviderAliases are alternate spellings accepted in providers.*.name,
// mapped to the entry of [ValidProviderNames] they stand for.
var ProviderAliases = map[string]string{
	"claude":    "anthropic",
	"google":    "gemini",
	"llama.cpp": "llamacpp",
	"local":     "ollama",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates it, and fills in
// defaults. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}
	for i, origin := range cfg.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.cors_origins[%d] %q is not an origin like https://example.com", i, origin))
		}
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		if len(cfg.Providers.LLMFallbacks) > 0 {
			errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
		} else {
			slog.Warn("no LLM provider configured; correction requests will fail")
		}
	}
	validateProviderName(cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName(fb.Name)
	}
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.HalfOpenProbes < 0 || b.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("providers.circuit_breaker values must not be negative: %+v", b))
	}

	// Correction
	if t := cfg.Correction.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("correction.temperature %.2f is out of range [0, 2]", *t))
	}
	if cfg.Correction.MaxTextLength < 0 {
		errs = append(errs, fmt.Errorf("correction.max_text_length %d must not be negative", cfg.Correction.MaxTextLength))
	}
	if cfg.Correction.Timeout < 0 {
		errs = append(errs, fmt.Errorf("correction.timeout %s must not be negative", cfg.Correction.Timeout))
	}

	// Engine
	if cfg.Engine.HoverDelay < 0 {
		errs = append(errs, fmt.Errorf("engine.hover_delay %s must not be negative", cfg.Engine.HoverDelay))
	}
	if cfg.Engine.CaretDebounce < 0 {
		errs = append(errs, fmt.Errorf("engine.caret_debounce %s must not be negative", cfg.Engine.CaretDebounce))
	}
	if cfg.Engine.CloseGrace < 0 {
		errs = append(errs, fmt.Errorf("engine.close_grace %s must not be negative", cfg.Engine.CloseGrace))
	}
	if cfg.Engine.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("engine.max_sessions %d must not be negative", cfg.Engine.MaxSessions))
	}

	// Cache
	if cfg.Cache.RedisURL != "" {
		if u, err := url.Parse(cfg.Cache.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix") {
			errs = append(errs, fmt.Errorf("cache.redis_url %q must use the redis, rediss or unix scheme", cfg.Cache.RedisURL))
		}
	}
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}

	// History
	if cfg.History.Disabled && cfg.History.PostgresDSN != "" {
		slog.Warn("history.postgres_dsn is set but history is disabled")
	}

	// Batch
	if cfg.Batch.MaxTexts < 0 {
		errs = append(errs, fmt.Errorf("batch.max_texts %d must not be negative", cfg.Batch.MaxTexts))
	}
	if cfg.Batch.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency %d must not be negative", cfg.Batch.Concurrency))
	}

	return errors.Join(errs...)
}

// expandSecrets substitutes ${VAR} references in credentials so that keys
// can stay out of the file.
func expandSecrets(cfg *Config) {
	cfg.Providers.LLM.APIKey = os.ExpandEnv(cfg.Providers.LLM.APIKey)
	for i := range cfg.Providers.LLMFallbacks {
		cfg.Providers.LLMFallbacks[i].APIKey = os.ExpandEnv(cfg.Providers.LLMFallbacks[i].APIKey)
	}
	cfg.Cache.RedisURL = os.ExpandEnv(cfg.Cache.RedisURL)
	cfg.History.PostgresDSN = os.ExpandEnv(cfg.History.PostgresDSN)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	key := normalize(name)
	if _, alias := ProviderAliases[key]; key == "" || alias || slices.Contains(ValidProviderNames, key) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
