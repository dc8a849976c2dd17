// Package config provides the configuration schema, loader, and provider
// registry for the CorrectNow backend.
package config

import "time"

// LogLevel controls log verbosity for the CorrectNow server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults] to fields left empty.
const (
	DefaultListenAddr    = ":8080"
	DefaultMaxBodyBytes  = 1 << 20
	DefaultTemperature   = 0.1
	DefaultMaxTextLength = 10_000
	DefaultTimeout       = 30 * time.Second
	DefaultCheckDelay    = 800 * time.Millisecond
	DefaultHoverDelay    = 300 * time.Millisecond
	DefaultCaretDebounce = 50 * time.Millisecond
	DefaultCloseGrace    = 150 * time.Millisecond
	DefaultMaxSessions   = 100
	DefaultCacheTTL      = 24 * time.Hour
	DefaultBatchMaxTexts = 20
	DefaultBatchWorkers  = 4

	DefaultBreakerFailures = 5
	DefaultBreakerReset    = 30 * time.Second
	DefaultBreakerProbes   = 3
)

// Config is the root configuration structure for CorrectNow.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Correction CorrectionConfig `yaml:"correction"`
	Engine     EngineConfig     `yaml:"engine"`
	Cache      CacheConfig      `yaml:"cache"`
	History    HistoryConfig    `yaml:"history"`
	Batch      BatchConfig      `yaml:"batch"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server binds to (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// CORSOrigins lists the browser origins allowed to call the API and open
	// live sessions. "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// TLSConfig holds paths to the PEM-encoded certificate and private key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the language model and its ordered fallbacks.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	Breaker      BreakerConfig   `yaml:"circuit_breaker"`
}

// BreakerConfig tunes the circuit breaker guarding each model in the
// fallback chain.
type BreakerConfig struct {
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int `yaml:"max_failures"`
	// ResetTimeout is how long an open breaker skips its model.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	// HalfOpenProbes successful trial calls close it again.
	HalfOpenProbes int `yaml:"half_open_probes"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "openai", "anthropic").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options carries provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// CorrectionConfig tunes the correction service. Temperature and
// MaxTextLength are hot-reloadable.
type CorrectionConfig struct {
	// Temperature is a pointer so that an explicit 0 survives defaulting.
	Temperature   *float64      `yaml:"temperature"`
	MaxTextLength int           `yaml:"max_text_length"`
	Timeout       time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the configured temperature or
// [DefaultTemperature].
func (c CorrectionConfig) TemperatureOrDefault() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// EngineConfig holds the suggestion engine timings used by live sessions.
type EngineConfig struct {
	// CheckDelay is the idle time after the last edit before a live session
	// re-checks its text. Zero disables automatic checks.
	CheckDelay    time.Duration `yaml:"check_delay"`
	HoverDelay    time.Duration `yaml:"hover_delay"`
	CaretDebounce time.Duration `yaml:"caret_debounce"`
	CloseGrace    time.Duration `yaml:"close_grace"`
	MaxSessions   int           `yaml:"max_sessions"`
}

// CacheConfig configures the Redis response cache. An empty RedisURL
// disables caching.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Prefix   string        `yaml:"prefix"`
}

// HistoryConfig configures correction history storage. An empty PostgresDSN
// keeps history in memory.
type HistoryConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	Disabled    bool   `yaml:"disabled"`
}

// BatchConfig limits the batch correction endpoint.
type BatchConfig struct {
	MaxTexts    int `yaml:"max_texts"`
	Concurrency int `yaml:"concurrency"`
}

// ApplyDefaults fills zero-valued fields with their defaults. CheckDelay is
// left alone when negative so that operators can disable automatic checks
// with any negative value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Correction.MaxTextLength == 0 {
		cfg.Correction.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.Correction.Timeout == 0 {
		cfg.Correction.Timeout = DefaultTimeout
	}
	if cfg.Engine.CheckDelay == 0 {
		cfg.Engine.CheckDelay = DefaultCheckDelay
	}
	if cfg.Engine.HoverDelay == 0 {
		cfg.Engine.HoverDelay = DefaultHoverDelay
	}
	if cfg.Engine.CaretDebounce == 0 {
		cfg.Engine.CaretDebounce = DefaultCaretDebounce
	}
	if cfg.Engine.CloseGrace == 0 {
		cfg.Engine.CloseGrace = DefaultCloseGrace
	}
	if cfg.Engine.MaxSessions == 0 {
		cfg.Engine.MaxSessions = DefaultMaxSessions
	}
	b := &cfg.Providers.Breaker
	if b.MaxFailures == 0 {
		b.MaxFailures = DefaultBreakerFailures
	}
	if b.ResetTimeout == 0 {
		b.ResetTimeout = DefaultBreakerReset
	}
	if b.HalfOpenProbes == 0 {
		b.HalfOpenProbes = DefaultBreakerProbes
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Batch.MaxTexts == 0 {
		cfg.Batch.MaxTexts = DefaultBatchMaxTexts
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = DefaultBatchWorkers
	}
}
