// Package app wires all CorrectNow subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until its context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithCache,
// WithHistoryStore, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/correctnow/correctnow/internal/api"
	"github.com/correctnow/correctnow/internal/cache"
	"github.com/correctnow/correctnow/internal/config"
	"github.com/correctnow/correctnow/internal/correct"
	"github.com/correctnow/correctnow/internal/health"
	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/live"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/internal/resilience"
	"github.com/correctnow/correctnow/pkg/provider/llm"
	"github.com/correctnow/correctnow/pkg/suggest/interact"
)

// NamedLLM pairs a provider with the config entry it was built from.
type NamedLLM struct {
	Entry    config.ProviderEntry
	Provider llm.Provider
}

// Providers holds the language models built by main.go via the config
// registry. LLM is required; fallbacks are tried in order when it fails.
type Providers struct {
	LLM          NamedLLM
	LLMFallbacks []NamedLLM
}

// Cache is a response cache that can report its own health.
type Cache interface {
	correct.Cache
	health.Pinger
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	metricsHandler http.Handler
	llm            *resilience.LLMFallback
	cache          Cache
	history        history.Store
	service        *correct.Service
	sessions       *live.Manager
	scheduler      interact.Scheduler
	checkers       []health.Checker
	health         *health.Handler
	handler        http.Handler

	// settings is swapped on reload and read by /api/settings.
	mu       sync.RWMutex
	settings api.Settings

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithCache injects a response cache instead of connecting to
// cache.redis_url.
func WithCache(c Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithScheduler sets the timer source of live sessions.
func WithScheduler(s interact.Scheduler) Option {
	return func(a *App) { a.scheduler = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM.Provider == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Language model with failover ──────────────────────────────────
	a.initLLM(providers)

	// ── 2. Response cache ────────────────────────────────────────────────
	if err := a.initCache(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init cache: %w", err)
	}

	// ── 3. Correction service ────────────────────────────────────────────
	copts := []correct.Option{
		correct.WithTemperature(cfg.Correction.TemperatureOrDefault()),
		correct.WithMaxTextLength(cfg.Correction.MaxTextLength),
		correct.WithTimeout(cfg.Correction.Timeout),
		correct.WithMetrics(a.metrics),
		correct.WithProviderName(providerKey(providers.LLM.Entry)),
	}
	if a.cache != nil {
		copts = append(copts, correct.WithCache(a.cache))
	}
	a.service = correct.New(a.llm, copts...)

	// ── 4. History ───────────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 5. Live sessions ─────────────────────────────────────────────────
	a.sessions = live.NewManager(live.ManagerConfig{
		Corrector:   a.service,
		History:     a.history,
		Metrics:     a.metrics,
		MaxSessions: cfg.Engine.MaxSessions,
		CheckDelay:  checkDelay(cfg.Engine),
		Scheduler:   a.scheduler,
	})

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.settings = settingsFrom(cfg)
	a.handler = a.buildHandler()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initLLM(p *Providers) {
	cfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Providers.Breaker.MaxFailures,
			ResetTimeout: a.cfg.Providers.Breaker.ResetTimeout,
			HalfOpenMax:  a.cfg.Providers.Breaker.HalfOpenProbes,
		},
		OnAttempt: func(name string, err error) {
			if err != nil {
				slog.Warn("app: llm attempt failed", "provider", name, "err", err)
			}
		},
	}
	a.llm = resilience.NewLLMFallback(p.LLM.Provider, p.LLM.Entry.Name, cfg)
	for i, fb := range p.LLMFallbacks {
		if fb.Provider == nil {
			continue
		}
		name := fb.Entry.Name
		if name == p.LLM.Entry.Name {
			name = fmt.Sprintf("%s#%d", name, i+1)
		}
		a.llm.AddFallback(name, fb.Provider)
	}
	a.checkers = append(a.checkers, health.State("llm", resilience.StateClosed.String(), a.llm.State))
	slog.Info("app: llm ready", "providers", a.llm.Providers())
}

func (a *App) initCache(ctx context.Context) error {
	if a.cache == nil && a.cfg.Cache.RedisURL != "" {
		opts := []cache.Option{cache.WithTTL(a.cfg.Cache.TTL)}
		if a.cfg.Cache.Prefix != "" {
			opts = append(opts, cache.WithPrefix(a.cfg.Cache.Prefix))
		}
		rc, err := cache.New(ctx, a.cfg.Cache.RedisURL, opts...)
		if err != nil {
			return err
		}
		a.cache = rc
		a.closers = append(a.closers, rc.Close)
	}
	if a.cache != nil {
		a.checkers = append(a.checkers, health.Optional(health.Ping("redis", a.cache)))
	}
	return nil
}

func (a *App) initHistory(ctx context.Context) error {
	if a.history != nil {
		return nil
	}
	if a.cfg.History.Disabled {
		slog.Info("app: history disabled")
		return nil
	}
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.history = store
		a.checkers = append(a.checkers, health.Ping("postgres", store))
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		return nil
	}
	slog.Warn("app: history.postgres_dsn is empty; history is kept in memory and lost on restart")
	a.history = history.NewMemStore()
	return nil
}

func (a *App) buildHandler() http.Handler {
	a.health = health.New(a.checkers...)
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		api.WithMaxBodyBytes(a.cfg.Server.MaxBodyBytes),
		api.WithBatch(a.cfg.Batch.MaxTexts, a.cfg.Batch.Concurrency),
		api.WithLive(live.NewHandler(a.sessions, a.cfg.Server.CORSOrigins), a.sessions),
		api.WithHealth(a.health),
		api.WithSettings(a.Settings),
	}
	if a.history != nil {
		opts = append(opts, api.WithHistory(a.history))
	}
	if a.metricsHandler != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsHandler))
	}
	return api.New(a.service, opts...).Handler()
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live session manager.
func (a *App) Sessions() *live.Manager { return a.sessions }

// Settings returns the host-side limits and timings currently in effect.
func (a *App) Settings() api.Settings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of next and returns the diff
// against the previous config. Changes that need a restart are logged. The
// log level is left to the caller, which owns the logger.
func (a *App) ApplyConfig(next *config.Config) config.ConfigDiff {
	a.mu.Lock()
	d := config.Diff(a.cfg, next)
	a.cfg = next
	a.settings = settingsFrom(next)
	a.mu.Unlock()

	if d.CorrectionChanged {
		a.service.Tune(d.Temperature, d.MaxTextLength)
		slog.Info("app: correction settings reloaded",
			"temperature", d.Temperature,
			"max_text_length", d.MaxTextLength,
		)
	}
	if d.EngineChanged {
		a.sessions.SetCheckDelay(checkDelay(d.Engine))
		slog.Info("app: engine timings reloaded", "check_delay", d.Engine.CheckDelay)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to take effect", "keys", d.RestartRequired)
	}
	return d
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.mu.RLock()
	addr := a.cfg.Server.ListenAddr
	a.mu.RUnlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. It returns nil after a clean
// stop; call [App.Shutdown] afterwards to release resources.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	a.mu.Lock()
	a.server = srv
	tls := a.cfg.Server.TLS
	a.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: serving", "addr", ln.Addr().String(), "tls", tls != nil)
		if tls != nil {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, ends all live sessions (recording
// their history) and closes the backing stores. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "sessions", a.sessions.Count(), "closers", len(a.closers))
		a.health.Drain()

		a.mu.RLock()
		srv := a.server
		a.mu.RUnlock()
		if srv != nil {
			// Hijacked websocket connections are not tracked by Shutdown;
			// StopAll below ends them.
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("app: http shutdown", "err", err)
			}
		}

		a.sessions.StopAll(ctx)

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// providerKey namespaces cache entries by backend and model.
func providerKey(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}

// checkDelay maps the configured delay to the live manager's convention,
// where zero disables automatic checks.
func checkDelay(e config.EngineConfig) time.Duration {
	if e.CheckDelay < 0 {
		return 0
	}
	return e.CheckDelay
}

func settingsFrom(cfg *config.Config) api.Settings {
	return api.Settings{
		CheckDelayMS:    checkDelay(cfg.Engine).Milliseconds(),
		HoverDelayMS:    cfg.Engine.HoverDelay.Milliseconds(),
		CaretDebounceMS: cfg.Engine.CaretDebounce.Milliseconds(),
		CloseGraceMS:    cfg.Engine.CloseGrace.Milliseconds(),
		MaxTextLength:   cfg.Correction.MaxTextLength,
	}
}
