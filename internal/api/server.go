// Package api serves the CorrectNow HTTP interface: one-shot corrections,
// batch corrections, server-side patching for thin hosts, correction
// history and the live websocket endpoint.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/correctnow/correctnow/internal/health"
	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/live"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/suggest"
)

const (
	defaultMaxBodyBytes     = 1 << 20
	defaultMaxBatch         = 20
	defaultBatchConcurrency = 4
)

// Corrector produces correction suggestions for a text.
type Corrector interface {
	Correct(ctx context.Context, text, language string) (suggest.Response, error)
}

// SessionLister reports the running live sessions.
type SessionLister interface {
	List() []live.SessionInfo
}

// Option configures a [Server].
type Option func(*Server)

// WithHistory enables the /api/history endpoints.
func WithHistory(h history.Store) Option {
	return func(s *Server) { s.history = h }
}

// WithLive mounts the live websocket handler at /api/live and, when lister
// is non-nil, the session listing at /api/live/sessions.
func WithLive(h http.Handler, lister SessionLister) Option {
	return func(s *Server) {
		s.live = h
		s.sessions = lister
	}
}

// WithSettings serves the result of fn at /api/settings. fn is called per
// request so reloaded values show up immediately.
func WithSettings(fn func() Settings) Option {
	return func(s *Server) { s.settings = fn }
}

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics sets the metrics used by the request middleware and the
// ingestion counters. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithCORSOrigins sets the origins allowed for cross-origin requests. "*"
// allows any origin. Empty disables CORS headers.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithMaxBodyBytes caps request bodies. Default: 1 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithBatch sets the largest accepted batch and how many of its texts are
// corrected concurrently. Defaults: 20 and 4.
func WithBatch(maxTexts, concurrency int) Option {
	return func(s *Server) {
		if maxTexts > 0 {
			s.maxBatch = maxTexts
		}
		if concurrency > 0 {
			s.batchConcurrency = concurrency
		}
	}
}

// Server routes the HTTP API.
type Server struct {
	corrector      Corrector
	history        history.Store
	live           http.Handler
	sessions       SessionLister
	settings       func() Settings
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics

	corsOrigins      []string
	maxBody          int64
	maxBatch         int
	batchConcurrency int
}

// New creates a Server around c.
func New(c Corrector, opts ...Option) *Server {
	s := &Server{
		corrector:        c,
		metrics:          observe.DefaultMetrics(),
		maxBody:          defaultMaxBodyBytes,
		maxBatch:         defaultMaxBatch,
		batchConcurrency: defaultBatchConcurrency,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/correct", s.handleCorrect)
	mux.HandleFunc("POST /api/correct/batch", s.handleBatch)
	mux.HandleFunc("POST /api/apply", s.handleApply)

	if s.history != nil {
		mux.HandleFunc("POST /api/history", s.handleRecordHistory)
		mux.HandleFunc("GET /api/history", s.handleListHistory)
	}
	if s.live != nil {
		mux.Handle("GET /api/live", s.live)
	}
	if s.sessions != nil {
		mux.HandleFunc("GET /api/live/sessions", s.handleListSessions)
	}
	if s.settings != nil {
		mux.HandleFunc("GET /api/settings", s.handleSettings)
	}
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	return observe.Middleware(s.metrics)(s.cors(mux))
}

// cors answers preflight requests and sets the allow headers for permitted
// origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowOrigin(origin); allowed != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, traceparent")
			h.Set("Access-Control-Expose-Headers", observe.CorrelationHeader)
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	if origin == "" {
		return ""
	}
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
