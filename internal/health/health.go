// Package health serves the liveness and readiness probes of the CorrectNow
// server.
//
// /healthz answers 200 while the process can serve HTTP. /readyz probes the
// backing services (model chain, Redis cache, Postgres history) and answers
// 503 when a required one is down or the server is draining for shutdown.
// A failing optional probe only downgrades the report to "degraded".
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each readiness probe.
const probeTimeout = 5 * time.Second

// Report statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// Checker is one named readiness probe. Check returns nil when the
// dependency is usable and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Optional probes cover services CorrectNow can run without, such as
	// the response cache. Their failure does not fail readiness.
	Optional bool
}

// Pinger is implemented by clients with a context-aware Ping, such as
// *pgxpool.Pool and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping probes p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// State fails unless state() reports want, for example a circuit breaker
// that should be "closed".
func State(name, want string, state func() string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if got := state(); got != want {
			return fmt.Errorf("state %s", got)
		}
		return nil
	}}
}

// Optional marks c as optional.
func Optional(c Checker) Checker {
	c.Optional = true
	return c
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New returns a Handler that runs checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Drain makes /readyz answer 503 without probing, so load balancers stop
// routing new checks here while live sessions wind down. It cannot be undone.
func (h *Handler) Drain() { h.draining.Store(true) }

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz runs all probes concurrently and reports each one.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeReport(w, http.StatusServiceUnavailable, report{Status: StatusDraining})
		return
	}

	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		switch {
		case errs[i] == nil:
			rep.Checks[c.Name] = StatusOK
		case c.Optional:
			rep.Checks[c.Name] = StatusDegraded + ": " + errs[i].Error()
			if rep.Status == StatusOK {
				rep.Status = StatusDegraded
			}
		default:
			rep.Checks[c.Name] = StatusFail + ": " + errs[i].Error()
			rep.Status = StatusFail
		}
	}

	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
