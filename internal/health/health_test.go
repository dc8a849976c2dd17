package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func up(context.Context) error { return nil }

func down(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func readyz(t *testing.T, h *Handler, r *http.Request) (int, report) {
	t.Helper()
	if r == nil {
		r = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	}
	rec := httptest.NewRecorder()
	h.Readyz(rec, r)

	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode /readyz body: %v", err)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
	return rec.Code, rep
}

func TestHealthz_IgnoresProbes(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "llm", Check: down("breaker open")})
	h.Drain()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no probes",
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
		},
		{
			name: "all up",
			checkers: []Checker{
				{Name: "llm", Check: up},
				Optional(Checker{Name: "redis", Check: up}),
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusOK,
			wantChecks: map[string]string{"llm": "ok", "redis": "ok"},
		},
		{
			name: "cache down degrades",
			checkers: []Checker{
				{Name: "llm", Check: up},
				Optional(Checker{Name: "redis", Check: down("dial tcp: refused")}),
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
			wantChecks: map[string]string{"llm": "ok", "redis": "degraded: dial tcp: refused"},
		},
		{
			name: "required down fails",
			checkers: []Checker{
				{Name: "postgres", Check: down("too many connections")},
				Optional(Checker{Name: "redis", Check: down("timeout")}),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusFail,
			wantChecks: map[string]string{"postgres": "fail: too many connections", "redis": "degraded: timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			code, rep := readyz(t, New(tt.checkers...), nil)
			if code != tt.wantCode || rep.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, rep.Status, tt.wantCode, tt.wantStatus)
			}
			if len(rep.Checks) != len(tt.wantChecks) {
				t.Fatalf("checks = %v, want %v", rep.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if rep.Checks[name] != want {
					t.Errorf("%s = %q, want %q", name, rep.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_Draining(t *testing.T) {
	t.Parallel()

	probed := false
	h := New(Checker{Name: "llm", Check: func(context.Context) error {
		probed = true
		return nil
	}})
	if code, _ := readyz(t, h, nil); code != http.StatusOK {
		t.Fatalf("before drain: %d", code)
	}

	probed = false
	h.Drain()
	code, rep := readyz(t, h, nil)
	if code != http.StatusServiceUnavailable || rep.Status != StatusDraining {
		t.Errorf("after drain: %d %q", code, rep.Status)
	}
	if probed {
		t.Error("draining handler still probed dependencies")
	}
}

func TestReadyz_ProbesOverlap(t *testing.T) {
	t.Parallel()

	// Each probe waits for the other to start; a sequential runner would
	// hit the request deadline instead.
	arrived := make(chan struct{}, 2)
	rendezvous := func(ctx context.Context) error {
		arrived <- struct{}{}
		for {
			if len(arrived) == 2 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Millisecond):
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h := New(Checker{Name: "llm", Check: rendezvous}, Checker{Name: "postgres", Check: rendezvous})
	code, rep := readyz(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusOK {
		t.Errorf("status = %d, checks %v", code, rep.Checks)
	}
}

func TestReadyz_CancelledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := New(Checker{Name: "postgres", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	code, rep := readyz(t, h, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))
	if code != http.StatusServiceUnavailable || rep.Checks["postgres"] != "fail: context canceled" {
		t.Errorf("got %d %v", code, rep.Checks)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestCheckerHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	breaker := "closed"
	tests := []struct {
		name    string
		checker Checker
		wantErr string
	}{
		{"ping ok", Ping("postgres", stubPinger{}), ""},
		{"ping refused", Ping("postgres", stubPinger{err: errors.New("refused")}), "refused"},
		{"breaker closed", State("llm", "closed", func() string { return breaker }), ""},
		{"breaker open", State("llm", "closed", func() string { return "open" }), "state open"},
	}
	for _, tt := range tests {
		err := tt.checker.Check(ctx)
		got := ""
		if err != nil {
			got = err.Error()
		}
		if got != tt.wantErr {
			t.Errorf("%s: err = %q, want %q", tt.name, got, tt.wantErr)
		}
	}

	if c := Optional(Ping("redis", stubPinger{})); !c.Optional || c.Name != "redis" {
		t.Errorf("Optional = %+v", c)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(Checker{Name: "llm", Check: up}).Register(mux)

	for _, tc := range []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodPost, "/readyz", http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}
