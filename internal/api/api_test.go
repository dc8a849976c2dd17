package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/correctnow/correctnow/internal/api"
	"github.com/correctnow/correctnow/internal/correct"
	"github.com/correctnow/correctnow/internal/health"
	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/live"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/internal/resilience"
	"github.com/correctnow/correctnow/pkg/suggest"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type corrector func(ctx context.Context, text, language string) (suggest.Response, error)

func (f corrector) Correct(ctx context.Context, text, language string) (suggest.Response, error) {
	return f(ctx, text, language)
}

var appleResponse = suggest.Response{
	CorrectedText: "I have an apple.",
	Changes: []suggest.Change{
		{Original: "has", Corrected: "have", Explanation: "agreement"},
		{Original: "a apple", Corrected: "an apple"},
		{Original: "pear", Corrected: "pears"},
	},
}

func fixed(resp suggest.Response) corrector {
	return func(context.Context, string, string) (suggest.Response, error) { return resp, nil }
}

func failing(err error) corrector {
	return func(context.Context, string, string) (suggest.Response, error) { return suggest.Response{}, err }
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newHandler(t *testing.T, c api.Corrector, opts ...api.Option) http.Handler {
	t.Helper()
	opts = append([]api.Option{api.WithMetrics(testMetrics(t))}, opts...)
	return api.New(c, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// ── Correct ──────────────────────────────────────────────────────────────────

func TestCorrect(t *testing.T) {
	t.Parallel()

	var gotLang string
	h := newHandler(t, corrector(func(_ context.Context, _, lang string) (suggest.Response, error) {
		gotLang = lang
		return appleResponse, nil
	}))

	rec := do(t, h, http.MethodPost, "/api/correct", map[string]any{
		"text":     "I has a apple.",
		"language": "en",
		"render":   true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if gotLang != "en" {
		t.Errorf("language = %q, want en", gotLang)
	}

	res := decode[api.CorrectResult](t, rec)
	if res.CorrectedText != "I have an apple." || len(res.Changes) != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Suggestions) != 2 || res.Dropped != 1 {
		t.Fatalf("suggestions = %d dropped = %d, want 2 and 1", len(res.Suggestions), res.Dropped)
	}
	if len(res.Occurrences) != 2 || res.Occurrences[1].Start != 6 || res.Occurrences[1].Length != 7 {
		t.Errorf("occurrences = %+v", res.Occurrences)
	}
	if res.Occurrences[0].SuggestionID != res.Suggestions[0].ID {
		t.Error("occurrence does not reference its suggestion")
	}
	if !strings.Contains(res.HTML, "cn-underline") {
		t.Errorf("html missing decorations: %q", res.HTML)
	}
}

func TestCorrect_NoChangesEncodesEmptyLists(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(suggest.Response{CorrectedText: "fine"}))
	rec := do(t, h, http.MethodPost, "/api/correct", map[string]string{"text": "fine"})
	for _, want := range []string{`"changes":[]`, `"suggestions":[]`, `"occurrences":[]`} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("body %s missing %s", rec.Body, want)
		}
	}
	if strings.Contains(rec.Body.String(), `"html"`) {
		t.Error("html present without render")
	}
}

func TestCorrect_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		c          corrector
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty text", failing(correct.ErrEmptyText), `{"text":""}`, http.StatusBadRequest, api.CodeEmptyText},
		{"too long", failing(fmt.Errorf("%w: 11 characters", correct.ErrTextTooLong)), `{"text":"x"}`, http.StatusRequestEntityTooLarge, api.CodeTextTooLong},
		{"all providers failed", failing(fmt.Errorf("%w: boom", resilience.ErrAllFailed)), `{"text":"x"}`, http.StatusServiceUnavailable, api.CodeUnavailable},
		{"timeout", failing(fmt.Errorf("correct: complete: %w", context.DeadlineExceeded)), `{"text":"x"}`, http.StatusGatewayTimeout, api.CodeTimeout},
		{"upstream", failing(errors.New("bad gateway")), `{"text":"x"}`, http.StatusBadGateway, api.CodeUpstream},
		{"malformed json", fixed(appleResponse), `{"text":`, http.StatusBadRequest, api.CodeInvalidBody},
		{"unknown field", fixed(appleResponse), `{"text":"x","bogus":1}`, http.StatusBadRequest, api.CodeInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, newHandler(t, tt.c), http.MethodPost, "/api/correct", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body)
			}
			if got := decode[errorResponse](t, rec); got.Code != tt.wantCode || got.Error == "" {
				t.Errorf("error body = %+v, want code %s", got, tt.wantCode)
			}
		})
	}
}

func TestCorrect_BodyLimit(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse), api.WithMaxBodyBytes(16))
	rec := do(t, h, http.MethodPost, "/api/correct", map[string]string{"text": strings.Repeat("x", 64)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCorrect_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := do(t, newHandler(t, fixed(appleResponse)), http.MethodGet, "/api/correct", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

// ── Batch ────────────────────────────────────────────────────────────────────

func TestBatch(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	c := corrector(func(_ context.Context, text, _ string) (suggest.Response, error) {
		mu.Lock()
		active++
		maxSeen = max(maxSeen, active)
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		if text == "boom" {
			return suggest.Response{}, correct.ErrEmptyText
		}
		return appleResponse, nil
	})
	h := newHandler(t, c, api.WithBatch(10, 2))

	texts := []string{"I has a apple.", "boom", "a apple", "has", "nothing"}
	rec := do(t, h, http.MethodPost, "/api/correct/batch", map[string]any{"texts": texts})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	body := decode[struct {
		Results []api.BatchItem `json:"results"`
	}](t, rec)
	if len(body.Results) != len(texts) {
		t.Fatalf("got %d results, want %d", len(body.Results), len(texts))
	}
	for i, item := range body.Results {
		if item.Index != i {
			t.Errorf("result %d has index %d", i, item.Index)
		}
	}
	if body.Results[1].Error == nil || body.Results[1].Error.Code != api.CodeEmptyText {
		t.Errorf("failing item = %+v", body.Results[1])
	}
	if r := body.Results[0].Result; r == nil || len(r.Occurrences) != 2 {
		t.Errorf("first item = %+v", body.Results[0])
	}
	if r := body.Results[4].Result; r == nil || len(r.Suggestions) != 0 {
		t.Errorf("last item = %+v", body.Results[4])
	}
	if maxSeen > 2 {
		t.Errorf("ran %d corrections concurrently, limit 2", maxSeen)
	}
}

func TestBatch_Validation(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse), api.WithBatch(2, 1))
	tests := []struct {
		name       string
		texts      []string
		wantStatus int
	}{
		{"empty", nil, http.StatusBadRequest},
		{"too large", []string{"a", "b", "c"}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, http.MethodPost, "/api/correct/batch", map[string]any{"texts": tt.texts})
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// ── Apply ────────────────────────────────────────────────────────────────────

func TestApply(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse))
	idx := func(i int) *int { return &i }

	tests := []struct {
		name        string
		body        map[string]any
		wantText    string
		wantApplied int
		wantCaret   *int
		wantLeft    int
	}{
		{
			name:        "single occurrence",
			body:        map[string]any{"text": "I has a apple.", "changes": appleResponse.Changes, "occurrence": 0},
			wantText:    "I have a apple.",
			wantApplied: 1,
			wantLeft:    1,
		},
		{
			name:        "all",
			body:        map[string]any{"text": "I has a apple.", "changes": appleResponse.Changes, "all": true, "caret": 14},
			wantText:    "I have an apple.",
			wantApplied: 2,
			wantCaret:   idx(16),
		},
		{
			name:        "caret before edit stays",
			body:        map[string]any{"text": "I has a apple.", "changes": appleResponse.Changes, "occurrence": 1, "caret": 1},
			wantText:    "I has an apple.",
			wantApplied: 1,
			wantCaret:   idx(1),
			wantLeft:    1,
		},
		{
			name:        "index out of range is a no-op",
			body:        map[string]any{"text": "I has a apple.", "changes": appleResponse.Changes, "occurrence": 9},
			wantText:    "I has a apple.",
			wantApplied: 0,
			wantLeft:    2,
		},
		{
			name:        "all only first occurrence",
			body:        map[string]any{"text": "teh teh", "changes": []suggest.Change{{Original: "teh", Corrected: "the"}}, "all": true},
			wantText:    "the teh",
			wantApplied: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, h, http.MethodPost, "/api/apply", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
			}
			got := decode[api.ApplyResult](t, rec)
			if got.Text != tt.wantText || got.Applied != tt.wantApplied {
				t.Errorf("got text %q applied %d, want %q and %d", got.Text, got.Applied, tt.wantText, tt.wantApplied)
			}
			if len(got.Occurrences) != tt.wantLeft {
				t.Errorf("%d occurrences left, want %d", len(got.Occurrences), tt.wantLeft)
			}
			switch {
			case tt.wantCaret == nil && got.Caret != nil:
				t.Errorf("unexpected caret %d", *got.Caret)
			case tt.wantCaret != nil && (got.Caret == nil || *got.Caret != *tt.wantCaret):
				t.Errorf("caret = %v, want %d", got.Caret, *tt.wantCaret)
			}
		})
	}
}

func TestApply_RequiresExactlyOneMode(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse))
	for _, body := range []map[string]any{
		{"text": "x", "changes": []suggest.Change{}},
		{"text": "x", "changes": []suggest.Change{}, "all": true, "occurrence": 0},
	} {
		if rec := do(t, h, http.MethodPost, "/api/apply", body); rec.Code != http.StatusBadRequest {
			t.Errorf("body %v: status = %d, want 400", body, rec.Code)
		}
	}
}

// ── History ──────────────────────────────────────────────────────────────────

func TestHistory(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse), api.WithHistory(history.NewMemStore()))

	rec := do(t, h, http.MethodPost, "/api/history", map[string]any{
		"user_id":  "u1",
		"original": "I has a apple.",
		"final":    "I have an apple.",
		"accepted": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if e := decode[history.Entry](t, rec); e.ID == 0 || e.CreatedAt.IsZero() {
		t.Errorf("created entry = %+v", e)
	}

	rec = do(t, h, http.MethodGet, "/api/history?user=u1&limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := decode[struct {
		Entries []history.Entry `json:"entries"`
	}](t, rec)
	if len(list.Entries) != 1 || list.Entries[0].Accepted != 2 {
		t.Errorf("entries = %+v", list.Entries)
	}

	rec = do(t, h, http.MethodGet, "/api/history?user=nobody", nil)
	if !strings.Contains(rec.Body.String(), `"entries":[]`) {
		t.Errorf("empty history body = %s", rec.Body)
	}

	tests := []struct {
		name   string
		method string
		target string
		body   any
	}{
		{"invalid entry", http.MethodPost, "/api/history", map[string]any{"original": "x"}},
		{"missing user", http.MethodGet, "/api/history", nil},
		{"bad limit", http.MethodGet, "/api/history?user=u1&limit=abc", nil},
	}
	for _, tt := range tests {
		if rec := do(t, h, tt.method, tt.target, tt.body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, rec.Code)
		}
	}
}

func TestHistory_DisabledWithoutStore(t *testing.T) {
	t.Parallel()

	rec := do(t, newHandler(t, fixed(appleResponse)), http.MethodGet, "/api/history?user=u1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ── Middleware and mounts ────────────────────────────────────────────────────

func TestCORS(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse), api.WithCORSOrigins("https://app.example"))

	tests := []struct {
		name       string
		origin     string
		wantAllow  string
		wantStatus int
	}{
		{"allowed preflight", "https://app.example", "https://app.example", http.StatusNoContent},
		{"other origin", "https://evil.example", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodOptions, "/api/correct", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORS_Wildcard(t *testing.T) {
	t.Parallel()

	h := newHandler(t, fixed(appleResponse), api.WithCORSOrigins("*"))
	req := httptest.NewRequest(http.MethodPost, "/api/correct", strings.NewReader(`{"text":"x"}`))
	req.Header.Set("Origin", "https://any.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow origin = %q, want *", got)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	h := newHandler(t, fixed(appleResponse),
		api.WithHealth(health.New()),
		api.WithMetricsHandler(metrics),
	)

	if rec := do(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("/readyz status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", nil); rec.Body.String() != "# metrics" {
		t.Errorf("/metrics body = %q", rec.Body)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()

	calls := 0
	h := newHandler(t, fixed(appleResponse), api.WithSettings(func() api.Settings {
		calls++
		return api.Settings{CheckDelayMS: 800, HoverDelayMS: 300 + int64(calls), MaxTextLength: 10000}
	}))

	rec := do(t, h, http.MethodGet, "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[api.Settings](t, rec)
	if got.CheckDelayMS != 800 || got.HoverDelayMS != 301 || got.MaxTextLength != 10000 {
		t.Errorf("settings = %+v", got)
	}

	// Each request sees the current values.
	if got := decode[api.Settings](t, do(t, h, http.MethodGet, "/api/settings", nil)); got.HoverDelayMS != 302 {
		t.Errorf("second read hover = %d, want 302", got.HoverDelayMS)
	}
}

func TestLiveMount(t *testing.T) {
	t.Parallel()

	mgr := live.NewManager(live.ManagerConfig{
		Corrector: fixed(appleResponse),
		Metrics:   testMetrics(t),
	})
	srv := httptest.NewServer(newHandler(t, fixed(appleResponse), api.WithLive(live.NewHandler(mgr, nil), mgr)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/live?user=u1", nil)
	if err != nil {
		t.Fatalf("dial through middleware: %v", err)
	}
	defer conn.CloseNow()

	var hello live.Outbound
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		t.Fatalf("read: %v", err)
	}
	if hello.Type != live.MsgState {
		t.Fatalf("hello = %+v", hello)
	}

	resp, err := http.Get(srv.URL + "/api/live/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Sessions []live.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].UserID != "u1" || body.Sessions[0].ID != hello.Session {
		t.Errorf("sessions = %+v", body.Sessions)
	}
}
