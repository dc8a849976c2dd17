package live_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/live"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/suggest"
	"github.com/correctnow/correctnow/pkg/suggest/interact"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeCorrector struct {
	mu    sync.Mutex
	resp  suggest.Response
	err   error
	texts []string
}

func (f *fakeCorrector) Correct(_ context.Context, text, _ string) (suggest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.resp, f.err
}

func (f *fakeCorrector) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// manualScheduler records scheduled calls; Fire runs the pending ones.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(_ time.Duration, fn func()) interact.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{fn: fn}
	s.pending = append(s.pending, t)
	return t
}

func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	due := s.pending
	s.pending = nil
	s.mu.Unlock()
	n := 0
	for _, t := range due {
		if !t.stopped {
			t.stopped = true
			t.fn()
			n++
		}
	}
	return n
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

var appleResponse = suggest.Response{
	CorrectedText: "I have an apple.",
	Changes: []suggest.Change{
		{Original: "has", Corrected: "have"},
		{Original: "a apple", Corrected: "an apple"},
	},
}

func newManager(t *testing.T, cfg live.ManagerConfig) *live.Manager {
	t.Helper()
	if cfg.Metrics == nil {
		cfg.Metrics = testMetrics(t)
	}
	if cfg.Corrector == nil {
		cfg.Corrector = &fakeCorrector{resp: appleResponse}
	}
	return live.NewManager(cfg)
}

// ── manager ──────────────────────────────────────────────────────────────────

func TestManager_Lifecycle(t *testing.T) {
	t.Parallel()

	m := newManager(t, live.ManagerConfig{})
	ctx := context.Background()

	a, err := m.Start(ctx, live.StartOptions{UserID: "u1", Language: "en"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	b, err := m.Start(ctx, live.StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("bad session ids %q %q", a.ID(), b.ID())
	}
	if m.Count() != 2 || len(m.List()) != 2 || len(m.IDs()) != 2 {
		t.Fatalf("Count=%d List=%d IDs=%d, want 2", m.Count(), len(m.List()), len(m.IDs()))
	}
	if got, ok := m.Get(a.ID()); !ok || got != a {
		t.Error("Get did not return the started session")
	}
	if info := a.Info(); info.UserID != "u1" || info.Language != "en" || info.StartedAt.IsZero() {
		t.Errorf("Info() = %+v", info)
	}

	if err := m.Stop(ctx, a.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(ctx, a.ID()); !errors.Is(err, live.ErrSessionNotFound) {
		t.Errorf("second Stop = %v, want ErrSessionNotFound", err)
	}

	m.StopAll(ctx)
	if m.Count() != 0 {
		t.Errorf("Count after StopAll = %d", m.Count())
	}
}

func TestManager_SessionCap(t *testing.T) {
	t.Parallel()

	m := newManager(t, live.ManagerConfig{MaxSessions: 1})
	ctx := context.Background()

	s, err := m.Start(ctx, live.StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(ctx, live.StartOptions{}); !errors.Is(err, live.ErrTooManySessions) {
		t.Fatalf("Start over cap = %v, want ErrTooManySessions", err)
	}
	_ = m.Stop(ctx, s.ID())
	if _, err := m.Start(ctx, live.StartOptions{}); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
}

// ── session ──────────────────────────────────────────────────────────────────

func TestSession_CheckAcceptRecordsHistory(t *testing.T) {
	t.Parallel()

	hist := history.NewMemStore()
	m := newManager(t, live.ManagerConfig{History: hist})
	ctx := context.Background()

	s, err := m.Start(ctx, live.StartOptions{UserID: "u1", Text: "I has a apple."})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}

	st := s.State()
	if len(st.Spans) != 2 || len(st.Suggestions) != 2 {
		t.Fatalf("state = %+v, want 2 spans and 2 suggestions", st)
	}

	idx := 0
	if !s.Accept(ctx, "", &idx) {
		t.Fatal("Accept(index 0) = false")
	}
	if got := s.State().Text; got != "I have a apple." {
		t.Fatalf("text = %q", got)
	}
	if n := s.AcceptAll(ctx); n != 1 {
		t.Errorf("AcceptAll applied %d, want 1", n)
	}
	if got := s.State().Text; got != "I have an apple." {
		t.Fatalf("text = %q", got)
	}

	if err := m.Stop(ctx, s.ID()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	entries, _ := hist.Recent(ctx, "u1", 0)
	if len(entries) != 1 {
		t.Fatalf("history has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Original != "I has a apple." || e.Final != "I have an apple." || e.Accepted != 2 || e.Ignored != 0 {
		t.Errorf("history entry = %+v", e)
	}
}

func TestSession_ReviewCountsSpanRounds(t *testing.T) {
	t.Parallel()

	hist := history.NewMemStore()
	m := newManager(t, live.ManagerConfig{History: hist})
	ctx := context.Background()

	s, _ := m.Start(ctx, live.StartOptions{UserID: "u1", Text: "I has a apple."})
	s.Ingest(ctx, appleResponse.Changes)
	first := s.State().Suggestions[0]
	if !s.Ignore(first.ID, nil) {
		t.Fatal("Ignore returned false")
	}

	// A new round replaces the suggestions but keeps the earlier review.
	s.Ingest(ctx, []suggest.Change{{Original: "a apple", Corrected: "an apple"}})
	if !s.Accept(ctx, s.State().Suggestions[0].ID, nil) {
		t.Fatal("Accept returned false")
	}
	_ = m.Stop(ctx, s.ID())

	entries, _ := hist.Recent(ctx, "u1", 0)
	if len(entries) != 1 || entries[0].Accepted != 1 || entries[0].Ignored != 1 {
		t.Errorf("history = %+v, want accepted 1 ignored 1", entries)
	}
}

func TestSession_NoHistoryWithoutReviewOrUser(t *testing.T) {
	t.Parallel()

	hist := history.NewMemStore()
	m := newManager(t, live.ManagerConfig{History: hist})
	ctx := context.Background()

	anon, _ := m.Start(ctx, live.StartOptions{Text: "I has a apple."})
	_ = anon.Check(ctx)
	_ = m.Stop(ctx, anon.ID())

	idle, _ := m.Start(ctx, live.StartOptions{UserID: "u1", Text: "fine"})
	_ = m.Stop(ctx, idle.ID())

	unreviewed, _ := m.Start(ctx, live.StartOptions{UserID: "u1", Text: "I has a apple."})
	if err := unreviewed.Check(ctx); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if n := len(unreviewed.State().Suggestions); n != 2 {
		t.Fatalf("suggestions = %d, want 2", n)
	}
	_ = m.Stop(ctx, unreviewed.ID())

	if hist.Len() != 0 {
		t.Errorf("history has %d entries, want 0", hist.Len())
	}
}

func TestSession_CheckError(t *testing.T) {
	t.Parallel()

	boom := errors.New("provider down")
	m := newManager(t, live.ManagerConfig{Corrector: &fakeCorrector{err: boom}})
	s, _ := m.Start(context.Background(), live.StartOptions{Text: "x"})
	if err := s.Check(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Check = %v, want wrapped provider error", err)
	}
}

func TestSession_DebouncedCheck(t *testing.T) {
	t.Parallel()

	sched := &manualScheduler{}
	fc := &fakeCorrector{resp: appleResponse}
	m := newManager(t, live.ManagerConfig{
		Corrector:  fc,
		CheckDelay: 300 * time.Millisecond,
		Scheduler:  sched,
	})
	ctx := context.Background()
	s, _ := m.Start(ctx, live.StartOptions{})

	updates := make(chan live.State, 4)
	s.OnUpdate(func(st live.State) { updates <- st })

	s.SetText("I has")
	s.SetText("I has a apple.")
	if n := sched.Fire(); n != 1 {
		t.Fatalf("fired %d checks, want 1 after a burst of typing", n)
	}
	if got := fc.calls(); len(got) != 1 || got[0] != "I has a apple." {
		t.Fatalf("corrector calls = %q", got)
	}
	select {
	case st := <-updates:
		if len(st.Spans) != 2 {
			t.Errorf("pushed state has %d spans, want 2", len(st.Spans))
		}
	default:
		t.Fatal("no state pushed after scheduled check")
	}

	m.SetCheckDelay(0)
	s.SetText("I has a apple!")
	if n := sched.Fire(); n != 0 {
		t.Errorf("fired %d checks with automatic checks disabled", n)
	}
}

func TestSession_MirrorHTML(t *testing.T) {
	t.Parallel()

	m := newManager(t, live.ManagerConfig{})
	s, _ := m.Start(context.Background(), live.StartOptions{Text: "I has a apple.", Mirror: true})
	s.Ingest(context.Background(), appleResponse.Changes)
	if html := s.State().HTML; html == "" {
		t.Error("mirror session reported no html")
	}

	plain, _ := m.Start(context.Background(), live.StartOptions{Text: "x"})
	if html := plain.State().HTML; html != "" {
		t.Errorf("plain session reported html %q", html)
	}
}
