package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/correctnow/correctnow/internal/history"
	"github.com/correctnow/correctnow/internal/observe"
	"github.com/correctnow/correctnow/pkg/suggest"
	"github.com/correctnow/correctnow/pkg/suggest/interact"
	"github.com/correctnow/correctnow/pkg/suggest/render"
)

// State is the snapshot reported to the editor after every change.
type State struct {
	Text        string                `json:"text"`
	Spans       []suggest.Span        `json:"occurrences"`
	Suggestions []*suggest.Suggestion `json:"suggestions"`
	HTML        string                `json:"html,omitempty"`
}

// Session is one editor's server-side engine state.
type Session struct {
	info      SessionInfo
	engine    *suggest.Session
	mirror    *render.Mirror
	debounce  *interact.Debouncer
	corrector Corrector
	metrics   *observe.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	autoCheck bool
	onUpdate  func(State)
	original  string
	changes   []suggest.Change
	checkSeq  uint64

	// Review counts of rounds replaced by a later check.
	accepted, ignored int
}

func newSession(info SessionInfo, opts StartOptions, c Corrector, m *observe.Metrics, sched interact.Scheduler, delay time.Duration) *Session {
	s := &Session{
		info:      info,
		corrector: c,
		metrics:   m,
		debounce:  interact.NewDebouncer(sched, delay),
		autoCheck: delay > 0,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var engineOpts []suggest.SessionOption
	if opts.Mirror {
		s.mirror = render.NewMirror()
		engineOpts = append(engineOpts, suggest.WithRenderer(s.mirror))
	}
	s.engine = suggest.NewSession(opts.Text, engineOpts...)
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.info.ID }

// Info returns the session metadata.
func (s *Session) Info() SessionInfo { return s.info }

// Engine exposes the underlying engine session.
func (s *Session) Engine() *suggest.Session { return s.engine }

// Done is closed once the session has been stopped.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// OnUpdate registers fn to receive states produced outside a request, such
// as the result of a debounced check.
func (s *Session) OnUpdate(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = fn
}

// State returns the current snapshot.
func (s *Session) State() State {
	st := s.engine.State()
	out := State{
		Text:        st.Text,
		Spans:       suggest.Spans(st.Text, st.Occurrences),
		Suggestions: st.Suggestions,
	}
	if out.Suggestions == nil {
		out.Suggestions = []*suggest.Suggestion{}
	}
	if s.mirror != nil {
		out.HTML = s.mirror.HTML()
	}
	return out
}

// SetText replaces the text snapshot after user typing and, when automatic
// checks are enabled, schedules a correction once typing pauses.
func (s *Session) SetText(text string) {
	s.engine.SetText(text)
	s.mu.Lock()
	auto := s.autoCheck
	s.mu.Unlock()
	if !auto {
		return
	}
	s.debounce.Trigger(func() {
		if err := s.Check(s.ctx); err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("live: scheduled check failed", "session_id", s.info.ID, "err", err)
			}
			return
		}
		s.mu.Lock()
		fn := s.onUpdate
		s.mu.Unlock()
		if fn != nil {
			fn(s.State())
		}
	})
}

// Check runs the corrector over the current text and ingests the result.
// A check that completes after a newer one was started is discarded.
func (s *Session) Check(ctx context.Context) error {
	text := s.engine.Text()
	s.mu.Lock()
	s.checkSeq++
	seq := s.checkSeq
	s.mu.Unlock()

	resp, err := s.corrector.Correct(ctx, text, s.info.Language)
	if err != nil {
		return fmt.Errorf("live: check: %w", err)
	}

	s.mu.Lock()
	if seq != s.checkSeq {
		s.mu.Unlock()
		slog.Debug("live: superseded check discarded", "session_id", s.info.ID)
		return nil
	}
	if s.original == "" {
		s.original = text
	}
	s.changes = resp.Changes
	s.tallyLocked()
	s.mu.Unlock()

	s.engine.Ingest(resp.Changes)
	s.metrics.RecordIngest(ctx, s.engine.Store().LastIngest())
	return nil
}

// Ingest loads changes obtained elsewhere, for example from a prior
// correction request.
func (s *Session) Ingest(ctx context.Context, changes []suggest.Change) {
	s.mu.Lock()
	if s.original == "" {
		s.original = s.engine.Text()
	}
	s.changes = changes
	s.tallyLocked()
	s.mu.Unlock()

	s.engine.Ingest(changes)
	s.metrics.RecordIngest(ctx, s.engine.Store().LastIngest())
}

// Accept applies one suggestion, addressed by ID or by occurrence index.
func (s *Session) Accept(ctx context.Context, id string, index *int) bool {
	var ok bool
	if index != nil {
		_, ok = s.engine.AcceptAt(*index)
	} else {
		_, ok = s.engine.Accept(id)
	}
	if ok {
		s.metrics.RecordPatches(ctx, "single", 1)
	}
	return ok
}

// AcceptAll applies every Pending suggestion and returns how many applied.
func (s *Session) AcceptAll(ctx context.Context) int {
	before := countStatus(s.engine.Store().Snapshot(), suggest.Accepted)
	s.engine.AcceptAll()
	n := countStatus(s.engine.Store().Snapshot(), suggest.Accepted) - before
	s.metrics.RecordPatches(ctx, "all", n)
	return n
}

// Ignore dismisses one suggestion, addressed by ID or by occurrence index.
func (s *Session) Ignore(id string, index *int) bool {
	if index != nil {
		return s.engine.IgnoreAt(*index)
	}
	return s.engine.Ignore(id)
}

func (s *Session) setCheckDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoCheck = d > 0
	s.debounce.SetDelay(d)
	if !s.autoCheck {
		s.debounce.Cancel()
	}
}

// tallyLocked folds the review counts of the round about to be replaced.
func (s *Session) tallyLocked() {
	all := s.engine.Store().Snapshot()
	s.accepted += countStatus(all, suggest.Accepted)
	s.ignored += countStatus(all, suggest.Ignored)
}

// close tears the session down and builds its history entry. record is
// false unless a user's session had at least one suggestion reviewed.
func (s *Session) close() (entry history.Entry, record bool) {
	s.cancel()
	s.mu.Lock()
	s.debounce.Cancel()
	original, changes := s.original, s.changes
	accepted, ignored := s.accepted, s.ignored
	s.onUpdate = nil
	s.mu.Unlock()

	all := s.engine.Store().Snapshot()
	final := s.engine.Text()
	s.engine.Close()

	accepted += countStatus(all, suggest.Accepted)
	ignored += countStatus(all, suggest.Ignored)
	if original == "" || s.info.UserID == "" || accepted+ignored == 0 {
		return history.Entry{}, false
	}
	return history.Entry{
		UserID:   s.info.UserID,
		Language: s.info.Language,
		Original: original,
		Final:    final,
		Changes:  changes,
		Accepted: accepted,
		Ignored:  ignored,
	}, true
}

func countStatus(ss []*suggest.Suggestion, st suggest.Status) int {
	n := 0
	for _, sg := range ss {
		if sg.Status == st {
			n++
		}
	}
	return n
}
