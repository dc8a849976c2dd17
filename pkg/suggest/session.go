package suggest

import (
	"log/slog"
	"slices"
	"sync"
)

// Renderer projects occurrences onto a visual surface. Render must be
// idempotent: calling it twice with the same arguments leaves the same
// decorations behind.
type Renderer interface {
	Render(text string, occs []Occurrence)
}

// Clearer is implemented by renderers that can remove every decoration they
// produced. [Session.Close] calls it.
type Clearer interface {
	Clear()
}

// State is a snapshot of a [Session] after a mutation.
type State struct {
	Text        string
	Occurrences []Occurrence
	Suggestions []*Suggestion // copies; see [Store.Snapshot]
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithRenderer attaches a [Renderer] that is invoked after every mutation.
func WithRenderer(r Renderer) SessionOption {
	return func(s *Session) {
		s.renderer = r
	}
}

// WithStore replaces the session's [Store].
func WithStore(st *Store) SessionOption {
	return func(s *Session) {
		if st != nil {
			s.store = st
		}
	}
}

// WithObserver registers fn to receive a [State] after every mutation. fn is
// called without the session lock held, so it may call back into the session.
func WithObserver(fn func(State)) SessionOption {
	return func(s *Session) {
		s.observer = fn
	}
}

// Session is the engine state of one host surface instance: its text
// snapshot, its suggestions and the occurrences derived from both.
//
// Every mutation re-runs [Locate] and the [Renderer] before returning, so
// decorations never lag behind the text. A Session is safe for concurrent
// use; debounced interaction callbacks may call it from timer goroutines.
type Session struct {
	mu       sync.Mutex
	text     string
	store    *Store
	occs     []Occurrence
	renderer Renderer
	observer func(State)
	closed   bool
	round    uint64
}

// NewSession returns a [Session] holding text.
func NewSession(text string, opts ...SessionOption) *Session {
	s := &Session{
		text:  text,
		store: NewStore(),
	}
	for _, o := range opts {
		o(s)
	}
	s.mu.Lock()
	s.refreshLocked()
	s.mu.Unlock()
	return s
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Text returns the current text snapshot.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Occurrences returns the occurrences located in the current text.
func (s *Session) Occurrences() []Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.occs)
}

// Store returns the session's suggestion store.
func (s *Session) Store() *Store { return s.store }

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Round counts the [Session.Ingest] calls so far. Occurrences recorded in
// an earlier round no longer refer to the store's suggestions.
func (s *Session) Round() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.round
}

// Group returns the Pending suggestions that share the normalized original
// of the suggestion with the given ID.
func (s *Session) Group(id string) []*Suggestion {
	return s.store.Group(id)
}

// ─── Mutations ──────────────────────────────────────────────────────────────

// SetText replaces the text snapshot after user typing.
func (s *Session) SetText(text string) {
	s.mutate(func() bool {
		if s.text == text {
			return false
		}
		s.text = text
		return true
	})
}

// Ingest filters changes against the current text and replaces the
// session's suggestions with the survivors.
func (s *Session) Ingest(changes []Change) []*Suggestion {
	var out []*Suggestion
	s.mutate(func() bool {
		out = s.store.Ingest(s.text, changes)
		s.round++
		return true
	})
	return out
}

// Recompute re-runs the locator and renderer without changing any state.
func (s *Session) Recompute() []Occurrence {
	s.mutate(func() bool { return true })
	return s.Occurrences()
}

// Accept applies the suggestion with the given ID. The occurrence located in
// the current text is patched when there is one; otherwise the first
// literal occurrence of the original is. On success the suggestion becomes
// Accepted and other Pending suggestions with the same original become
// Ignored. Accepting a suggestion that no longer applies changes nothing.
func (s *Session) Accept(id string) (string, bool) {
	var ok bool
	s.mutate(func() bool {
		sg, found := s.store.Get(id)
		if !found || !s.store.IsPending(sg) {
			return false
		}
		var next string
		if i := s.indexOfLocked(sg); i >= 0 {
			next, ok = ApplyAt(s.text, s.occs[i])
		}
		if !ok {
			next, ok = ApplyFirst(s.text, sg)
		}
		if !ok {
			slog.Debug("suggest session: accept skipped, original not found", "suggestion", id)
			return false
		}
		s.commitLocked(sg.ID, next)
		return true
	})
	return s.Text(), ok
}

// AcceptAt applies the occurrence at index of the current occurrence list.
func (s *Session) AcceptAt(index int) (string, bool) {
	var ok bool
	s.mutate(func() bool {
		if index < 0 || index >= len(s.occs) {
			return false
		}
		ok = s.acceptOccurrenceLocked(s.occs[index])
		return ok
	})
	return s.Text(), ok
}

// AcceptOccurrence applies an occurrence recorded earlier, for example when
// a popover was opened. If the text drifted or the suggestions were
// replaced since, nothing changes.
func (s *Session) AcceptOccurrence(occ Occurrence) (string, bool) {
	var ok bool
	s.mutate(func() bool {
		if !s.store.IsPending(occ.Suggestion) {
			return false
		}
		ok = s.acceptOccurrenceLocked(occ)
		return ok
	})
	return s.Text(), ok
}

// AcceptAll folds every Pending suggestion over the text in ingestion order
// using first-occurrence replacement. Suggestions that applied become
// Accepted; the rest stay Pending.
func (s *Session) AcceptAll() string {
	s.mutate(func() bool {
		changed := false
		// Each suggestion is applied on its own. Same-original siblings are
		// not auto-ignored here, so two alternatives for one word both land,
		// each on the next remaining instance.
		for _, sg := range s.store.Active() {
			next, ok := ApplyFirst(s.text, sg)
			if !ok {
				continue
			}
			s.text = next
			s.store.SetStatus(sg.ID, Accepted)
			changed = true
		}
		return changed
	})
	return s.Text()
}

// Ignore marks the suggestion with the given ID Ignored.
func (s *Session) Ignore(id string) bool {
	var ok bool
	s.mutate(func() bool {
		if st, found := s.store.Status(id); !found || st != Pending {
			return false
		}
		ok = s.store.SetStatus(id, Ignored)
		return ok
	})
	return ok
}

// IgnoreAt marks the suggestion behind the occurrence at index Ignored.
func (s *Session) IgnoreAt(index int) bool {
	s.mu.Lock()
	if index < 0 || index >= len(s.occs) {
		s.mu.Unlock()
		return false
	}
	id := s.occs[index].Suggestion.ID
	s.mu.Unlock()
	return s.Ignore(id)
}

// IgnoreGroup marks every Pending suggestion sharing the normalized original
// of the given suggestion Ignored and returns how many changed.
func (s *Session) IgnoreGroup(id string) int {
	var n int
	s.mutate(func() bool {
		for _, sg := range s.store.Group(id) {
			if s.store.SetStatus(sg.ID, Ignored) {
				n++
			}
		}
		return n > 0
	})
	return n
}

// IgnoreAll marks every Pending suggestion Ignored.
func (s *Session) IgnoreAll() int {
	var n int
	s.mutate(func() bool {
		for _, sg := range s.store.Active() {
			s.store.SetStatus(sg.ID, Ignored)
			n++
		}
		return n > 0
	})
	return n
}

// Close clears the renderer and detaches the session. Further mutations are
// ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.occs = nil
	if c, ok := s.renderer.(Clearer); ok {
		c.Clear()
	}
}

// ─── Internals ──────────────────────────────────────────────────────────────

// mutate runs fn under the lock. When fn reports a change the occurrences
// are recomputed, the renderer runs and the observer is notified after the
// lock is released.
func (s *Session) mutate(fn func() bool) {
	s.mu.Lock()
	if s.closed || !fn() {
		s.mu.Unlock()
		return
	}
	s.refreshLocked()
	st := s.stateLocked()
	obs := s.observer
	s.mu.Unlock()

	if obs != nil {
		obs(st)
	}
}

func (s *Session) refreshLocked() {
	s.occs = Locate(s.text, s.store.Active())
	if s.renderer != nil {
		s.renderer.Render(s.text, slices.Clone(s.occs))
	}
}

func (s *Session) stateLocked() State {
	return State{
		Text:        s.text,
		Occurrences: slices.Clone(s.occs),
		Suggestions: s.store.Snapshot(),
	}
}

func (s *Session) acceptOccurrenceLocked(occ Occurrence) bool {
	next, ok := ApplyAt(s.text, occ)
	if !ok {
		slog.Debug("suggest session: accept skipped, text drifted",
			"suggestion", occ.Suggestion.ID, "start", occ.Start)
		return false
	}
	s.commitLocked(occ.Suggestion.ID, next)
	return true
}

func (s *Session) commitLocked(id, next string) {
	s.text = next
	s.store.Accept(id)
}

func (s *Session) indexOfLocked(sg *Suggestion) int {
	return slices.IndexFunc(s.occs, func(o Occurrence) bool { return o.Suggestion == sg })
}
