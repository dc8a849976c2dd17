package suggest

import (
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// IngestStats counts what happened to the raw changes of the last
// [Store.Ingest] call.
type IngestStats struct {
	Received  int
	Kept      int
	Blank     int // original empty or whitespace only
	Invalid   int // corrected empty
	Missing   int // original not found verbatim in the text
	Duplicate int // repeated (original, corrected) pair
	NoOp      int // original and corrected equal after trim and NFC
}

// Dropped returns the number of changes filtered out.
func (s IngestStats) Dropped() int { return s.Received - s.Kept }

// StoreOption configures a [Store].
type StoreOption func(*Store)

// WithIDFunc overrides the suggestion ID generator. Default: random UUIDs.
func WithIDFunc(fn func() string) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Store holds the suggestions of one host surface together with their
// review status. It is safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	suggestions []*Suggestion
	byID        map[string]*Suggestion
	last        IngestStats
	newID       func() string
}

// NewStore returns an empty [Store].
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		byID:  make(map[string]*Suggestion),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest replaces the store's contents with the changes that survive
// filtering against text and returns the new Pending suggestions in input
// order.
//
// Filters run in this order: blank original, empty corrected, original not
// occurring verbatim in text, repeated (original, corrected) pair, and no-op
// edits whose sides are equal after trimming and NFC normalization.
func (s *Store) Ingest(text string, changes []Change) []*Suggestion {
	stats := IngestStats{Received: len(changes)}
	type pair struct{ original, corrected string }
	seen := make(map[pair]struct{}, len(changes))
	out := make([]*Suggestion, 0, len(changes))

	for _, c := range changes {
		switch {
		case strings.TrimSpace(c.Original) == "":
			stats.Blank++
			continue
		case c.Corrected == "":
			stats.Invalid++
			continue
		case !strings.Contains(text, c.Original):
			stats.Missing++
			continue
		}
		p := pair{c.Original, c.Corrected}
		if _, dup := seen[p]; dup {
			stats.Duplicate++
			continue
		}
		seen[p] = struct{}{}
		if IsNoOp(c.Original, c.Corrected) {
			stats.NoOp++
			continue
		}
		sg := NewSuggestion(c.Original, c.Corrected, c.Explanation)
		sg.ID = s.newID()
		out = append(out, sg)
	}
	stats.Kept = len(out)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = out
	s.byID = make(map[string]*Suggestion, len(out))
	for _, sg := range out {
		s.byID[sg.ID] = sg
	}
	s.last = stats
	return slices.Clone(out)
}

// LastIngest returns the filter counts of the most recent Ingest.
func (s *Store) LastIngest() IngestStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Get returns the suggestion with the given ID.
func (s *Store) Get(id string) (*Suggestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.byID[id]
	return sg, ok
}

// Status returns the status of the suggestion with the given ID.
func (s *Store) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	return sg.Status, true
}

// IsPending reports whether sg belongs to the current round and is still
// Pending. A suggestion from a replaced round is never pending, even when a
// new suggestion reuses its ID.
func (s *Store) IsPending(sg *Suggestion) bool {
	if sg == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[sg.ID] == sg && sg.Status == Pending
}

// All returns every suggestion of the current round in ingestion order,
// resolved ones included.
func (s *Store) All() []*Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.suggestions)
}

// Snapshot returns copies of every suggestion of the current round in
// ingestion order. Unlike [Store.All] the result does not observe later
// status changes.
func (s *Store) Snapshot() []*Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Suggestion, len(s.suggestions))
	for i, sg := range s.suggestions {
		c := *sg
		out[i] = &c
	}
	return out
}

// Active returns the Pending suggestions in ingestion order.
func (s *Store) Active() []*Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Suggestion
	for _, sg := range s.suggestions {
		if sg.Status == Pending {
			out = append(out, sg)
		}
	}
	return out
}

// SetStatus changes the status of the suggestion with the given ID and
// reports whether it exists.
func (s *Store) SetStatus(id string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.byID[id]
	if !ok {
		return false
	}
	sg.Status = status
	return true
}

// Accept marks the suggestion Accepted and marks every other Pending
// suggestion with the same original Ignored. It returns the superseded
// suggestions. Accepting an unknown ID returns nil and false.
func (s *Store) Accept(id string) ([]*Suggestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	sg.Status = Accepted
	var superseded []*Suggestion
	for _, other := range s.suggestions {
		if other != sg && other.Status == Pending && other.Original == sg.Original {
			other.Status = Ignored
			superseded = append(superseded, other)
		}
	}
	return superseded, true
}

// Group returns the Pending suggestions sharing the [GroupKey] of the
// suggestion with the given ID, in ingestion order. The suggestion itself is
// included when Pending.
func (s *Store) Group(id string) []*Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	sg, ok := s.byID[id]
	if !ok {
		return nil
	}
	key := GroupKey(sg.Original)
	var out []*Suggestion
	for _, other := range s.suggestions {
		if other.Status == Pending && GroupKey(other.Original) == key {
			out = append(out, other)
		}
	}
	return out
}

// Reset drops all suggestions.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestions = nil
	s.byID = make(map[string]*Suggestion)
	s.last = IngestStats{}
}

// IsNoOp reports whether replacing original with corrected changes nothing
// once both sides are trimmed and NFC-normalized.
func IsNoOp(original, corrected string) bool {
	return norm.NFC.String(strings.TrimSpace(original)) == norm.NFC.String(strings.TrimSpace(corrected))
}

// GroupKey normalizes an original text for ambiguity grouping: NFC, lower
// case, punctuation removed, whitespace collapsed.
func GroupKey(original string) string {
	s := strings.ToLower(norm.NFC.String(original))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
