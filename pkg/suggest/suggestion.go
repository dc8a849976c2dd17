// Package suggest implements the CorrectNow suggestion engine: locating the
// spans of correction suggestions inside a text snapshot, tracking their
// review status, and patching accepted corrections back into the text.
//
// The engine is host-agnostic. A host surface (an input field, a textarea,
// a contentEditable editor, or a remote client over the live API) owns the
// text snapshot and feeds it through a [Session]:
//
//  1. [Store.Ingest] filters the raw changes returned by the correction
//     service and turns the survivors into Pending [Suggestion] values.
//  2. [Locate] finds non-overlapping [Occurrence] values for every Pending
//     suggestion in the current text.
//  3. A [Renderer] projects those occurrences onto the visual surface.
//  4. [ApplyAt], [ApplyFirst] and [ApplyAll] patch accepted corrections
//     back into the text.
//
// None of these operations fail on races between user typing and an
// asynchronous correction result: a suggestion that no longer applies is a
// silent no-op, reported through a boolean rather than an error.
//
// All offsets are byte offsets into the UTF-8 text snapshot. Use
// [UTF16Offset] and [ByteOffsetFromUTF16] to talk to hosts that count in
// UTF-16 code units.
package suggest

import (
	"fmt"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"
)

// Status is the review state of a [Suggestion].
type Status int

const (
	// Pending suggestions are active: they are located, rendered and offered
	// to the user.
	Pending Status = iota

	// Accepted suggestions have been applied to the text.
	Accepted

	// Ignored suggestions were dismissed by the user or superseded by another
	// accepted suggestion for the same original text.
	Ignored
)

// String returns the lower-case wire name of the status.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Accepted:
		return "accepted"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = Pending
	case "accepted":
		*s = Accepted
	case "ignored":
		*s = Ignored
	default:
		return fmt.Errorf("suggest: unknown status %q", b)
	}
	return nil
}

// Change is one raw edit returned by the correction service.
type Change struct {
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation,omitempty"`
}

// Response is the decoded payload of the correction service.
type Response struct {
	// CorrectedText is the service's fully corrected rendition of the input.
	// It is informational; the engine only consumes Changes.
	CorrectedText string `json:"corrected_text"`

	// Changes lists the individual edits.
	Changes []Change `json:"changes"`
}

// Suggestion is one proposed edit under review.
//
// Original and Corrected are fixed at creation; only Status changes.
type Suggestion struct {
	// ID identifies the suggestion for the lifetime of its [Store].
	ID string `json:"id"`

	// Original is the literal text to replace. Never empty.
	Original string `json:"original"`

	// Corrected is the replacement text.
	Corrected string `json:"corrected"`

	// Explanation is an optional human-readable reason for the edit.
	Explanation string `json:"explanation,omitempty"`

	// Distance is the Levenshtein distance between Original and Corrected.
	Distance int `json:"distance"`

	// Status is the current review state.
	Status Status `json:"status"`
}

// NewSuggestion builds a Pending suggestion with a fresh ID.
func NewSuggestion(original, corrected, explanation string) *Suggestion {
	return &Suggestion{
		ID:          uuid.NewString(),
		Original:    original,
		Corrected:   corrected,
		Explanation: explanation,
		Distance:    matchr.Levenshtein(original, corrected),
		Status:      Pending,
	}
}

// Occurrence is a concrete location of a suggestion's original text within
// one text snapshot. Occurrences are derived and never stored.
type Occurrence struct {
	Start      int
	Length     int
	Suggestion *Suggestion
}

// End returns the exclusive end offset.
func (o Occurrence) End() int { return o.Start + o.Length }

// Contains reports whether pos falls within the occurrence, counting the end
// offset as inside so that a caret placed right after a word still selects it.
func (o Occurrence) Contains(pos int) bool {
	return pos >= o.Start && pos <= o.End()
}
