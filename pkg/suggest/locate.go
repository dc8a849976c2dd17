package suggest

import (
	"slices"
	"strings"
)

// Locate returns the non-overlapping occurrences of every Pending suggestion
// in text, sorted by ascending start.
//
// Each suggestion's original is matched literally, left to right. When two
// candidates overlap, the one with the lower start wins, then the shorter
// one. Candidates that tie on both keep the order of suggestions.
func Locate(text string, suggestions []*Suggestion) []Occurrence {
	type key struct {
		start, length int
		s             *Suggestion
	}
	seen := make(map[key]struct{})
	var candidates []Occurrence

	for _, s := range suggestions {
		if s == nil || s.Status != Pending || s.Original == "" {
			continue
		}
		n := len(s.Original)
		for from := 0; from <= len(text)-n; {
			i := strings.Index(text[from:], s.Original)
			if i < 0 {
				break
			}
			start := from + i
			k := key{start, n, s}
			if _, dup := seen[k]; !dup {
				seen[k] = struct{}{}
				candidates = append(candidates, Occurrence{Start: start, Length: n, Suggestion: s})
			}
			from = start + max(1, n)
		}
	}

	slices.SortStableFunc(candidates, func(a, b Occurrence) int {
		if a.Start != b.Start {
			return a.Start - b.Start
		}
		return a.Length - b.Length
	})

	out := candidates[:0]
	lastEnd := 0
	for _, c := range candidates {
		if c.Start < lastEnd {
			continue
		}
		out = append(out, c)
		lastEnd = c.End()
	}
	return out
}

// OccurrenceAt returns the first occurrence whose range contains pos.
func OccurrenceAt(occs []Occurrence, pos int) (Occurrence, bool) {
	for _, o := range occs {
		if o.Contains(pos) {
			return o, true
		}
	}
	return Occurrence{}, false
}

// OccurrenceSpanning returns the occurrence whose range is exactly
// [start, end).
func OccurrenceSpanning(occs []Occurrence, start, end int) (Occurrence, bool) {
	for _, o := range occs {
		if o.Start == start && o.End() == end {
			return o, true
		}
	}
	return Occurrence{}, false
}

// ForCaret resolves the occurrence a caret or selection refers to: with an
// empty selection the occurrence containing the caret, otherwise the
// occurrence matching the selection exactly.
func ForCaret(occs []Occurrence, start, end int) (Occurrence, bool) {
	if start == end {
		return OccurrenceAt(occs, start)
	}
	return OccurrenceSpanning(occs, min(start, end), max(start, end))
}
