package suggest

import (
	"unicode/utf16"
	"unicode/utf8"
)

// UTF16Offset converts a byte offset in text to a UTF-16 code unit offset,
// the unit browser hosts use for selectionStart and DOM ranges.
// Offsets past the end are clamped.
func UTF16Offset(text string, byteOff int) int {
	byteOff = clamp(byteOff, 0, len(text))
	n := 0
	for _, r := range text[:byteOff] {
		n += utf16.RuneLen(r)
	}
	return n
}

// ByteOffsetFromUTF16 converts a UTF-16 code unit offset into a byte offset
// in text. An offset falling inside a surrogate pair rounds down to the
// start of that rune. Offsets past the end are clamped.
func ByteOffsetFromUTF16(text string, u16 int) int {
	if u16 <= 0 {
		return 0
	}
	n := 0
	for i, r := range text {
		w := utf16.RuneLen(r)
		if n+w > u16 {
			return i
		}
		n += w
	}
	return len(text)
}

// RuneOffset converts a byte offset in text to a rune offset.
func RuneOffset(text string, byteOff int) int {
	return utf8.RuneCountInString(text[:clamp(byteOff, 0, len(text))])
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Span is the wire form of an [Occurrence]: byte offsets for Go callers and
// UTF-16 offsets for browser hosts, plus the suggestion back-reference.
type Span struct {
	Index        int    `json:"index"`
	Start        int    `json:"start"`
	Length       int    `json:"length"`
	UTF16Start   int    `json:"utf16_start"`
	UTF16Length  int    `json:"utf16_length"`
	SuggestionID string `json:"suggestion_id"`
}

// Spans converts occurrences located in text to their wire form.
func Spans(text string, occs []Occurrence) []Span {
	out := make([]Span, 0, len(occs))
	for i, o := range occs {
		u16Start := UTF16Offset(text, o.Start)
		sp := Span{
			Index:       i,
			Start:       o.Start,
			Length:      o.Length,
			UTF16Start:  u16Start,
			UTF16Length: UTF16Offset(text, o.End()) - u16Start,
		}
		if o.Suggestion != nil {
			sp.SuggestionID = o.Suggestion.ID
		}
		out = append(out, sp)
	}
	return out
}
