package suggest

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ApplyAt splices occ's correction into text at the recorded offsets.
//
// The slice text[occ.Start:occ.End()] must still equal the suggestion's
// original exactly. If the text has drifted since the occurrence was
// located, or the offsets fall outside text, ApplyAt returns text unchanged
// and false.
func ApplyAt(text string, occ Occurrence) (string, bool) {
	if occ.Suggestion == nil || occ.Start < 0 || occ.End() > len(text) {
		return text, false
	}
	if text[occ.Start:occ.End()] != occ.Suggestion.Original {
		return text, false
	}
	return text[:occ.Start] + occ.Suggestion.Corrected + text[occ.End():], true
}

// ApplyFirst replaces the first literal occurrence of s.Original in text.
// It returns text unchanged and false when the original does not occur.
func ApplyFirst(text string, s *Suggestion) (string, bool) {
	if s == nil || s.Original == "" {
		return text, false
	}
	i := strings.Index(text, s.Original)
	if i < 0 {
		return text, false
	}
	return text[:i] + s.Corrected + text[i+len(s.Original):], true
}

// ApplyAll folds the suggestions over text in list order, each step
// replacing the first occurrence of its original in the result of the
// previous step. Suggestions that no longer apply are skipped.
func ApplyAll(text string, suggestions []*Suggestion) string {
	for _, s := range suggestions {
		text, _ = ApplyFirst(text, s)
	}
	return text
}

// MapOffset translates a caret or selection offset in oldText to the
// corresponding offset in newText. Offsets inside a deleted region map to
// the start of the deletion.
func MapOffset(oldText, newText string, pos int) int {
	if oldText == newText {
		return clamp(pos, 0, len(newText))
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldText, newText, false)
	return clamp(mapPosition(clamp(pos, 0, len(oldText)), diffs), 0, len(newText))
}

func mapPosition(oldPos int, diffs []diffmatchpatch.Diff) int {
	oldAt, newAt := 0, 0
	for _, d := range diffs {
		n := len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			if oldPos >= oldAt && oldPos < oldAt+n {
				return newAt
			}
			oldAt += n
		case diffmatchpatch.DiffInsert:
			newAt += n
		case diffmatchpatch.DiffEqual:
			if oldPos >= oldAt && oldPos < oldAt+n {
				return newAt + oldPos - oldAt
			}
			oldAt += n
			newAt += n
		}
	}
	return newAt
}
