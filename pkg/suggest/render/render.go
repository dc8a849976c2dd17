// Package render projects located suggestion occurrences onto a visual
// surface.
//
// Two strategies are provided. [Mirror] serves plain text controls that
// cannot hold markup: it produces a character-for-character duplicate of the
// control's text in which only the occurrence ranges are wrapped in
// underline spans, to be laid transparently over the real control. [Rich]
// serves contentEditable surfaces: it wraps occurrences in place inside the
// host's own node tree.
//
// Both are idempotent. Every Render replaces the decorations of the previous
// call, so repeated calls with the same arguments never accumulate markup.
package render

import (
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/correctnow/correctnow/pkg/suggest"
)

// Attribute names carried by decoration spans.
const (
	AttrDecoration   = "data-cn-decoration"
	AttrSuggestionID = "data-suggestion-id"
	AttrIndex        = "data-index"
)

// DefaultClass is the CSS class set on decoration spans.
const DefaultClass = "cn-underline"

// Decoration is the rendered form of one occurrence.
type Decoration struct {
	Start        int    `json:"start"`
	Length       int    `json:"length"`
	SuggestionID string `json:"suggestion_id"`
	Index        int    `json:"index"`
}

func decorationsFor(occs []suggest.Occurrence) []Decoration {
	out := make([]Decoration, 0, len(occs))
	for i, o := range occs {
		out = append(out, Decoration{
			Start:        o.Start,
			Length:       o.Length,
			SuggestionID: o.Suggestion.ID,
			Index:        i,
		})
	}
	return out
}

// newSpan builds an empty decoration span for d.
func newSpan(class string, d Decoration) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: class},
			{Key: AttrDecoration, Val: "1"},
			{Key: AttrSuggestionID, Val: d.SuggestionID},
			{Key: AttrIndex, Val: strconv.Itoa(d.Index)},
		},
	}
}

// DecorationIndex resolves a node inside a rendered surface, typically the
// target of a click, to the index of the decoration enclosing it.
func DecorationIndex(n *html.Node) (int, bool) {
	for ; n != nil; n = n.Parent {
		if !isDecoration(n) {
			continue
		}
		i, err := strconv.Atoi(attr(n, AttrIndex))
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func isDecoration(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Span && attr(n, AttrDecoration) != ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
