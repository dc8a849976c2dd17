package render

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/correctnow/correctnow/pkg/suggest"
)

// RichOption configures a [Rich] renderer.
type RichOption func(*Rich)

// WithRichClass sets the CSS class of decoration spans. Default:
// [DefaultClass].
func WithRichClass(class string) RichOption {
	return func(r *Rich) {
		r.class = class
	}
}

// Rich renders occurrences in place inside a contentEditable node tree.
//
// Offsets are interpreted against [LogicalText] of the root. Each Render
// first unwraps the spans a previous Render inserted, then splits text nodes
// at occurrence boundaries and wraps every fragment in a decoration span. An
// occurrence crossing element boundaries is wrapped once per text node it
// touches; all fragments carry the same back-reference.
//
// Rich is safe for concurrent use, but the host must not mutate the tree
// while Render runs.
type Rich struct {
	mu          sync.Mutex
	root        *html.Node
	class       string
	decorations []Decoration
	stale       bool
}

var _ suggest.Renderer = (*Rich)(nil)
var _ suggest.Clearer = (*Rich)(nil)

// NewRich returns a renderer decorating the subtree under root.
func NewRich(root *html.Node, opts ...RichOption) *Rich {
	r := &Rich{root: root, class: DefaultClass}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Render replaces the decorations under the root with ones for occs. When
// the tree's logical text differs from text the tree is left undecorated
// and [Rich.Stale] reports true until the next successful Render.
func (r *Rich) Render(text string, occs []suggest.Occurrence) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unwrap(r.root)
	r.decorations = nil

	logical, runs := flatten(r.root)
	if logical != text {
		r.stale = true
		slog.Debug("rich renderer: logical text mismatch, skipping decorations",
			"want_len", len(text), "have_len", len(logical))
		return
	}
	r.stale = false

	ds := decorationsFor(occs)
	for i := len(occs) - 1; i >= 0; i-- {
		o := occs[i]
		if o.Suggestion == nil || o.Start < 0 || o.End() > len(logical) || o.Length == 0 {
			continue
		}
		r.wrap(runs, o.Start, o.End(), ds[i])
	}
	r.decorations = ds
}

// Clear removes every decoration span.
func (r *Rich) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	unwrap(r.root)
	r.decorations = nil
}

// Decorations returns the decorations of the last successful render.
func (r *Rich) Decorations() []Decoration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.decorations)
}

// Stale reports whether the last Render was skipped because the tree no
// longer matched the text.
func (r *Rich) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale
}

// wrap splits the text runs intersecting [start, end) and wraps each
// fragment. Runs are visited back to front so splitting a node never moves
// the part of it that earlier fragments refer to.
func (r *Rich) wrap(runs []textRun, start, end int, d Decoration) {
	for i := len(runs) - 1; i >= 0; i-- {
		run := runs[i]
		n := run.node
		runEnd := run.start + len(n.Data)
		if runEnd <= start || run.start >= end {
			continue
		}
		a := max(start, run.start) - run.start
		b := min(end, runEnd) - run.start
		prefix, mid, suffix := n.Data[:a], n.Data[a:b], n.Data[b:]

		span := newSpan(r.class, d)
		span.AppendChild(&html.Node{Type: html.TextNode, Data: mid})
		parent := n.Parent
		parent.InsertBefore(span, n.NextSibling)
		if suffix != "" {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: suffix}, span.NextSibling)
		}
		if prefix == "" {
			parent.RemoveChild(n)
		} else {
			n.Data = prefix
		}
	}
}

// ── Logical text ─────────────────────────────────────────────────────────────

// textRun locates one text node within the logical text.
type textRun struct {
	node  *html.Node
	start int
}

// LogicalText returns the plain-text model of a contentEditable subtree:
// text node contents in document order, "\n" for each <br>, and a "\n"
// separating block elements from preceding content.
func LogicalText(root *html.Node) string {
	s, _ := flatten(root)
	return s
}

func flatten(root *html.Node) (string, []textRun) {
	var b strings.Builder
	var runs []textRun
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if n.Data == "" {
				return
			}
			runs = append(runs, textRun{node: n, start: b.Len()})
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch {
			case n.DataAtom == atom.Br:
				b.WriteByte('\n')
				return
			case n.DataAtom == atom.Script || n.DataAtom == atom.Style:
				return
			case isBlock(n.DataAtom) && n != root:
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String(), runs
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Li, atom.Ul, atom.Ol, atom.Blockquote, atom.Pre,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Section, atom.Article:
		return true
	}
	return false
}

// ── Unwrapping ───────────────────────────────────────────────────────────────

// unwrap replaces every decoration span under root with its children and
// merges the adjacent text nodes that splitting left behind.
func unwrap(root *html.Node) {
	var spans []*html.Node
	var find func(n *html.Node)
	find = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isDecoration(c) {
				spans = append(spans, c)
			}
			find(c)
		}
	}
	find(root)
	if len(spans) == 0 {
		return
	}

	for _, s := range spans {
		parent := s.Parent
		for c := s.FirstChild; c != nil; {
			next := c.NextSibling
			s.RemoveChild(c)
			parent.InsertBefore(c, s)
			c = next
		}
		parent.RemoveChild(s)
	}
	normalize(root)
}

// normalize merges adjacent text nodes and removes empty ones.
func normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.TextNode && c.Data == "":
			n.RemoveChild(c)
		case c.Type == html.TextNode:
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				after := next.NextSibling
				n.RemoveChild(next)
				next = after
			}
		default:
			normalize(c)
		}
		c = next
	}
}
