package render

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/correctnow/correctnow/pkg/suggest"
)

// Style is the subset of a text control's computed style the mirror must
// copy to line up glyph for glyph.
type Style struct {
	Font        string  `json:"font,omitempty"`
	Padding     string  `json:"padding,omitempty"`
	Border      string  `json:"border,omitempty"`
	LineHeight  string  `json:"line_height,omitempty"`
	WhiteSpace  string  `json:"white_space,omitempty"`
	WordWrap    string  `json:"word_wrap,omitempty"`
	LetterSpace string  `json:"letter_spacing,omitempty"`
	TextAlign   string  `json:"text_align,omitempty"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
}

// css renders the style as an inline CSS declaration list. The mirror text
// itself is transparent and never intercepts pointer events.
func (s Style) css() string {
	var b strings.Builder
	b.WriteString("position:absolute;pointer-events:none;color:transparent;overflow:hidden;box-sizing:border-box;")
	write := func(prop, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%s:%s;", prop, val)
		}
	}
	write("font", s.Font)
	write("padding", s.Padding)
	write("border", s.Border)
	write("line-height", s.LineHeight)
	ws := s.WhiteSpace
	if ws == "" {
		ws = "pre-wrap"
	}
	write("white-space", ws)
	write("word-wrap", s.WordWrap)
	write("letter-spacing", s.LetterSpace)
	write("text-align", s.TextAlign)
	if s.Width > 0 {
		write("width", strconv.FormatFloat(s.Width, 'f', -1, 64)+"px")
	}
	if s.Height > 0 {
		write("height", strconv.FormatFloat(s.Height, 'f', -1, 64)+"px")
	}
	return b.String()
}

// Segment is a run of mirror text, decorated or not.
type Segment struct {
	Text       string      `json:"text"`
	Decoration *Decoration `json:"decoration,omitempty"`
}

// MirrorOption configures a [Mirror].
type MirrorOption func(*Mirror)

// WithClass sets the CSS class of decoration spans. Default: [DefaultClass].
func WithClass(class string) MirrorOption {
	return func(m *Mirror) {
		m.class = class
	}
}

// WithStyle sets the initial control style.
func WithStyle(s Style) MirrorOption {
	return func(m *Mirror) {
		m.style = s
	}
}

// Mirror renders occurrences for plain text controls as a styled duplicate
// of the control's text. It is safe for concurrent use.
type Mirror struct {
	mu          sync.Mutex
	class       string
	style       Style
	scrollLeft  float64
	scrollTop   float64
	text        string
	occs        []suggest.Occurrence
	segments    []Segment
	decorations []Decoration
	out         string
}

var _ suggest.Renderer = (*Mirror)(nil)
var _ suggest.Clearer = (*Mirror)(nil)

// NewMirror returns an empty [Mirror].
func NewMirror(opts ...MirrorOption) *Mirror {
	m := &Mirror{class: DefaultClass}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Render rebuilds the mirror from text and occs, replacing any previous
// output. Occurrences that fall outside text or overlap an earlier one are
// skipped.
func (m *Mirror) Render(text string, occs []suggest.Occurrence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = text
	m.occs = slices.Clone(occs)
	m.rebuildLocked()
}

// Clear drops all output.
func (m *Mirror) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.text = ""
	m.occs = nil
	m.segments = nil
	m.decorations = nil
	m.out = ""
}

// SyncScroll records the control's scroll offsets so the mirror moves in
// lock-step with it.
func (m *Mirror) SyncScroll(left, top float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scrollLeft == left && m.scrollTop == top {
		return
	}
	m.scrollLeft, m.scrollTop = left, top
	m.rebuildLocked()
}

// Scroll returns the recorded scroll offsets.
func (m *Mirror) Scroll() (left, top float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrollLeft, m.scrollTop
}

// SyncStyle re-copies the control's style after a font load, resize or zoom
// and rebuilds the output.
func (m *Mirror) SyncStyle(s Style) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.style == s {
		return
	}
	m.style = s
	m.rebuildLocked()
}

// HTML returns the rendered mirror element.
func (m *Mirror) HTML() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out
}

// Segments returns the text runs of the last render.
func (m *Mirror) Segments() []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.segments)
}

// Decorations returns the decorations of the last render.
func (m *Mirror) Decorations() []Decoration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.decorations)
}

func (m *Mirror) rebuildLocked() {
	m.segments = m.segments[:0]
	m.decorations = m.decorations[:0]

	pos := 0
	for i, o := range m.occs {
		if o.Suggestion == nil || o.Start < pos || o.End() > len(m.text) {
			continue
		}
		if o.Start > pos {
			m.segments = append(m.segments, Segment{Text: m.text[pos:o.Start]})
		}
		d := Decoration{Start: o.Start, Length: o.Length, SuggestionID: o.Suggestion.ID, Index: i}
		m.decorations = append(m.decorations, d)
		m.segments = append(m.segments, Segment{Text: m.text[o.Start:o.End()], Decoration: &d})
		pos = o.End()
	}
	if pos < len(m.text) {
		m.segments = append(m.segments, Segment{Text: m.text[pos:]})
	}

	root := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Div,
		Data:     "div",
		Attr: []html.Attribute{
			{Key: "class", Val: "cn-mirror"},
			{Key: "aria-hidden", Val: "true"},
			{Key: "style", Val: m.style.css()},
			{Key: "data-scroll-left", Val: strconv.FormatFloat(m.scrollLeft, 'f', -1, 64)},
			{Key: "data-scroll-top", Val: strconv.FormatFloat(m.scrollTop, 'f', -1, 64)},
		},
	}
	for _, seg := range m.segments {
		txt := &html.Node{Type: html.TextNode, Data: seg.Text}
		if seg.Decoration == nil {
			root.AppendChild(txt)
			continue
		}
		span := newSpan(m.class, *seg.Decoration)
		span.AppendChild(txt)
		root.AppendChild(span)
	}
	// A trailing newline collapses in layout unless something follows it.
	if strings.HasSuffix(m.text, "\n") {
		root.AppendChild(&html.Node{Type: html.TextNode, Data: "\u200b"})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		slog.Warn("mirror renderer: render html", "err", err)
		m.out = ""
		return
	}
	m.out = buf.String()
}
