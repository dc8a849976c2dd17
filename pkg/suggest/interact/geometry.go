// Package interact turns pointer and keyboard signals from a host surface
// into "the user is referring to occurrence X" and drives the suggestion
// popover.
//
// The package never touches a rendering API. Hosts supply a [Measurer] that
// maps occurrences to screen rectangles and forward their events to a
// [Controller], one per host surface instance. Delayed work (hover intent,
// caret coalescing, the close grace period) runs on [Debouncer] values in
// which the newest request always cancels the previous one.
package interact

import (
	"github.com/correctnow/correctnow/pkg/suggest"
)

// Point is a screen position in CSS pixels.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned screen rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.W && p.Y >= r.Y && p.Y <= r.Y+r.H
}

// Empty reports whether r has no area.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Measurer maps an occurrence to the rectangles its decoration occupies
// after layout. A decoration wrapping across lines yields one rectangle per
// line.
type Measurer interface {
	Measure(occ suggest.Occurrence) []Rect
}

// MeasurerFunc adapts a function to [Measurer].
type MeasurerFunc func(occ suggest.Occurrence) []Rect

// Measure implements [Measurer].
func (f MeasurerFunc) Measure(occ suggest.Occurrence) []Rect { return f(occ) }

// Hitbox pairs an occurrence with one of its screen rectangles.
type Hitbox struct {
	Index      int
	Occurrence suggest.Occurrence
	Rect       Rect
}

// Hitboxes is the hit-test index of one rendered surface.
type Hitboxes []Hitbox

// BuildHitboxes measures every occurrence. Empty rectangles are dropped.
func BuildHitboxes(occs []suggest.Occurrence, m Measurer) Hitboxes {
	if m == nil {
		return nil
	}
	var hb Hitboxes
	for i, o := range occs {
		for _, r := range m.Measure(o) {
			if r.Empty() {
				continue
			}
			hb = append(hb, Hitbox{Index: i, Occurrence: o, Rect: r})
		}
	}
	return hb
}

// HitTest returns the first hitbox containing p. The point must also lie
// inside control, the real control's bounding box, so that decorations of
// an occluded or scrolled-away control never match. An empty control
// rectangle disables that check.
func (h Hitboxes) HitTest(p Point, control Rect) (Hitbox, bool) {
	if !control.Empty() && !control.Contains(p) {
		return Hitbox{}, false
	}
	for _, b := range h {
		if b.Rect.Contains(p) {
			return b, true
		}
	}
	return Hitbox{}, false
}
