package interact

import (
	"sync"
	"time"

	"github.com/correctnow/correctnow/pkg/suggest"
)

// Default delays.
const (
	DefaultHoverDelay = 300 * time.Millisecond
	DefaultCaretDelay = 50 * time.Millisecond
	DefaultCloseGrace = 150 * time.Millisecond
)

// Trigger says how a popover was opened.
type Trigger int

const (
	// TriggerHover opens after the pointer rests on a decoration.
	TriggerHover Trigger = iota
	// TriggerCaret opens when the caret or selection lands on an occurrence.
	TriggerCaret
	// TriggerClick opens immediately on a click on a decoration.
	TriggerClick
)

// String returns the lower-case name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerHover:
		return "hover"
	case TriggerCaret:
		return "caret"
	case TriggerClick:
		return "click"
	default:
		return "unknown"
	}
}

// Popover describes the suggestion popover state reported to the host.
type Popover struct {
	Open       bool
	Trigger    Trigger
	Anchor     Rect
	Index      int
	Occurrence suggest.Occurrence

	// Group lists every Pending suggestion sharing the occurrence's
	// normalized original, so ambiguous spans are reviewed together.
	Group []*suggest.Suggestion

	// Round is the session's ingest round when the popover opened.
	Round uint64
}

// NodeID identifies a host UI node for dismissal checks.
type NodeID string

// Option configures a [Controller].
type Option func(*Controller)

// WithScheduler replaces the timer source. Default: [RealScheduler].
func WithScheduler(s Scheduler) Option {
	return func(c *Controller) {
		c.sched = s
	}
}

// WithMeasurer sets the layout measurer used by [Controller.SetLayout].
func WithMeasurer(m Measurer) Option {
	return func(c *Controller) {
		c.measurer = m
	}
}

// WithDelays overrides the hover, caret and close-grace delays. Zero values
// keep the defaults.
func WithDelays(hover, caret, closeGrace time.Duration) Option {
	return func(c *Controller) {
		if hover > 0 {
			c.hoverDelay = hover
		}
		if caret > 0 {
			c.caretDelay = caret
		}
		if closeGrace > 0 {
			c.closeGrace = closeGrace
		}
	}
}

// WithOnPopover registers the callback receiving popover changes. It is
// called without the controller lock held, possibly from a timer goroutine.
func WithOnPopover(fn func(Popover)) Option {
	return func(c *Controller) {
		c.onPopover = fn
	}
}

// Controller is the interaction state of one host surface instance. Create
// it when the surface gains focus and [Controller.Close] it on blur or
// unmount. It is safe for concurrent use.
type Controller struct {
	session  *suggest.Session
	measurer Measurer
	sched    Scheduler

	hoverDelay time.Duration
	caretDelay time.Duration
	closeGrace time.Duration
	onPopover  func(Popover)

	hoverTimer *Debouncer
	caretTimer *Debouncer
	closeTimer *Debouncer

	mu        sync.Mutex
	control   Rect
	hitboxes  Hitboxes
	current   Popover
	hovered   int // hitbox index under the pointer, -1 when none
	inTooltip bool
	owned     map[NodeID]struct{}
	closed    bool
}

// NewController returns a [Controller] for the given session.
func NewController(session *suggest.Session, opts ...Option) *Controller {
	c := &Controller{
		session:    session,
		sched:      RealScheduler{},
		hoverDelay: DefaultHoverDelay,
		caretDelay: DefaultCaretDelay,
		closeGrace: DefaultCloseGrace,
		hovered:    -1,
		owned:      make(map[NodeID]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.hoverTimer = NewDebouncer(c.sched, c.hoverDelay)
	c.caretTimer = NewDebouncer(c.sched, c.caretDelay)
	c.closeTimer = NewDebouncer(c.sched, c.closeGrace)
	return c
}

// SetDelays changes the debounce delays of subsequent events.
func (c *Controller) SetDelays(hover, caret, closeGrace time.Duration) {
	if hover > 0 {
		c.hoverTimer.SetDelay(hover)
	}
	if caret > 0 {
		c.caretTimer.SetDelay(caret)
	}
	if closeGrace > 0 {
		c.closeTimer.SetDelay(closeGrace)
	}
}

// SetLayout rebuilds the hitboxes from the session's current occurrences.
// Hosts call it after every render and whenever layout may have moved,
// passing the bounding box of the real control. A popover opened before
// the session's last ingest is dismissed.
func (c *Controller) SetLayout(control Rect) {
	hb := BuildHitboxes(c.session.Occurrences(), c.measurer)
	round := c.session.Round()
	c.mu.Lock()
	c.control = control
	c.hitboxes = hb
	stale := c.current.Open && c.current.Round != round
	c.mu.Unlock()
	if stale {
		c.dismiss()
	}
}

// Current returns the popover state.
func (c *Controller) Current() Popover {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ─── Ownership ──────────────────────────────────────────────────────────────

// Own marks nodes as belonging to the engine's UI (decorations, tooltip,
// trigger buttons). Pointer-downs inside them never dismiss.
func (c *Controller) Own(ids ...NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.owned[id] = struct{}{}
	}
}

// Disown reverses [Controller.Own].
func (c *Controller) Disown(ids ...NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.owned, id)
	}
}

// ─── Events ─────────────────────────────────────────────────────────────────

// PointerMove handles pointer movement over the surface.
func (c *Controller) PointerMove(p Point) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	hb, hit := c.hitboxes.HitTest(p, c.control)
	if !hit {
		c.hovered = -1
		c.mu.Unlock()
		c.hoverTimer.Cancel()
		c.scheduleClose(TriggerHover)
		return
	}
	same := c.hovered == hb.Index
	c.hovered = hb.Index
	alreadyOpen := c.current.Open && c.current.Index == hb.Index
	c.mu.Unlock()

	if alreadyOpen {
		c.closeTimer.Cancel()
		return
	}
	if same && c.hoverTimer.Pending() {
		return
	}
	c.hoverTimer.Trigger(func() { c.openHover(hb) })
}

// PointerLeave handles the pointer leaving the surface.
func (c *Controller) PointerLeave() {
	c.mu.Lock()
	c.hovered = -1
	c.mu.Unlock()
	c.hoverTimer.Cancel()
	c.scheduleClose(TriggerHover)
}

// EnterTooltip keeps the popover open while the pointer is inside it.
func (c *Controller) EnterTooltip() {
	c.mu.Lock()
	c.inTooltip = true
	c.mu.Unlock()
	c.closeTimer.Cancel()
}

// LeaveTooltip starts the close grace period.
func (c *Controller) LeaveTooltip() {
	c.mu.Lock()
	c.inTooltip = false
	c.mu.Unlock()
	c.scheduleClose(TriggerHover)
}

// Caret handles caret and selection changes, given as byte offsets into
// the session text. Bursts of calls are coalesced.
func (c *Controller) Caret(start, end int) {
	c.caretTimer.Trigger(func() { c.resolveCaret(start, end) })
}

// Click opens the popover for the occurrence at index immediately.
func (c *Controller) Click(index int) bool {
	occs := c.session.Occurrences()
	if index < 0 || index >= len(occs) {
		return false
	}
	c.hoverTimer.Cancel()
	c.closeTimer.Cancel()

	c.mu.Lock()
	anchor := c.control
	for _, hb := range c.hitboxes {
		if hb.Index == index {
			anchor = hb.Rect
			break
		}
	}
	c.mu.Unlock()

	c.open(TriggerClick, index, occs[index], anchor)
	return true
}

// PointerDown dismisses open popovers unless the pointer-down happened
// inside the engine's own UI. target is the node reported by the event and
// path its composed path from the innermost node outwards; a target
// retargeted to an encapsulating host still matches through its path.
func (c *Controller) PointerDown(target NodeID, path []NodeID) {
	c.mu.Lock()
	if c.ownsLocked(target) {
		c.mu.Unlock()
		return
	}
	for _, id := range path {
		if c.ownsLocked(id) {
			c.mu.Unlock()
			return
		}
	}
	c.hovered = -1
	c.inTooltip = false
	c.mu.Unlock()
	c.dismiss()
}

// ─── Actions ────────────────────────────────────────────────────────────────

// Accept applies the suggestion with the given ID from the open popover and
// closes it. An empty id accepts the popover's own occurrence. Another
// member of the popover's group is applied to the popover's span. Both are
// no-ops when the text drifted or the session re-ingested since the popover
// opened.
func (c *Controller) Accept(id string) (string, bool) {
	pop := c.Current()
	if !pop.Open {
		return c.session.Text(), false
	}
	defer c.dismiss()
	if pop.Round != c.session.Round() {
		return c.session.Text(), false
	}

	occ := pop.Occurrence
	if id == "" || (occ.Suggestion != nil && id == occ.Suggestion.ID) {
		return c.session.AcceptOccurrence(occ)
	}
	sg, found := c.session.Store().Get(id)
	if !found || occ.Suggestion == nil || suggest.GroupKey(sg.Original) != suggest.GroupKey(occ.Suggestion.Original) {
		return c.session.Accept(id)
	}
	// A group member spelled differently from the span, such as "Its" for
	// "its", cannot take the span and is located by ID instead.
	member := suggest.Occurrence{Start: occ.Start, Length: len(sg.Original), Suggestion: sg}
	if text, ok := c.session.AcceptOccurrence(member); ok {
		return text, true
	}
	return c.session.Accept(id)
}

// Ignore dismisses one suggestion of the open popover. The popover stays
// open while other members of its group remain.
func (c *Controller) Ignore(id string) bool {
	if !c.session.Ignore(id) {
		return false
	}
	c.refreshGroup()
	return true
}

// IgnoreGroup dismisses every suggestion of the open popover's group.
func (c *Controller) IgnoreGroup() int {
	pop := c.Current()
	if !pop.Open || pop.Occurrence.Suggestion == nil {
		return 0
	}
	n := c.session.IgnoreGroup(pop.Occurrence.Suggestion.ID)
	c.dismiss()
	return n
}

// Close cancels all timers and closes the popover. Events after Close are
// ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.dismiss()
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (c *Controller) ownsLocked(id NodeID) bool {
	if id == "" {
		return false
	}
	_, ok := c.owned[id]
	return ok
}

func (c *Controller) openHover(hb Hitbox) {
	occs := c.session.Occurrences()
	if hb.Index >= len(occs) || !sameOccurrence(occs[hb.Index], hb.Occurrence) {
		return
	}
	c.mu.Lock()
	stillHovered := c.hovered == hb.Index
	c.mu.Unlock()
	if !stillHovered {
		return
	}
	c.open(TriggerHover, hb.Index, hb.Occurrence, hb.Rect)
}

func (c *Controller) resolveCaret(start, end int) {
	occs := c.session.Occurrences()
	occ, ok := suggest.ForCaret(occs, start, end)
	if !ok {
		c.mu.Lock()
		caretOpen := c.current.Open && c.current.Trigger == TriggerCaret
		c.mu.Unlock()
		if caretOpen {
			c.dismiss()
		}
		return
	}
	index := 0
	for i, o := range occs {
		if sameOccurrence(o, occ) {
			index = i
			break
		}
	}
	c.mu.Lock()
	anchor := c.control
	c.mu.Unlock()
	c.open(TriggerCaret, index, occ, anchor)
}

func (c *Controller) open(t Trigger, index int, occ suggest.Occurrence, anchor Rect) {
	pop := Popover{
		Open:       true,
		Trigger:    t,
		Anchor:     anchor,
		Index:      index,
		Occurrence: occ,
		Group:      c.session.Group(occ.Suggestion.ID),
		Round:      c.session.Round(),
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.current = pop
	fn := c.onPopover
	c.mu.Unlock()
	if fn != nil {
		fn(pop)
	}
}

// scheduleClose closes a popover opened by t after the grace period unless
// the pointer reaches the tooltip or a decoration first.
func (c *Controller) scheduleClose(t Trigger) {
	c.mu.Lock()
	open := c.current.Open && c.current.Trigger == t
	c.mu.Unlock()
	if !open {
		return
	}
	c.closeTimer.Trigger(func() {
		c.mu.Lock()
		keep := c.inTooltip || (c.hovered >= 0 && c.hovered == c.current.Index)
		c.mu.Unlock()
		if !keep {
			c.dismiss()
		}
	})
}

func (c *Controller) refreshGroup() {
	c.mu.Lock()
	pop := c.current
	c.mu.Unlock()
	if !pop.Open || pop.Occurrence.Suggestion == nil {
		return
	}
	group := c.session.Group(pop.Occurrence.Suggestion.ID)
	if len(group) == 0 {
		c.dismiss()
		return
	}
	pop.Group = group
	c.mu.Lock()
	c.current = pop
	fn := c.onPopover
	c.mu.Unlock()
	if fn != nil {
		fn(pop)
	}
}

// dismiss cancels pending timers and closes the popover.
func (c *Controller) dismiss() {
	c.hoverTimer.Cancel()
	c.caretTimer.Cancel()
	c.closeTimer.Cancel()

	c.mu.Lock()
	wasOpen := c.current.Open
	c.current = Popover{}
	fn := c.onPopover
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn(Popover{})
	}
}

func sameOccurrence(a, b suggest.Occurrence) bool {
	return a.Start == b.Start && a.Length == b.Length && a.Suggestion == b.Suggestion
}
