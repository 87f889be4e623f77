// Package interaction routes raw pointer and wheel input to gestures: resize,
// rubber-band selection, entry drag, canvas pan, click and double click.
package interaction

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pbaille/canvas/internal/camera"
	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/selection"
	"github.com/pbaille/canvas/internal/undo"
	"github.com/pbaille/canvas/internal/view"
)

// Button identifies the pointer button
type Button int

const (
	Primary Button = iota
	Secondary
)

// Modifiers are the keys held during a pointer event
type Modifiers struct {
	Shift bool
	Ctrl  bool
	Meta  bool
	Alt   bool
}

// Command reports whether the platform command key (Ctrl or Meta) is held
func (m Modifiers) Command() bool { return m.Ctrl || m.Meta }

// Pointer is a pointer event in screen coordinates
type Pointer struct {
	Point  geom.Point
	Button Button
	Mods   Modifiers
}

// Wheel is a wheel or trackpad scroll event
type Wheel struct {
	Point  geom.Point
	DX, DY float64
	Mods   Modifiers
}

// Mode is the gesture in progress
type Mode int

const (
	None Mode = iota
	Pending
	Dragging
	Panning
	Banding
	Resizing
)

func (m Mode) String() string {
	switch m {
	case None:
		return "none"
	case Pending:
		return "pending"
	case Dragging:
		return "dragging"
	case Panning:
		return "panning"
	case Banding:
		return "banding"
	case Resizing:
		return "resizing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Corner of an entry box
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

// Host receives the decisions the router makes
type Host interface {
	ReadOnly() bool
	// ClickCanvas handles a click on empty canvas at a world point.
	ClickCanvas(world geom.Point)
	// Open opens the entry for editing.
	Open(id string)
	// NavigateInto drills into the entry.
	NavigateInto(id string)
	// SelectionChanged is called after the selection set changes.
	SelectionChanged()
}

// Options configures a Router
type Options struct {
	Store      *entrystore.Store
	Projection *view.Projection
	Camera     *camera.Camera
	Selection  *selection.Set
	Undo       *undo.Stack
	Persist    undo.Persister
	Host       Host
	Clock      clock.Clock
	// Exec serializes timer callbacks onto the owner's event loop.
	Exec func(func())

	ClickDistance     float64
	ClickTime         time.Duration
	DoubleClickWindow time.Duration
	SaveDebounce      time.Duration
	// HandleSize is the screen-space reach of a resize handle.
	HandleSize float64
	MinSize    float64
	ZoomSpeed  float64
	Logger     *slog.Logger
}

// Router owns the single pointer pipeline. Not safe for concurrent use.
type Router struct {
	opts Options

	mode    Mode
	down    Pointer
	downAt  time.Time
	last    geom.Point
	target  string
	banding bool

	moving []undo.Placement
	save   clock.Timer

	corner  Corner
	anchor  geom.Point
	aspect  float64
	resized *geom.Rect

	clickTimer clock.Timer
	clickID    string
}

// New creates a router
func New(opts Options) *Router {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.ClickDistance <= 0 {
		opts.ClickDistance = 5
	}
	if opts.ClickTime <= 0 {
		opts.ClickTime = 300 * time.Millisecond
	}
	if opts.DoubleClickWindow <= 0 {
		opts.DoubleClickWindow = 250 * time.Millisecond
	}
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = 500 * time.Millisecond
	}
	if opts.HandleSize <= 0 {
		opts.HandleSize = 10
	}
	if opts.MinSize <= 0 {
		opts.MinSize = 40
	}
	if opts.ZoomSpeed <= 0 {
		opts.ZoomSpeed = 0.002
	}
	return &Router{opts: opts}
}

// Mode returns the gesture in progress
func (r *Router) Mode() Mode { return r.mode }

// Target returns the entry under the active gesture, if any
func (r *Router) Target() string { return r.target }

// PointerDown starts a gesture. In priority order: resize handle, modifier
// band, entry drag, canvas pan. The secondary button never drags.
func (r *Router) PointerDown(ev Pointer) {
	if r.mode != None {
		r.Cancel()
	}
	world := r.opts.Camera.ScreenToWorld(ev.Point)
	r.down = ev
	r.downAt = r.opts.Clock.Now()
	r.last = ev.Point
	r.target = ""
	r.banding = false

	hit, onEntry := r.opts.Projection.HitTest(world)

	if ev.Button == Secondary {
		if onEntry {
			r.secondary(hit)
		}
		return
	}

	if !r.readOnly() {
		if id, corner, ok := r.handleAt(ev.Point); ok {
			r.beginResize(id, corner)
			return
		}
	}

	if ev.Mods.Shift || ev.Mods.Command() {
		r.banding = true
		r.target = hit
		r.mode = Pending
		return
	}

	if onEntry {
		r.target = hit
	}
	r.mode = Pending
}

// PointerMove advances the gesture
func (r *Router) PointerMove(ev Pointer) {
	switch r.mode {
	case None:
		return
	case Pending:
		if !r.exceeded(ev.Point) {
			return
		}
		r.promote()
		r.PointerMove(ev)
		return
	case Dragging:
		r.drag(ev.Point)
	case Panning:
		d := ev.Point.Sub(r.last)
		r.opts.Camera.Pan(d.X, d.Y)
	case Banding:
		r.opts.Selection.UpdateBand(r.opts.Camera.ScreenToWorld(ev.Point), r.opts.Projection.VisibleBoxes())
		r.opts.Projection.SetSelected(r.opts.Selection.Map())
		r.selectionChanged()
	case Resizing:
		r.resize(ev.Point)
	}
	r.last = ev.Point
}

// PointerUp ends the gesture. A pending gesture that stayed under both
// click thresholds becomes a click.
func (r *Router) PointerUp(ev Pointer) {
	if r.mode == Pending {
		if !r.exceeded(ev.Point) {
			r.click(ev)
			r.reset()
			return
		}
		r.promote()
	}
	switch r.mode {
	case Panning:
		d := ev.Point.Sub(r.last)
		r.opts.Camera.Pan(d.X, d.Y)
	case Dragging:
		r.drag(ev.Point)
		r.endDrag()
	case Banding:
		r.opts.Selection.UpdateBand(r.opts.Camera.ScreenToWorld(ev.Point), r.opts.Projection.VisibleBoxes())
		r.opts.Selection.EndBand()
		r.opts.Projection.SetSelected(r.opts.Selection.Map())
		r.selectionChanged()
	case Resizing:
		r.resize(ev.Point)
		r.endResize()
	}
	r.reset()
}

// Cancel aborts the gesture as if the pointer were released in place
func (r *Router) Cancel() {
	switch r.mode {
	case Dragging:
		r.endDrag()
	case Banding:
		r.opts.Selection.EndBand()
		r.opts.Projection.SetSelected(r.opts.Selection.Map())
		r.selectionChanged()
	case Resizing:
		r.endResize()
	}
	r.reset()
}

// Wheel zooms around the pointer with the command key held, pans otherwise
func (r *Router) Wheel(ev Wheel) {
	if ev.Mods.Command() {
		r.opts.Camera.ZoomAt(ev.Point, math.Exp(-ev.DY*r.opts.ZoomSpeed))
		return
	}
	r.opts.Camera.Pan(-ev.DX, -ev.DY)
}

// PendingClick reports whether a single click is waiting out the double-click window
func (r *Router) PendingClick() (string, bool) {
	return r.clickID, r.clickTimer != nil
}

func (r *Router) exceeded(p geom.Point) bool {
	if geom.Dist(p, r.down.Point) > r.opts.ClickDistance {
		return true
	}
	return r.opts.Clock.Now().Sub(r.downAt) > r.opts.ClickTime
}

// promote turns a pending gesture into a drag of the matching kind
func (r *Router) promote() {
	switch {
	case r.banding:
		r.opts.Selection.StartBand(r.opts.Camera.ScreenToWorld(r.down.Point))
		r.mode = Banding
		r.opts.Projection.SetSelected(r.opts.Selection.Map())
	case r.target != "" && !r.readOnly():
		r.beginDrag()
	default:
		r.target = ""
		r.mode = Panning
	}
}

func (r *Router) click(ev Pointer) {
	world := r.opts.Camera.ScreenToWorld(ev.Point)
	if r.banding {
		if r.target != "" {
			r.opts.Selection.Toggle(r.target)
			r.opts.Projection.SetSelected(r.opts.Selection.Map())
			r.selectionChanged()
		}
		return
	}
	if !r.opts.Selection.Empty() {
		r.opts.Selection.Clear()
		r.opts.Projection.SetSelected(nil)
		r.selectionChanged()
	}
	if r.target == "" {
		r.cancelClickTimer()
		if !r.readOnly() {
			r.opts.Host.ClickCanvas(world)
		}
		return
	}

	id := r.target
	if r.clickTimer != nil && r.clickID == id {
		r.cancelClickTimer()
		r.opts.Host.NavigateInto(id)
		return
	}
	r.cancelClickTimer()
	r.clickID = id
	var t clock.Timer
	t = r.opts.Clock.AfterFunc(r.opts.DoubleClickWindow, func() {
		r.exec(func() {
			if r.clickTimer != t {
				return
			}
			r.clickTimer = nil
			r.clickID = ""
			if !r.readOnly() {
				r.opts.Host.Open(id)
			}
		})
	})
	r.clickTimer = t
}

func (r *Router) cancelClickTimer() {
	if r.clickTimer != nil {
		r.clickTimer.Stop()
		r.clickTimer = nil
		r.clickID = ""
	}
}

// secondary opens text entries for editing and selects media or file entries
func (r *Router) secondary(id string) {
	e, ok := r.opts.Store.Get(id)
	if !ok {
		return
	}
	if e.Media != nil {
		r.opts.Selection.Only(id)
		r.opts.Projection.SetSelected(r.opts.Selection.Map())
		r.selectionChanged()
		return
	}
	if !r.readOnly() {
		r.opts.Host.Open(id)
	}
}

func (r *Router) beginDrag() {
	ids := []string{r.target}
	if r.opts.Selection.Has(r.target) {
		ids = nil
		for _, id := range r.opts.Selection.IDs() {
			if h, ok := r.opts.Projection.Get(id); ok && h.Visible {
				ids = append(ids, id)
			}
		}
	}
	r.moving = r.moving[:0]
	for _, id := range ids {
		if e, ok := r.opts.Store.Get(id); ok {
			r.moving = append(r.moving, undo.PlacementOf(e))
		}
	}
	r.opts.Projection.Raise(r.target)
	r.mode = Dragging
}

// drag places every moving entry at its start position plus the pointer
// delta since pointer-down. Persistence is debounced.
func (r *Router) drag(p geom.Point) {
	d := r.opts.Camera.ScreenDeltaToWorld(p.Sub(r.down.Point))
	for _, m := range r.moving {
		pos := m.Position.Add(d.X, d.Y)
		e, err := r.opts.Store.Update(m.ID, func(e *domain.Entry) { e.Position = pos })
		if err != nil {
			continue
		}
		r.opts.Projection.Sync(e)
	}
	r.debounceSave()
}

func (r *Router) debounceSave() {
	if r.save != nil {
		r.save.Stop()
	}
	ids := r.movingIDs()
	var t clock.Timer
	t = r.opts.Clock.AfterFunc(r.opts.SaveDebounce, func() {
		r.exec(func() {
			if r.save != t {
				return
			}
			r.save = nil
			r.persist(ids)
		})
	})
	r.save = t
}

func (r *Router) endDrag() {
	if r.save != nil {
		r.save.Stop()
		r.save = nil
	}
	ids := r.movingIDs()
	moved := false
	for _, m := range r.moving {
		if e, ok := r.opts.Store.Get(m.ID); ok && e.Position != m.Position {
			moved = true
		}
	}
	if moved {
		now := r.opts.Clock.Now()
		for _, id := range ids {
			_, _ = r.opts.Store.Update(id, func(e *domain.Entry) { e.UpdatedAt = now })
		}
		r.persist(ids)
		if r.opts.Undo != nil {
			r.opts.Undo.Push(undo.Record{Action: undo.Move, Timestamp: now, Moves: append([]undo.Placement(nil), r.moving...)})
		}
	}
	r.moving = nil
}

func (r *Router) movingIDs() []string {
	ids := make([]string, len(r.moving))
	for i, m := range r.moving {
		ids[i] = m.ID
	}
	return ids
}

func (r *Router) persist(ids []string) {
	if r.opts.Persist == nil {
		return
	}
	var es []*domain.Entry
	for _, id := range ids {
		if e, ok := r.opts.Store.Get(id); ok {
			es = append(es, e)
		}
	}
	switch len(es) {
	case 0:
	case 1:
		r.opts.Persist.Save(es[0])
	default:
		r.opts.Persist.SaveBatch(es)
	}
}

// handleAt finds a resize handle of a visible media entry under screen point p
func (r *Router) handleAt(p geom.Point) (string, Corner, bool) {
	vis := r.opts.Projection.Visible()
	reach := r.opts.HandleSize
	for i := len(vis) - 1; i >= 0; i-- {
		h := vis[i]
		e, ok := r.opts.Store.Get(h.ID)
		if !ok || !resizable(e) {
			continue
		}
		s := r.opts.Camera.WorldRectToScreen(h.Rect())
		corners := [...]geom.Point{
			TopLeft:     {X: s.X, Y: s.Y},
			TopRight:    {X: s.Right(), Y: s.Y},
			BottomLeft:  {X: s.X, Y: s.Bottom()},
			BottomRight: {X: s.Right(), Y: s.Bottom()},
		}
		for c, pt := range corners {
			if math.Abs(p.X-pt.X) <= reach && math.Abs(p.Y-pt.Y) <= reach {
				return h.ID, Corner(c), true
			}
		}
	}
	return "", 0, false
}

func resizable(e *domain.Entry) bool {
	if e.Media == nil {
		return false
	}
	switch e.Media.Kind {
	case domain.MediaImage, domain.MediaVideo, domain.MediaMovie:
		return true
	}
	return false
}

func (r *Router) beginResize(id string, c Corner) {
	h, ok := r.opts.Projection.Get(id)
	if !ok {
		return
	}
	e, ok := r.opts.Store.Get(id)
	if !ok {
		return
	}
	box := h.Box
	r.target = id
	r.corner = c
	r.moving = []undo.Placement{undo.PlacementOf(e)}
	switch c {
	case TopLeft:
		r.anchor = box.Max()
	case TopRight:
		r.anchor = geom.Point{X: box.X, Y: box.Bottom()}
	case BottomLeft:
		r.anchor = geom.Point{X: box.Right(), Y: box.Y}
	default:
		r.anchor = box.Min()
	}
	r.aspect = 1
	if box.H > 0 {
		r.aspect = box.W / box.H
	}
	r.resized = nil
	r.opts.Projection.Raise(id)
	r.mode = Resizing
}

// resize previews the new box: width follows the pointer, height keeps the
// aspect ratio, and the opposite corner stays put. The store is untouched.
func (r *Router) resize(p geom.Point) {
	w := r.opts.Camera.ScreenToWorld(p)
	width := math.Max(math.Abs(w.X-r.anchor.X), r.opts.MinSize)
	height := width / r.aspect
	box := geom.Rect{W: width, H: height}
	switch r.corner {
	case TopLeft:
		box.X, box.Y = r.anchor.X-width, r.anchor.Y-height
	case TopRight:
		box.X, box.Y = r.anchor.X, r.anchor.Y-height
	case BottomLeft:
		box.X, box.Y = r.anchor.X-width, r.anchor.Y
	default:
		box.X, box.Y = r.anchor.X, r.anchor.Y
	}
	r.resized = &box
	if h, ok := r.opts.Projection.Get(r.target); ok {
		b := box
		h.Preview = &b
	}
}

// endResize writes the final geometry once and persists it
func (r *Router) endResize() {
	if h, ok := r.opts.Projection.Get(r.target); ok {
		h.Preview = nil
	}
	box := r.resized
	r.resized = nil
	if box == nil {
		r.moving = nil
		return
	}
	now := r.opts.Clock.Now()
	e, err := r.opts.Store.Update(r.target, func(e *domain.Entry) {
		e.Position = domain.Position{X: box.X, Y: box.Y}
		e.Width = box.W
		e.Height = box.H
		e.UpdatedAt = now
	})
	if err != nil {
		r.moving = nil
		return
	}
	r.opts.Projection.Sync(e)
	if r.opts.Persist != nil {
		r.opts.Persist.Save(e)
	}
	if r.opts.Undo != nil {
		r.opts.Undo.Push(undo.Record{Action: undo.Move, Timestamp: now, Moves: r.moving})
	}
	r.moving = nil
}

func (r *Router) reset() {
	r.mode = None
	r.target = ""
	r.banding = false
}

func (r *Router) readOnly() bool {
	return r.opts.Host != nil && r.opts.Host.ReadOnly()
}

func (r *Router) selectionChanged() {
	if r.opts.Host != nil {
		r.opts.Host.SelectionChanged()
	}
}

func (r *Router) exec(f func()) {
	if r.opts.Exec != nil {
		r.opts.Exec(f)
		return
	}
	f()
}
