package interaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/canvas/internal/camera"
	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/selection"
	"github.com/pbaille/canvas/internal/undo"
	"github.com/pbaille/canvas/internal/view"
)

type fakeHost struct {
	readOnly  bool
	clicks    []geom.Point
	opened    []string
	navigated []string
	selChange int
}

func (h *fakeHost) ReadOnly() bool               { return h.readOnly }
func (h *fakeHost) ClickCanvas(world geom.Point) { h.clicks = append(h.clicks, world) }
func (h *fakeHost) Open(id string)               { h.opened = append(h.opened, id) }
func (h *fakeHost) NavigateInto(id string)       { h.navigated = append(h.navigated, id) }
func (h *fakeHost) SelectionChanged()            { h.selChange++ }

type recorder struct {
	saves   int
	batches int
	saved   []string
}

func (r *recorder) Save(e *domain.Entry) {
	r.saves++
	r.saved = append(r.saved, e.ID)
}

func (r *recorder) SaveBatch(es []*domain.Entry) {
	r.batches++
	for _, e := range es {
		r.saved = append(r.saved, e.ID)
	}
}

func (r *recorder) Delete(string) {}

type fixture struct {
	store *entrystore.Store
	proj  *view.Projection
	cam   *camera.Camera
	sel   *selection.Set
	stack *undo.Stack
	rec   *recorder
	host  *fakeHost
	clk   *clock.Fake
	r     *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: entrystore.New(),
		proj:  view.NewProjection(view.DefaultMeasurer()),
		cam:   camera.New(camera.DefaultConfig(), nil),
		sel:   selection.New(),
		stack: undo.NewStack(10),
		rec:   &recorder{},
		host:  &fakeHost{},
		clk:   clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.r = New(Options{
		Store:      f.store,
		Projection: f.proj,
		Camera:     f.cam,
		Selection:  f.sel,
		Undo:       f.stack,
		Persist:    f.rec,
		Host:       f.host,
		Clock:      f.clk,
	})
	return f
}

func (f *fixture) add(id string, box geom.Rect, media *domain.MediaCard) {
	f.store.Set(&domain.Entry{
		ID:       id,
		Text:     id,
		Position: domain.Position{X: box.X, Y: box.Y},
		Width:    box.W,
		Height:   box.H,
		Media:    media,
	})
	f.proj.ApplyVisibility(f.store.All(), "")
}

func (f *fixture) pos(id string) domain.Position {
	e, _ := f.store.Get(id)
	return e.Position
}

func at(x, y float64) Pointer { return Pointer{Point: geom.Point{X: x, Y: y}} }

func TestDragThenUndoRestoresPosition(t *testing.T) {
	f := newFixture(t)
	f.add("hello", geom.Rect{X: 100, Y: 100, W: 80, H: 30}, nil)

	f.r.PointerDown(at(110, 110))
	f.r.PointerMove(at(140, 125))
	assert.Equal(t, Dragging, f.r.Mode())
	f.r.PointerMove(at(160, 140))
	f.r.PointerUp(at(160, 140))

	assert.Equal(t, domain.Position{X: 150, Y: 130}, f.pos("hello"))
	assert.Equal(t, []string{"hello"}, f.rec.saved)
	require.Equal(t, 1, f.stack.Len())

	// The superseded debounce must not fire after release.
	f.clk.Advance(time.Second)
	assert.Len(t, f.rec.saved, 1)

	rp := &undo.Replayer{Store: f.store}
	res, err := rp.Undo(f.stack)
	require.NoError(t, err)
	assert.Equal(t, undo.Move, res.Action)
	assert.Equal(t, domain.Position{X: 100, Y: 100}, f.pos("hello"))
}

func TestDragSaveIsDebounced(t *testing.T) {
	f := newFixture(t)
	f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)

	f.r.PointerDown(at(10, 10))
	f.r.PointerMove(at(30, 10))
	f.clk.Advance(300 * time.Millisecond)
	f.r.PointerMove(at(40, 10))
	f.clk.Advance(300 * time.Millisecond)
	assert.Empty(t, f.rec.saved, "first timer was replaced")

	f.clk.Advance(300 * time.Millisecond)
	assert.Len(t, f.rec.saved, 1)

	f.r.PointerUp(at(40, 10))
	assert.Len(t, f.rec.saved, 2)
	assert.Equal(t, domain.Position{X: 30, Y: 0}, f.pos("a"))
}

func TestDragMovesWholeSelection(t *testing.T) {
	f := newFixture(t)
	f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
	f.add("b", geom.Rect{X: 200, Y: 0, W: 50, H: 50}, nil)
	f.add("c", geom.Rect{X: 400, Y: 0, W: 50, H: 50}, nil)
	f.sel.Add("a")
	f.sel.Add("b")

	f.r.PointerDown(at(10, 10))
	f.r.PointerMove(at(20, 30))
	f.r.PointerUp(at(20, 30))

	assert.Equal(t, domain.Position{X: 10, Y: 20}, f.pos("a"))
	assert.Equal(t, domain.Position{X: 210, Y: 20}, f.pos("b"))
	assert.Equal(t, domain.Position{X: 400, Y: 0}, f.pos("c"))
	assert.Equal(t, 1, f.rec.batches)

	rec, ok := f.stack.Pop()
	require.True(t, ok)
	assert.Len(t, rec.Moves, 2)
}

func TestDragHonoursZoom(t *testing.T) {
	f := newFixture(t)
	f.cam.Set(camera.State{X: 0, Y: 0, Z: 2})
	f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)

	f.r.PointerDown(at(20, 20))
	f.r.PointerMove(at(120, 60))
	f.r.PointerUp(at(120, 60))
	assert.Equal(t, domain.Position{X: 50, Y: 20}, f.pos("a"))
}

func TestClickAndDoubleClick(t *testing.T) {
	t.Run("single click opens after the window", func(t *testing.T) {
		f := newFixture(t)
		f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
		f.r.PointerDown(at(10, 10))
		f.r.PointerUp(at(11, 10))
		id, waiting := f.r.PendingClick()
		assert.True(t, waiting)
		assert.Equal(t, "a", id)
		assert.Empty(t, f.host.opened)

		f.clk.Advance(250 * time.Millisecond)
		assert.Equal(t, []string{"a"}, f.host.opened)
		assert.Empty(t, f.host.navigated)
	})

	t.Run("double click navigates", func(t *testing.T) {
		f := newFixture(t)
		f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
		f.r.PointerDown(at(10, 10))
		f.r.PointerUp(at(10, 10))
		f.clk.Advance(100 * time.Millisecond)
		f.r.PointerDown(at(10, 10))
		f.r.PointerUp(at(10, 10))
		f.clk.Advance(time.Second)

		assert.Equal(t, []string{"a"}, f.host.navigated)
		assert.Empty(t, f.host.opened)
	})

	t.Run("long press is not a click", func(t *testing.T) {
		f := newFixture(t)
		f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
		f.r.PointerDown(at(10, 10))
		f.clk.Advance(400 * time.Millisecond)
		f.r.PointerUp(at(10, 10))
		f.clk.Advance(time.Second)

		assert.Empty(t, f.host.opened)
		assert.Zero(t, f.stack.Len())
	})

	t.Run("canvas click reports world point", func(t *testing.T) {
		f := newFixture(t)
		f.cam.Set(camera.State{X: 100, Y: 50, Z: 1})
		f.r.PointerDown(at(300, 300))
		f.r.PointerUp(at(300, 300))
		assert.Equal(t, []geom.Point{{X: 200, Y: 250}}, f.host.clicks)
	})
}

func TestPanOnEmptyCanvas(t *testing.T) {
	f := newFixture(t)
	f.r.PointerDown(at(0, 0))
	f.r.PointerMove(at(30, 40))
	assert.Equal(t, Panning, f.r.Mode())
	f.r.PointerUp(at(35, 40))
	assert.Equal(t, camera.State{X: 35, Y: 40, Z: 1}, f.cam.State())
	assert.Empty(t, f.host.clicks)
}

func TestBandSelectsCornerTouchingEntries(t *testing.T) {
	f := newFixture(t)
	// Three overlapping entries whose bottom-right corners meet at (100,100).
	f.add("a", geom.Rect{X: 0, Y: 0, W: 100, H: 100}, nil)
	f.add("b", geom.Rect{X: 50, Y: 50, W: 50, H: 50}, nil)
	f.add("c", geom.Rect{X: 20, Y: 60, W: 80, H: 40}, nil)
	f.add("far", geom.Rect{X: 500, Y: 500, W: 10, H: 10}, nil)

	shift := Modifiers{Shift: true}
	f.r.PointerDown(Pointer{Point: geom.Point{X: 200, Y: 200}, Mods: shift})
	f.r.PointerMove(Pointer{Point: geom.Point{X: 150, Y: 150}, Mods: shift})
	assert.Equal(t, Banding, f.r.Mode())
	f.r.PointerUp(Pointer{Point: geom.Point{X: 100, Y: 100}, Mods: shift})

	assert.Equal(t, []string{"a", "b", "c"}, f.sel.IDs())
	for _, id := range []string{"a", "b", "c"} {
		h, _ := f.proj.Get(id)
		assert.True(t, h.Selected, id)
	}
	assert.Positive(t, f.host.selChange)
	assert.False(t, f.sel.Banding())
}

func TestModifierClickTogglesSelection(t *testing.T) {
	f := newFixture(t)
	f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
	cmd := Pointer{Point: geom.Point{X: 10, Y: 10}, Mods: Modifiers{Meta: true}}

	f.r.PointerDown(cmd)
	f.r.PointerUp(cmd)
	assert.True(t, f.sel.Has("a"))

	f.r.PointerDown(cmd)
	f.r.PointerUp(cmd)
	assert.False(t, f.sel.Has("a"))
	f.clk.Advance(time.Second)
	assert.Empty(t, f.host.opened)
}

func TestSecondaryButton(t *testing.T) {
	f := newFixture(t)
	f.add("text", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)
	f.add("pic", geom.Rect{X: 100, Y: 0, W: 50, H: 50}, &domain.MediaCard{Kind: domain.MediaFile})

	right := func(x, y float64) Pointer {
		return Pointer{Point: geom.Point{X: x, Y: y}, Button: Secondary}
	}
	f.r.PointerDown(right(10, 10))
	assert.Equal(t, []string{"text"}, f.host.opened)
	f.r.PointerMove(right(80, 80))
	f.r.PointerUp(right(80, 80))
	assert.Equal(t, camera.State{Z: 1}, f.cam.State())
	assert.Equal(t, domain.Position{}, f.pos("text"))

	f.r.PointerDown(right(110, 10))
	f.r.PointerUp(right(110, 10))
	assert.Equal(t, []string{"pic"}, f.sel.IDs())
	assert.Len(t, f.host.opened, 1)
}

func TestResizeKeepsAspectAndPersistsOnce(t *testing.T) {
	img := &domain.MediaCard{Kind: domain.MediaImage, URL: "https://x/y.png"}

	t.Run("bottom right handle", func(t *testing.T) {
		f := newFixture(t)
		f.add("img", geom.Rect{X: 0, Y: 0, W: 200, H: 100}, img)

		f.r.PointerDown(at(199, 99))
		assert.Equal(t, Resizing, f.r.Mode())
		f.r.PointerMove(at(300, 120))

		h, _ := f.proj.Get("img")
		require.NotNil(t, h.Preview)
		assert.Equal(t, geom.Rect{X: 0, Y: 0, W: 300, H: 150}, *h.Preview)
		e, _ := f.store.Get("img")
		assert.Equal(t, 200.0, e.Width, "store untouched mid-gesture")
		assert.Empty(t, f.rec.saved)

		f.r.PointerUp(at(300, 120))
		e, _ = f.store.Get("img")
		assert.Equal(t, 300.0, e.Width)
		assert.Equal(t, 150.0, e.Height)
		assert.Equal(t, domain.Position{}, e.Position)
		assert.Nil(t, h.Preview)
		assert.Equal(t, 1, f.rec.saves)

		rp := &undo.Replayer{Store: f.store}
		_, err := rp.Undo(f.stack)
		require.NoError(t, err)
		e, _ = f.store.Get("img")
		assert.Equal(t, 200.0, e.Width)
		assert.Equal(t, 100.0, e.Height)
	})

	t.Run("top left handle anchors bottom right", func(t *testing.T) {
		f := newFixture(t)
		f.add("img", geom.Rect{X: 0, Y: 0, W: 200, H: 100}, img)

		f.r.PointerDown(at(2, 2))
		require.Equal(t, Resizing, f.r.Mode())
		f.r.PointerUp(at(-100, 0))

		e, _ := f.store.Get("img")
		assert.Equal(t, domain.Position{X: -100, Y: -50}, e.Position)
		assert.Equal(t, 300.0, e.Width)
		assert.Equal(t, 150.0, e.Height)
	})

	t.Run("text entries have no handles", func(t *testing.T) {
		f := newFixture(t)
		f.add("txt", geom.Rect{X: 0, Y: 0, W: 200, H: 100}, nil)
		f.r.PointerDown(at(199, 99))
		assert.Equal(t, Pending, f.r.Mode())
	})
}

func TestWheel(t *testing.T) {
	f := newFixture(t)
	p := geom.Point{X: 320, Y: 240}
	before := f.cam.ScreenToWorld(p)

	f.r.Wheel(Wheel{Point: p, DY: -200, Mods: Modifiers{Ctrl: true}})
	assert.Greater(t, f.cam.Zoom(), 1.0)
	after := f.cam.ScreenToWorld(p)
	assert.InDelta(t, before.X, after.X, 1e-9)
	assert.InDelta(t, before.Y, after.Y, 1e-9)

	s := f.cam.State()
	f.r.Wheel(Wheel{Point: p, DX: 10, DY: 20})
	assert.Equal(t, s.X-10, f.cam.State().X)
	assert.Equal(t, s.Y-20, f.cam.State().Y)
}

func TestReadOnly(t *testing.T) {
	f := newFixture(t)
	f.host.readOnly = true
	f.add("a", geom.Rect{X: 0, Y: 0, W: 50, H: 50}, nil)

	f.r.PointerDown(at(10, 10))
	f.r.PointerMove(at(40, 10))
	assert.Equal(t, Panning, f.r.Mode())
	f.r.PointerUp(at(40, 10))
	assert.Equal(t, domain.Position{}, f.pos("a"))

	f.r.PointerDown(at(500, 500))
	f.r.PointerUp(at(500, 500))
	assert.Empty(t, f.host.clicks)

	f.r.PointerDown(at(40, 10))
	f.r.PointerUp(at(40, 10))
	f.clk.Advance(time.Second)
	assert.Empty(t, f.host.opened)
}
