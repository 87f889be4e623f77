package camera

import (
	"math"
	"testing"
	"time"

	"github.com/pbaille/canvas/internal/anim"
	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestCoordinateRoundTrip(t *testing.T) {
	states := []State{
		{X: 0, Y: 0, Z: 1},
		{X: 120.5, Y: -33, Z: 0.25},
		{X: -4000, Y: 900, Z: 3.7},
	}
	points := []geom.Point{{X: 0, Y: 0}, {X: 640, Y: 480}, {X: -12.3, Y: 99999}}

	for _, s := range states {
		c := New(DefaultConfig(), nil)
		c.Set(s)
		for _, p := range points {
			back := c.WorldToScreen(c.ScreenToWorld(p))
			assert.InDelta(t, p.X, back.X, 1e-6)
			assert.InDelta(t, p.Y, back.Y, 1e-6)
		}
	}
}

func TestZoomAtKeepsCursorPoint(t *testing.T) {
	tests := []struct {
		name   string
		p      geom.Point
		factor float64
	}{
		{"zoom in", geom.Point{X: 300, Y: 200}, 1.5},
		{"zoom out", geom.Point{X: 10, Y: 700}, 0.5},
		{"clamped high", geom.Point{X: 50, Y: 50}, 1000},
		{"clamped low", geom.Point{X: 800, Y: 5}, 0.00001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(DefaultConfig(), nil)
			c.Set(State{X: 40, Y: -20, Z: 1.2})
			before := c.ScreenToWorld(tt.p)
			c.ZoomAt(tt.p, tt.factor)
			after := c.ScreenToWorld(tt.p)
			assert.InDelta(t, before.X, after.X, 1e-6)
			assert.InDelta(t, before.Y, after.Y, 1e-6)
			assert.GreaterOrEqual(t, c.Zoom(), 0.1)
			assert.LessOrEqual(t, c.Zoom(), 4.0)
		})
	}
}

func TestZoomAtIgnoresInvalidFactor(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.ZoomAt(geom.Point{}, 0)
	c.ZoomAt(geom.Point{}, math.NaN())
	assert.Equal(t, 1.0, c.Zoom())
}

func TestPanIsUnclamped(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.Pan(1e9, -1e9)
	assert.Equal(t, State{X: 1e9, Y: -1e9, Z: 1}, c.State())
}

func TestFitTargetNeverZoomsIn(t *testing.T) {
	c := New(DefaultConfig(), nil)
	c.Set(State{Z: 0.5})
	target := c.FitTarget([]geom.Rect{{X: 0, Y: 0, W: 10, H: 10}, {X: 20, Y: 0, W: 10, H: 10}}, geom.Point{X: 1000, Y: 800})
	assert.Equal(t, 0.5, target.Z)
}

func TestFitTargetZoomsOutForLargeContent(t *testing.T) {
	c := New(DefaultConfig(), nil)
	rects := []geom.Rect{{X: 0, Y: 0, W: 100, H: 100}, {X: 3000, Y: 0, W: 100, H: 100}}
	viewport := geom.Point{X: 1000, Y: 800}
	target := c.FitTarget(rects, viewport)
	require.Less(t, target.Z, 1.0)

	c.Set(target)
	box, _ := geom.Bounds(rects)
	screen := c.WorldRectToScreen(box)
	assert.GreaterOrEqual(t, screen.X, -eps)
	assert.LessOrEqual(t, screen.Right(), viewport.X+eps)
}

func TestFitTargetDegenerateBox(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FitPadding = 0
	c := New(cfg, nil)
	target := c.FitTarget([]geom.Rect{{X: 5, Y: 5, W: 0, H: 0}, {X: 5, Y: 5, W: 0, H: 0}}, geom.Point{X: 800, Y: 600})
	assert.False(t, math.IsNaN(target.Z))
	assert.False(t, math.IsInf(target.Z, 0))
	assert.Equal(t, 1.0, target.Z)
}

func TestFitTargetEmptyFramesAnchor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Anchor = geom.Point{X: 100, Y: 50}
	c := New(cfg, nil)
	c.Set(State{X: 999, Y: 999, Z: 2})
	c.Set(c.FitTarget(nil, geom.Point{X: 800, Y: 600}))
	p := c.WorldToScreen(cfg.Anchor)
	assert.InDelta(t, 400, p.X, eps)
	assert.InDelta(t, 300, p.Y, eps)
	assert.Equal(t, 2.0, c.Zoom())
}

func TestFitTargetSingleEntryIsOffCenter(t *testing.T) {
	c := New(DefaultConfig(), nil)
	r := geom.Rect{X: 0, Y: 0, W: 100, H: 40}
	c.Set(c.FitTarget([]geom.Rect{r}, geom.Point{X: 1000, Y: 800}))
	center := c.WorldToScreen(r.Center())
	assert.NotEqual(t, 500.0, center.X)
	assert.NotEqual(t, 400.0, center.Y)
}

func TestFitToContentAnimatesAndSignals(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(DefaultConfig(), &anim.Animator{Clock: clk})
	rects := []geom.Rect{{X: 0, Y: 0, W: 5000, H: 100}}
	target := c.FitTarget(rects, geom.Point{X: 1000, Y: 800})

	var done []bool
	c.FitToContent(rects, geom.Point{X: 1000, Y: 800}, func(ok bool) { done = append(done, ok) })
	assert.True(t, c.Animating())

	clk.Advance(time.Second)
	assert.Equal(t, []bool{true}, done)
	assert.False(t, c.Animating())
	assert.InDelta(t, target.Z, c.Zoom(), eps)
	assert.InDelta(t, target.X, c.State().X, eps)
}

func TestFitToContentInterruptedStillSignals(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	c := New(DefaultConfig(), &anim.Animator{Clock: clk})
	vp := geom.Point{X: 1000, Y: 800}

	var first, second []bool
	c.FitToContent([]geom.Rect{{W: 3000, H: 10}}, vp, func(ok bool) { first = append(first, ok) })
	clk.Advance(50 * time.Millisecond)
	c.FitToContent([]geom.Rect{{W: 10, H: 10}}, vp, func(ok bool) { second = append(second, ok) })
	clk.Advance(time.Second)

	assert.Equal(t, []bool{false}, first)
	assert.Equal(t, []bool{true}, second)
}

func TestUserInputCancelsFit(t *testing.T) {
	vp := geom.Point{X: 1000, Y: 800}
	rects := []geom.Rect{{X: 0, Y: 0, W: 5000, H: 100}}
	tests := []struct {
		name  string
		input func(c *Camera)
	}{
		{"pan", func(c *Camera) { c.Pan(30, -12) }},
		{"zoom", func(c *Camera) { c.ZoomAt(geom.Point{X: 200, Y: 100}, 1.25) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := clock.NewFake(time.Unix(0, 0))
			c := New(DefaultConfig(), &anim.Animator{Clock: clk})
			var done []bool
			c.FitToContent(rects, vp, func(ok bool) { done = append(done, ok) })
			clk.Advance(50 * time.Millisecond)
			require.True(t, c.Animating())

			tt.input(c)
			after := c.State()
			assert.False(t, c.Animating())
			assert.Equal(t, []bool{false}, done)

			clk.Advance(time.Second)
			assert.Equal(t, after, c.State())
			assert.Equal(t, []bool{false}, done)
		})
	}
}
