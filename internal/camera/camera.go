// Package camera keeps the pan/zoom state of the canvas and maps between
// screen and world coordinates.
package camera

import (
	"math"
	"time"

	"github.com/pbaille/canvas/internal/anim"
	"github.com/pbaille/canvas/internal/geom"
)

// State is the camera transform: screen = world*Z + (X, Y)
type State struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Config bounds zoom and tunes auto-fit framing
type Config struct {
	MinZoom     float64
	MaxZoom     float64
	FitPadding  float64
	FitMaxZoom  float64
	FitDuration time.Duration
	// SingleOffset shifts a lone entry away from the exact viewport center,
	// as a fraction of the viewport size.
	SingleOffset float64
	// Anchor is the world point framed when a view has no entries.
	Anchor geom.Point
}

// DefaultConfig returns the stock camera settings
func DefaultConfig() Config {
	return Config{
		MinZoom:      0.1,
		MaxZoom:      4,
		FitPadding:   80,
		FitMaxZoom:   1,
		FitDuration:  400 * time.Millisecond,
		SingleOffset: 0.12,
	}
}

// Camera owns the transform. It is not safe for concurrent use; the session
// serializes access.
type Camera struct {
	cfg      Config
	state    State
	animator *anim.Animator
	fit      *anim.Tween
}

// New returns a camera at identity zoom
func New(cfg Config, animator *anim.Animator) *Camera {
	if cfg.MinZoom <= 0 {
		cfg.MinZoom = 0.1
	}
	if cfg.MaxZoom < cfg.MinZoom {
		cfg.MaxZoom = cfg.MinZoom
	}
	if cfg.FitMaxZoom <= 0 {
		cfg.FitMaxZoom = 1
	}
	return &Camera{cfg: cfg, state: State{Z: 1}, animator: animator}
}

// State returns the current transform
func (c *Camera) State() State { return c.state }

// Zoom returns the current scale factor
func (c *Camera) Zoom() float64 { return c.state.Z }

// Set replaces the transform, clamping zoom
func (c *Camera) Set(s State) {
	s.Z = c.clamp(s.Z)
	c.state = s
}

// ScreenToWorld maps a viewport pixel to world coordinates
func (c *Camera) ScreenToWorld(s geom.Point) geom.Point {
	return geom.Point{
		X: (s.X - c.state.X) / c.state.Z,
		Y: (s.Y - c.state.Y) / c.state.Z,
	}
}

// WorldToScreen maps a world point to viewport pixels
func (c *Camera) WorldToScreen(w geom.Point) geom.Point {
	return geom.Point{
		X: w.X*c.state.Z + c.state.X,
		Y: w.Y*c.state.Z + c.state.Y,
	}
}

// ScreenDeltaToWorld converts a screen-space vector to world units
func (c *Camera) ScreenDeltaToWorld(d geom.Point) geom.Point {
	return d.Scale(1 / c.state.Z)
}

// WorldRectToScreen maps a world rectangle to viewport pixels
func (c *Camera) WorldRectToScreen(r geom.Rect) geom.Rect {
	p := c.WorldToScreen(r.Min())
	return geom.Rect{X: p.X, Y: p.Y, W: r.W * c.state.Z, H: r.H * c.state.Z}
}

// Pan translates the view by a screen-space delta. The world is unbounded.
// A running fit is cancelled so the user keeps control of the view.
func (c *Camera) Pan(dx, dy float64) {
	c.stopFit()
	c.state.X += dx
	c.state.Y += dy
}

// ZoomAt scales by factor around screen point p; the world point under p stays fixed.
func (c *Camera) ZoomAt(p geom.Point, factor float64) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return
	}
	c.stopFit()
	w := c.ScreenToWorld(p)
	c.state.Z = c.clamp(c.state.Z * factor)
	c.state.X = p.X - w.X*c.state.Z
	c.state.Y = p.Y - w.Y*c.state.Z
}

// ViewportWorld returns the world rectangle currently on screen
func (c *Camera) ViewportWorld(viewport geom.Point) geom.Rect {
	return geom.RectFromPoints(c.ScreenToWorld(geom.Point{}), c.ScreenToWorld(viewport))
}

// FitTarget computes the transform that frames rects in the viewport.
// The result never zooms in past the current zoom.
func (c *Camera) FitTarget(rects []geom.Rect, viewport geom.Point) State {
	center := geom.Point{X: viewport.X / 2, Y: viewport.Y / 2}

	box, ok := geom.Bounds(rects)
	if !ok {
		z := c.state.Z
		return State{X: center.X - c.cfg.Anchor.X*z, Y: center.Y - c.cfg.Anchor.Y*z, Z: z}
	}
	padded := box.Expand(c.cfg.FitPadding)

	z := math.Min(c.cfg.FitMaxZoom, c.state.Z)
	availW := viewport.X
	availH := viewport.Y
	if padded.W > 0 && availW > 0 {
		z = math.Min(z, availW/padded.W)
	}
	if padded.H > 0 && availH > 0 {
		z = math.Min(z, availH/padded.H)
	}
	z = c.clamp(z)

	focus := box.Center()
	if len(rects) == 1 {
		center.X -= viewport.X * c.cfg.SingleOffset
		center.Y -= viewport.Y * c.cfg.SingleOffset
	}
	return State{X: center.X - focus.X*z, Y: center.Y - focus.Y*z, Z: z}
}

// FitToContent animates toward FitTarget. done is called exactly once per
// call: true when the animation lands, false if a later fit interrupted it.
func (c *Camera) FitToContent(rects []geom.Rect, viewport geom.Point, done func(finished bool)) *anim.Tween {
	c.stopFit()
	from := c.state
	to := c.FitTarget(rects, viewport)
	step := func(p float64) {
		c.state = State{
			X: anim.Lerp(from.X, to.X, p),
			Y: anim.Lerp(from.Y, to.Y, p),
			Z: anim.Lerp(from.Z, to.Z, p),
		}
	}
	if c.animator == nil {
		step(1)
		if done != nil {
			done(true)
		}
		return nil
	}
	var tw *anim.Tween
	tw = c.animator.Run(c.cfg.FitDuration, step, func(finished bool) {
		if c.fit == tw {
			c.fit = nil
		}
		if done != nil {
			done(finished)
		}
	})
	if !tw.Ended() {
		c.fit = tw
	}
	return tw
}

// Animating reports whether a fit animation is in flight
func (c *Camera) Animating() bool {
	return c.fit != nil && !c.fit.Ended()
}

func (c *Camera) stopFit() {
	if c.fit == nil {
		return
	}
	tw := c.fit
	c.fit = nil
	tw.Cancel()
}

func (c *Camera) clamp(z float64) float64 {
	if z < c.cfg.MinZoom {
		return c.cfg.MinZoom
	}
	if z > c.cfg.MaxZoom {
		return c.cfg.MaxZoom
	}
	return z
}
