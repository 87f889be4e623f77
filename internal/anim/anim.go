// Package anim drives fixed-duration eased transitions off a clock and
// reports completion through an explicit callback.
package anim

import (
	"sync"
	"time"

	"github.com/pbaille/canvas/internal/clock"
)

// FrameInterval is the default time between animation frames (~60fps)
const FrameInterval = 16 * time.Millisecond

// EaseOutCubic maps linear progress in [0,1] to ease-out progress
func EaseOutCubic(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	u := 1 - t
	return 1 - u*u*u
}

// Lerp interpolates between a and b
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Animator starts tweens. Exec, when set, is used to run every step and
// completion callback (e.g. to serialize them onto an event loop).
type Animator struct {
	Clock clock.Clock
	Exec  func(func())
	Frame time.Duration
}

// Tween is a running animation
type Tween struct {
	a        *Animator
	duration time.Duration
	start    time.Time
	step     func(p float64)
	done     func(finished bool)

	mu    sync.Mutex
	timer clock.Timer
	ended bool
}

// Run starts an animation of duration d. step receives eased progress for
// every frame (the last call always receives 1). done is called exactly once:
// with true after the final frame, or false if the tween is cancelled.
func (a *Animator) Run(d time.Duration, step func(p float64), done func(finished bool)) *Tween {
	t := &Tween{
		a:        a,
		duration: d,
		start:    a.Clock.Now(),
		step:     step,
		done:     done,
	}
	if d <= 0 {
		t.exec(func() { t.finish(1) })
		return t
	}
	t.mu.Lock()
	t.timer = a.Clock.AfterFunc(a.frame(), t.tick)
	t.mu.Unlock()
	return t
}

// Cancel stops the tween. The done callback receives false if it had not finished yet.
func (t *Tween) Cancel() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	if t.done != nil {
		t.exec(func() { t.done(false) })
	}
}

// Ended reports whether the tween finished or was cancelled
func (t *Tween) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Tween) tick() {
	elapsed := t.a.Clock.Now().Sub(t.start)
	p := float64(elapsed) / float64(t.duration)
	if p >= 1 {
		t.exec(func() { t.finish(1) })
		return
	}
	t.exec(func() {
		t.mu.Lock()
		if t.ended {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
		if t.step != nil {
			t.step(EaseOutCubic(p))
		}
	})
	t.mu.Lock()
	if !t.ended {
		t.timer = t.a.Clock.AfterFunc(t.a.frame(), t.tick)
	}
	t.mu.Unlock()
}

func (t *Tween) finish(p float64) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	t.mu.Unlock()
	if t.step != nil {
		t.step(p)
	}
	if t.done != nil {
		t.done(true)
	}
}

func (t *Tween) exec(f func()) {
	if t.a.Exec != nil {
		t.a.Exec(f)
		return
	}
	f()
}

func (a *Animator) frame() time.Duration {
	if a.Frame > 0 {
		return a.Frame
	}
	return FrameInterval
}
