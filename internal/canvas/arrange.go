package canvas

import (
	"context"
	"sort"

	"github.com/pbaille/canvas/internal/anim"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/embedding"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/layout"
	"github.com/pbaille/canvas/internal/undo"
)

// motion is an animated batch move. land writes the final positions and
// runs exactly once, whether the tween finishes or is cut short.
type motion struct {
	tween *anim.Tween
	land  func()
}

// Organize packs the entries of the current view on the layout worker and
// animates them into place. It returns the request generation; a later
// Organize supersedes an earlier one.
func (s *Session) Organize(ctx context.Context) (uint64, error) {
	var (
		items []layout.Item
		texts map[string]string
		err   error
	)
	s.do(func() {
		if s.readOnly() {
			err = ErrReadOnly
			return
		}
		s.landMotion()
		items, texts = s.visibleItems()
	})
	if err != nil {
		return 0, err
	}

	if s.cfg.Embedding.Enabled && s.opts.Embedder != nil && len(items) > 1 {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		groups, gerr := embedding.Groups(ctx, s.opts.Embedder, s.opts.Embeddings, ids, texts, embedding.DefaultThreshold)
		if gerr != nil {
			s.log.Warn("embedding groups unavailable, packing without them", "err", gerr)
		} else {
			for i := range items {
				items[i].Group = groups[items[i].ID]
			}
		}
	}

	opts := layout.DefaultOptions()
	opts.Gap = s.cfg.Layout.Gap
	opts.Passes = s.cfg.Layout.Passes
	gen := s.worker.Submit(ctx, items, opts, func(res layout.Result) {
		s.post(func() { s.applyLayout(res) })
	})
	s.log.Debug("organize submitted", "gen", gen, "entries", len(items))
	return gen, nil
}

// Settle blocks until submitted layout work has been applied, then lands any
// motion still in flight so the final positions are queued for writing.
func (s *Session) Settle() {
	s.worker.Wait()
	s.do(func() {
		s.runQueued()
		s.landMotion()
	})
}

func (s *Session) applyLayout(res layout.Result) {
	if res.Err != nil {
		s.log.Error("organize failed", "gen", res.Gen, "err", res.Err)
		return
	}
	if !s.worker.Current(res.Gen) {
		return
	}
	s.animateTo(res.Positions)
}

// Align nudges near-neighbours in the current view into tidy rows or
// columns without moving anything far
func (s *Session) Align() error {
	var err error
	s.do(func() {
		if s.readOnly() {
			err = ErrReadOnly
			return
		}
		s.landMotion()
		items, _ := s.visibleItems()
		opts := layout.DefaultAlignOptions()
		opts.MaxMove = s.cfg.Layout.MaxAlignMove
		s.animateTo(layout.Align(items, opts))
	})
	return err
}

// visibleItems returns the visible entries in id order, with their text
func (s *Session) visibleItems() ([]layout.Item, map[string]string) {
	var items []layout.Item
	texts := make(map[string]string)
	for _, h := range s.proj.Visible() {
		e, ok := s.store.Get(h.ID)
		if !ok {
			continue
		}
		items = append(items, layout.Item{ID: h.ID, Box: h.Box, Group: -1})
		texts[h.ID] = e.Text
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, texts
}

// animateTo glides entries to their target top-left corners. Intermediate
// frames only touch the projection; the store, backend and undo history are
// written once when the motion lands.
func (s *Session) animateTo(targets map[string]geom.Point) {
	type leg struct {
		id       string
		box      geom.Rect
		from, to geom.Point
	}
	var legs []leg
	for id, to := range targets {
		e, ok := s.store.Get(id)
		h, hok := s.proj.Get(id)
		if !ok || !hok {
			continue
		}
		from := geom.Point{X: e.Position.X, Y: e.Position.Y}
		if from == to {
			continue
		}
		legs = append(legs, leg{id: id, box: h.Box, from: from, to: to})
	}
	if len(legs) == 0 {
		return
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].id < legs[j].id })

	m := &motion{}
	m.land = func() {
		now := s.clock.Now()
		var before []undo.Placement
		var changed []*domain.Entry
		for _, l := range legs {
			if h, ok := s.proj.Get(l.id); ok {
				h.Preview = nil
			}
			prev, ok := s.store.Get(l.id)
			if !ok {
				continue
			}
			e, err := s.store.Update(l.id, func(e *domain.Entry) {
				e.Position = domain.Position{X: l.to.X, Y: l.to.Y}
				e.UpdatedAt = now
			})
			if err != nil {
				continue
			}
			before = append(before, undo.PlacementOf(prev))
			s.proj.Sync(e)
			changed = append(changed, e)
		}
		if len(changed) == 0 {
			return
		}
		s.persist.SaveBatch(changed)
		s.undo.Push(undo.Record{Action: undo.Move, Timestamp: now, Moves: before})
		s.log.Info("layout applied", "moved", len(changed))
	}
	step := func(p float64) {
		for _, l := range legs {
			h, ok := s.proj.Get(l.id)
			if !ok {
				continue
			}
			r := l.box
			r.X = anim.Lerp(l.from.X, l.to.X, p) + (l.box.X - l.from.X)
			r.Y = anim.Lerp(l.from.Y, l.to.Y, p) + (l.box.Y - l.from.Y)
			h.Preview = &r
		}
	}
	s.motion = m
	m.tween = s.animator.Run(s.opts.LayoutDuration, step, func(bool) {
		if s.motion == m {
			s.motion = nil
			m.land()
		}
	})
}

// landMotion finishes any running layout animation immediately
func (s *Session) landMotion() {
	m := s.motion
	if m == nil {
		return
	}
	s.motion = nil
	if m.tween != nil {
		m.tween.Cancel()
	}
	m.land()
}
