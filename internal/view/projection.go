// Package view is the render-layer projection of the entry store: for every
// entry id it keeps a handle with visibility, interaction flags and the
// measured bounding box. The data model never references these handles.
package view

import (
	"sort"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/geom"
)

// Handle is the rendering state of one entry
type Handle struct {
	ID       string
	Visible  bool
	Editing  bool
	Selected bool
	Box      geom.Rect
	// Preview overrides Box while a resize gesture is in progress.
	Preview *geom.Rect
	z       int
}

// Rect returns the box currently drawn on screen
func (h *Handle) Rect() geom.Rect {
	if h.Preview != nil {
		return *h.Preview
	}
	return h.Box
}

// Projection maps entry ids to handles. Not safe for concurrent use.
type Projection struct {
	Measure Measurer
	handles map[string]*Handle
	nextZ   int
}

// NewProjection returns an empty projection using m for measurement
func NewProjection(m Measurer) *Projection {
	return &Projection{Measure: m, handles: make(map[string]*Handle)}
}

// Sync creates or refreshes the handle of e
func (p *Projection) Sync(e *domain.Entry) *Handle {
	h, ok := p.handles[e.ID]
	if !ok {
		p.nextZ++
		h = &Handle{ID: e.ID, z: p.nextZ}
		p.handles[e.ID] = h
	}
	h.Box = p.Measure.Box(e)
	return h
}

// Remove destroys the handle of id
func (p *Projection) Remove(id string) {
	delete(p.handles, id)
}

// Reset drops every handle
func (p *Projection) Reset() {
	p.handles = make(map[string]*Handle)
}

// Get returns the handle of id
func (p *Projection) Get(id string) (*Handle, bool) {
	h, ok := p.handles[id]
	return h, ok
}

// Raise puts id on top of the stacking order
func (p *Projection) Raise(id string) {
	if h, ok := p.handles[id]; ok {
		p.nextZ++
		h.z = p.nextZ
	}
}

// ApplyVisibility marks each entry visible iff its parent equals view and
// returns the ids now visible.
func (p *Projection) ApplyVisibility(entries []*domain.Entry, view string) []string {
	var visible []string
	for _, e := range entries {
		h := p.Sync(e)
		h.Visible = e.Parent() == view
		if h.Visible {
			visible = append(visible, e.ID)
		} else {
			h.Selected = false
			h.Editing = false
		}
	}
	return visible
}

// Visible returns handles of visible entries, bottom of the stack first
func (p *Projection) Visible() []*Handle {
	var out []*Handle
	for _, h := range p.handles {
		if h.Visible {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].z < out[j].z })
	return out
}

// VisibleBoxes returns the boxes of visible entries keyed by id
func (p *Projection) VisibleBoxes() map[string]geom.Rect {
	out := make(map[string]geom.Rect)
	for _, h := range p.handles {
		if h.Visible {
			out[h.ID] = h.Rect()
		}
	}
	return out
}

// HitTest returns the topmost visible entry containing the world point
func (p *Projection) HitTest(w geom.Point) (string, bool) {
	vis := p.Visible()
	for i := len(vis) - 1; i >= 0; i-- {
		if vis[i].Rect().Contains(w) {
			return vis[i].ID, true
		}
	}
	return "", false
}

// SetSelected mirrors the selection set onto handles
func (p *Projection) SetSelected(ids map[string]bool) {
	for id, h := range p.handles {
		h.Selected = ids[id]
	}
}

// SetEditing flags id as being edited and clears the flag elsewhere
func (p *Projection) SetEditing(id string) {
	for hid, h := range p.handles {
		h.Editing = hid == id && id != ""
	}
}
