package canvas

import (
	"context"

	"github.com/pbaille/canvas/internal/camera"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/editor"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/navigation"
	"github.com/pbaille/canvas/internal/persist"
)

// Snapshot is what a renderer needs to draw one frame
type Snapshot struct {
	Camera      camera.State
	View        string
	Path        string
	Breadcrumb  []navigation.Crumb
	Navigating  bool
	Entries     []EntryView
	Cursor      *geom.Point
	EditorState editor.State
	Editing     string
	Band        *geom.Rect
	Selected    []string
	CanUndo     bool
	Persist     persist.Status
	ReadOnly    bool
}

// EntryView is one visible entry in stacking order
type EntryView struct {
	Entry    *domain.Entry
	Box      geom.Rect
	Selected bool
	Editing  bool
}

// Snapshot captures the current state
func (s *Session) Snapshot() Snapshot {
	var snap Snapshot
	s.do(func() {
		snap = Snapshot{
			Camera:      s.camera.State(),
			View:        s.nav.Current(),
			Path:        s.nav.Path(),
			Breadcrumb:  s.nav.Breadcrumb(),
			Navigating:  s.nav.Busy(),
			EditorState: s.editor.State(),
			Editing:     s.editor.Editing(),
			Selected:    s.selection.IDs(),
			CanUndo:     s.undo.Len() > 0,
			Persist:     s.persist.Status(),
			ReadOnly:    s.readOnly(),
		}
		if p, shown := s.editor.Cursor(); shown {
			snap.Cursor = &p
		}
		if b, ok := s.selection.Band(); ok {
			snap.Band = &b
		}
		for _, h := range s.proj.Visible() {
			e, ok := s.store.Get(h.ID)
			if !ok {
				continue
			}
			snap.Entries = append(snap.Entries, EntryView{Entry: e, Box: h.Rect(), Selected: h.Selected, Editing: h.Editing})
		}
	})
	return snap
}

// Entry returns a copy of an entry
func (s *Session) Entry(id string) (e *domain.Entry, ok bool) {
	s.do(func() { e, ok = s.store.Get(id) })
	return e, ok
}

// Len returns how many entries the session holds across all levels
func (s *Session) Len() (n int) {
	s.do(func() { n = s.store.Len() })
	return n
}

// Flush waits until queued backend writes have been attempted
func (s *Session) Flush(ctx context.Context) error {
	return s.persist.Flush(ctx)
}
