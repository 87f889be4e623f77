package canvas

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/editor"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/interaction"
	"github.com/pbaille/canvas/internal/navigation"
	"github.com/pbaille/canvas/internal/undo"
)

// Key is a key press delivered to the canvas
type Key struct {
	Name string
	Mods interaction.Modifiers
}

// PointerDown starts a pointer gesture
func (s *Session) PointerDown(ev interaction.Pointer) {
	s.do(func() { s.router.PointerDown(ev) })
}

// PointerMove advances the pointer gesture
func (s *Session) PointerMove(ev interaction.Pointer) {
	s.do(func() { s.router.PointerMove(ev) })
}

// PointerUp ends the pointer gesture
func (s *Session) PointerUp(ev interaction.Pointer) {
	s.do(func() { s.router.PointerUp(ev) })
}

// Wheel pans or zooms the camera
func (s *Session) Wheel(ev interaction.Wheel) {
	s.do(func() { s.router.Wheel(ev) })
}

// Key handles a key press and reports whether the canvas consumed it.
// Unconsumed keys (Shift+Enter, plain typing) belong to the editing surface.
func (s *Session) Key(k Key) (handled bool, err error) {
	s.do(func() { handled, err = s.key(k) })
	return handled, err
}

func (s *Session) key(k Key) (bool, error) {
	switch {
	case k.Name == "Enter" && !k.Mods.Shift:
		if s.editor.Active() {
			_, err := s.commitWith(s.editor.Commit)
			if errors.Is(err, editor.ErrNavigating) || errors.Is(err, editor.ErrBusy) {
				err = nil
			}
			return true, err
		}
		if ids := s.selection.IDs(); len(ids) == 1 && !s.readOnly() {
			if e, ok := s.store.Get(ids[0]); ok && e.Media == nil {
				return true, s.open(ids[0])
			}
		}
		return false, nil

	case k.Name == "Escape":
		switch {
		case s.editor.Active():
			s.editor.Escape()
		case s.router.Mode() != interaction.None:
			s.router.Cancel()
		case !s.selection.Empty():
			s.clearSelection()
			s.editor.ShowAt(s.editor.PlaceCursor(nil))
		case s.nav.Depth() > 0:
			s.leave(func() { s.nav.NavigateBack(1) })
		default:
			return false, nil
		}
		return true, nil

	case (k.Name == "Delete" || k.Name == "Backspace") && !s.editor.Active() && !s.selection.Empty():
		_, err := s.deleteSelection()
		return true, err

	case strings.EqualFold(k.Name, "z") && k.Mods.Command() && !k.Mods.Shift && !s.editor.Active():
		_, err := s.undoLast()
		if errors.Is(err, undo.ErrEmpty) {
			err = nil
		}
		return true, err
	}
	return false, nil
}

// Input replaces the editor content with what the user typed
func (s *Session) Input(text string, rich *domain.RichContent) error {
	var err error
	s.do(func() {
		if s.readOnly() {
			err = ErrReadOnly
			return
		}
		if !s.selection.Empty() {
			s.clearSelection()
		}
		s.editor.Input(text, rich)
	})
	return err
}

// Observe records content read back from the editing surface without
// counting it as an edit
func (s *Session) Observe(text string, rich *domain.RichContent) {
	s.do(func() { s.editor.Observe(text, rich) })
}

// Paste inserts text. Into an active edit it is appended; at the idle cursor
// it becomes a new entry right away. Pastes during navigation are dropped.
func (s *Session) Paste(text string, rich *domain.RichContent) (res editor.Result, err error) {
	s.do(func() {
		switch {
		case s.readOnly():
			err = ErrReadOnly
		case s.nav.Busy():
			s.log.Debug("paste dropped during navigation")
			err = navigation.ErrNavigating
		case s.editor.Active():
			cur, curRich := s.editor.Content()
			if rich == nil {
				rich = curRich
			}
			s.editor.Input(cur+text, rich)
		default:
			if !s.selection.Empty() {
				s.clearSelection()
			}
			s.editor.Input(text, rich)
			res, err = s.commitWith(s.editor.Commit)
		}
	})
	return res, err
}

// Commit commits the editor content, as the Enter key does
func (s *Session) Commit() (res editor.Result, err error) {
	s.do(func() { res, err = s.commitWith(s.editor.Commit) })
	return res, err
}

// Blur handles the editing surface losing focus
func (s *Session) Blur() (res editor.Result, err error) {
	s.do(func() { res, err = s.commitWith(s.editor.Blur) })
	return res, err
}

// Escape abandons the current edit
func (s *Session) Escape() {
	s.do(func() { s.editor.Escape() })
}

// OpenEntry starts editing an entry
func (s *Session) OpenEntry(id string) error {
	var err error
	s.do(func() {
		if s.readOnly() {
			err = ErrReadOnly
			return
		}
		err = s.open(id)
	})
	return err
}

// NavigateInto makes id the current view
func (s *Session) NavigateInto(id string) error {
	var err error
	s.do(func() { err = s.navigateInto(id) })
	return err
}

func (s *Session) navigateInto(id string) error {
	if !s.store.Has(id) {
		return fmt.Errorf("navigate into %s: %w", id, entrystore.ErrNotFound)
	}
	var err error
	s.leave(func() { err = s.nav.NavigateInto(id) })
	return err
}

// NavigateBack pops levels views; levels <= 0 returns to root
func (s *Session) NavigateBack(levels int) {
	s.do(func() { s.leave(func() { s.nav.NavigateBack(levels) }) })
}

// NavigateToRoot returns to the top level
func (s *Session) NavigateToRoot() {
	s.do(func() { s.leave(s.nav.NavigateToRoot) })
}

// NavigateToDepth follows a breadcrumb
func (s *Session) NavigateToDepth(depth int) {
	s.do(func() { s.leave(func() { s.nav.NavigateToDepth(depth) }) })
}

// PopState restores the view after browser back or forward
func (s *Session) PopState(state *navigation.HistoryState, path string) {
	s.do(func() { s.leave(func() { s.nav.PopState(state, path) }) })
}

// leave commits any edit in the current view and clears transient state
// before switching views
func (s *Session) leave(move func()) {
	s.router.Cancel()
	s.landMotion()
	if s.editor.Active() {
		if _, err := s.commitWith(s.editor.Blur); err != nil && !errors.Is(err, editor.ErrNavigating) {
			s.log.Warn("commit before navigation failed", "err", err)
		}
	}
	s.clearSelection()
	if !s.editor.Active() {
		s.editor.Hide()
	}
	move()
}

// Undo reverts the most recent recorded operation
func (s *Session) Undo() (res undo.Result, err error) {
	s.do(func() { res, err = s.undoLast() })
	return res, err
}

func (s *Session) undoLast() (undo.Result, error) {
	if s.readOnly() {
		return undo.Result{}, ErrReadOnly
	}
	if s.editor.Active() {
		return undo.Result{}, ErrEditing
	}
	s.router.Cancel()
	s.landMotion()
	res, err := s.replayer.Undo(s.undo)
	if err != nil {
		return res, err
	}
	for _, id := range append(append([]string(nil), res.Restored...), res.Changed...) {
		if e, ok := s.store.Get(id); ok {
			s.proj.Sync(e)
		}
	}
	for _, id := range res.Removed {
		s.proj.Remove(id)
		s.selection.Remove(id)
	}
	s.proj.SetSelected(s.selection.Map())
	if !s.nav.Prune() {
		s.nav.Refresh()
	}
	s.log.Debug("undo applied", "action", string(res.Action), "changed", len(res.Changed)+len(res.Restored)+len(res.Removed))
	return res, nil
}

// DeleteSelection removes every selected entry and its nested entries as a
// single undoable operation, asking once when more than one entry goes
func (s *Session) DeleteSelection() (removed []string, err error) {
	s.do(func() { removed, err = s.deleteSelection() })
	return removed, err
}

func (s *Session) deleteSelection() ([]string, error) {
	if s.readOnly() {
		return nil, ErrReadOnly
	}
	ids := s.selection.IDs()
	if len(ids) == 0 {
		return nil, nil
	}
	doomed := s.store.Subtree(ids)
	if len(doomed) > 1 && s.opts.Confirm != nil {
		nested := len(doomed) - len(ids)
		msg := fmt.Sprintf("Delete %d selected entries?", len(ids))
		if nested > 0 {
			msg = fmt.Sprintf("Delete %d selected entries and %d nested entries?", len(ids), nested)
		}
		if !s.opts.Confirm.Confirm(msg) {
			return nil, nil
		}
	}
	removed := editor.RemoveSubtree(s.store, s.proj, s.persist, ids)
	if len(removed) == 0 {
		return nil, nil
	}
	s.undo.Push(undo.Record{Action: undo.Delete, Timestamp: s.clock.Now(), Entries: removed})
	out := make([]string, len(removed))
	for i, e := range removed {
		out[i] = e.ID
	}
	s.clearSelection()
	s.nav.Prune()
	s.editor.ShowAt(s.editor.PlaceCursor(nil))
	s.log.Info("deleted selection", "selected", len(ids), "removed", len(out))
	return out, nil
}

// MoveInto reparents ids under target ("" for the top level). Nothing moves
// if any id would end up inside its own subtree.
func (s *Session) MoveInto(ids []string, target string) error {
	var err error
	s.do(func() { err = s.moveInto(ids, target) })
	return err
}

func (s *Session) moveInto(ids []string, target string) error {
	if s.readOnly() {
		return ErrReadOnly
	}
	if target != "" && !s.store.Has(target) {
		return fmt.Errorf("move into %s: %w", target, entrystore.ErrNotFound)
	}
	for _, id := range ids {
		if id == target || (target != "" && s.store.IsDescendant(target, id)) {
			return fmt.Errorf("move %s into %s: %w", id, target, entrystore.ErrCycle)
		}
	}
	now := s.clock.Now()
	var moved []*domain.Entry
	for _, id := range ids {
		if _, err := s.store.Reparent(id, target); err != nil {
			return err
		}
		e, _ := s.store.Update(id, func(e *domain.Entry) { e.UpdatedAt = now })
		s.proj.Sync(e)
		s.selection.Remove(id)
		moved = append(moved, e)
	}
	s.persist.SaveBatch(moved)
	s.proj.SetSelected(s.selection.Map())
	s.nav.Refresh()
	return nil
}

func (s *Session) clearSelection() {
	if s.selection.Empty() {
		return
	}
	s.selection.Clear()
	s.proj.SetSelected(nil)
}
