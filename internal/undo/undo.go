// Package undo keeps a bounded stack of inverse operations and replays them.
package undo

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
)

// Action is the kind of recorded operation
type Action string

const (
	Create Action = "create"
	Delete Action = "delete"
	Move   Action = "move"
	Edit   Action = "edit"
)

// DefaultSize is the default stack bound
const DefaultSize = 50

// ErrEmpty is returned when there is nothing to undo
var ErrEmpty = errors.New("nothing to undo")

// Placement is the geometry of an entry before a move or resize
type Placement struct {
	ID       string
	Position domain.Position
	Width    float64
	Height   float64
}

// Snapshot is the content of an entry before an edit
type Snapshot struct {
	ID    string
	Text  string
	Rich  *domain.RichContent
	Media *domain.MediaCard
	Links []domain.LinkCard
}

// SnapshotOf captures the editable content of e
func SnapshotOf(e *domain.Entry) Snapshot {
	c := e.Clone()
	return Snapshot{ID: c.ID, Text: c.Text, Rich: c.Rich, Media: c.Media, Links: c.Links}
}

// PlacementOf captures the geometry of e
func PlacementOf(e *domain.Entry) Placement {
	return Placement{ID: e.ID, Position: e.Position, Width: e.Width, Height: e.Height}
}

// Record is one undoable operation with enough data to invert it
type Record struct {
	Action    Action
	Timestamp time.Time
	// Entries holds the created entry for Create, and every removed entry in
	// parent-before-child order for Delete.
	Entries []*domain.Entry
	Moves   []Placement
	Edits   []Snapshot
}

// Stack is a bounded LIFO of records; the oldest record is discarded on overflow.
type Stack struct {
	max     int
	records []Record
}

// NewStack returns a stack bounded to max records
func NewStack(max int) *Stack {
	if max <= 0 {
		max = DefaultSize
	}
	return &Stack{max: max}
}

// Push records an operation
func (s *Stack) Push(r Record) {
	s.records = append(s.records, r)
	if over := len(s.records) - s.max; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
}

// Pop removes and returns the most recent record
func (s *Stack) Pop() (Record, bool) {
	if len(s.records) == 0 {
		return Record{}, false
	}
	r := s.records[len(s.records)-1]
	s.records = s.records[:len(s.records)-1]
	return r, true
}

// Len returns the number of records
func (s *Stack) Len() int { return len(s.records) }

// Clear drops every record
func (s *Stack) Clear() { s.records = nil }

// Persister receives the writes produced by replaying an inverse
type Persister interface {
	Save(e *domain.Entry)
	SaveBatch(es []*domain.Entry)
	Delete(id string)
}

// Replayer applies inverse operations to the entry store
type Replayer struct {
	Store   *entrystore.Store
	Persist Persister
	Now     func() time.Time
	Logger  *slog.Logger
}

// Result reports what an undo touched
type Result struct {
	Action   Action
	Restored []string
	Removed  []string
	Changed  []string
	Skipped  []string
}

// Undo pops the latest record and replays its inverse. Entries that no longer
// exist are skipped rather than treated as errors.
func (r *Replayer) Undo(s *Stack) (Result, error) {
	rec, ok := s.Pop()
	if !ok {
		return Result{}, ErrEmpty
	}
	res := Result{Action: rec.Action}
	switch rec.Action {
	case Create:
		r.undoCreate(rec, &res)
	case Delete:
		r.undoDelete(rec, &res)
	case Move:
		r.undoMove(rec, &res)
	case Edit:
		r.undoEdit(rec, &res)
	}
	if len(res.Skipped) > 0 {
		r.logger().Debug("undo skipped missing entries", "action", string(rec.Action), "ids", res.Skipped)
	}
	return res, nil
}

func (r *Replayer) undoCreate(rec Record, res *Result) {
	var ids []string
	for _, e := range rec.Entries {
		ids = append(ids, e.ID)
	}
	subtree := r.Store.Subtree(ids)
	for i := len(subtree) - 1; i >= 0; i-- {
		id := subtree[i].ID
		r.Store.Delete(id)
		res.Removed = append(res.Removed, id)
		if r.Persist != nil {
			r.Persist.Delete(id)
		}
	}
	for _, id := range ids {
		if !contains(res.Removed, id) {
			res.Skipped = append(res.Skipped, id)
		}
	}
}

func (r *Replayer) undoDelete(rec Record, res *Result) {
	restoring := make(map[string]bool, len(rec.Entries))
	for _, e := range rec.Entries {
		restoring[e.ID] = true
	}
	var restored []*domain.Entry
	for _, e := range rec.Entries {
		c := e.Clone()
		if p := c.Parent(); p != "" && !restoring[p] && !r.Store.Has(p) {
			// The old parent is gone; land at the root rather than dangle.
			c.SetParent("")
		}
		c.UpdatedAt = r.now()
		r.Store.Set(c)
		restored = append(restored, c)
		res.Restored = append(res.Restored, c.ID)
	}
	if r.Persist != nil && len(restored) > 0 {
		r.Persist.SaveBatch(restored)
	}
}

func (r *Replayer) undoMove(rec Record, res *Result) {
	var changed []*domain.Entry
	for _, p := range rec.Moves {
		e, err := r.Store.Update(p.ID, func(e *domain.Entry) {
			e.Position = p.Position
			e.Width = p.Width
			e.Height = p.Height
			e.UpdatedAt = r.now()
		})
		if err != nil {
			res.Skipped = append(res.Skipped, p.ID)
			continue
		}
		changed = append(changed, e)
		res.Changed = append(res.Changed, e.ID)
	}
	if r.Persist != nil && len(changed) > 0 {
		r.Persist.SaveBatch(changed)
	}
}

func (r *Replayer) undoEdit(rec Record, res *Result) {
	for _, snap := range rec.Edits {
		s := snap
		e, err := r.Store.Update(s.ID, func(e *domain.Entry) {
			restored := (&domain.Entry{Text: s.Text, Rich: s.Rich, Media: s.Media, Links: s.Links}).Clone()
			e.Text = restored.Text
			e.Rich = restored.Rich
			e.Media = restored.Media
			e.Links = restored.Links
			e.UpdatedAt = r.now()
		})
		if err != nil {
			res.Skipped = append(res.Skipped, s.ID)
			continue
		}
		res.Changed = append(res.Changed, e.ID)
		if r.Persist != nil {
			r.Persist.Save(e)
		}
	}
}

func (r *Replayer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Replayer) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
