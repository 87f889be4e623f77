package undo

import (
	"testing"
	"time"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	saved   []string
	deleted []string
}

func (r *recorder) Save(e *domain.Entry) { r.saved = append(r.saved, e.ID) }
func (r *recorder) SaveBatch(es []*domain.Entry) {
	for _, e := range es {
		r.saved = append(r.saved, e.ID)
	}
}
func (r *recorder) Delete(id string) { r.deleted = append(r.deleted, id) }

var t0 = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func seed() *entrystore.Store {
	s := entrystore.New()
	mk := func(id, parent, text string, n int) {
		e := &domain.Entry{ID: id, Text: text, CreatedAt: t0.Add(time.Duration(n) * time.Second), Position: domain.Position{X: float64(n), Y: float64(n)}}
		e.SetParent(parent)
		s.Set(e)
	}
	mk("root", "", "root", 1)
	mk("c1", "root", "c1", 2)
	mk("c2", "root", "c2", 3)
	mk("g1", "c1", "g1", 4)
	mk("other", "", "other", 5)
	return s
}

func TestStackIsBounded(t *testing.T) {
	s := NewStack(3)
	for i := 0; i < 5; i++ {
		s.Push(Record{Action: Move, Moves: []Placement{{ID: string(rune('a' + i))}}})
	}
	assert.Equal(t, 3, s.Len())
	r, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "e", r.Moves[0].ID)
	s.Pop()
	r, _ = s.Pop()
	assert.Equal(t, "c", r.Moves[0].ID, "oldest records were discarded")
	_, ok = s.Pop()
	assert.False(t, ok)
}

func TestUndoEmpty(t *testing.T) {
	r := &Replayer{Store: entrystore.New()}
	_, err := r.Undo(NewStack(1))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestUndoMoveRestoresExactPosition(t *testing.T) {
	store := seed()
	rec := &recorder{}
	r := &Replayer{Store: store, Persist: rec}
	stack := NewStack(10)

	before, _ := store.Get("other")
	stack.Push(Record{Action: Move, Moves: []Placement{PlacementOf(before)}})
	_, err := store.Update("other", func(e *domain.Entry) { e.Position = e.Position.Add(50, 30) })
	require.NoError(t, err)

	res, err := r.Undo(stack)
	require.NoError(t, err)
	after, _ := store.Get("other")
	assert.Equal(t, before.Position, after.Position)
	assert.Equal(t, []string{"other"}, res.Changed)
	assert.Equal(t, []string{"other"}, rec.saved)
}

func TestUndoEditRestoresContent(t *testing.T) {
	store := seed()
	r := &Replayer{Store: store}
	stack := NewStack(10)

	_, err := store.Update("c2", func(e *domain.Entry) {
		e.Links = []domain.LinkCard{{URL: "https://a.example"}}
	})
	require.NoError(t, err)
	before, _ := store.Get("c2")
	stack.Push(Record{Action: Edit, Edits: []Snapshot{SnapshotOf(before)}})

	_, err = store.Update("c2", func(e *domain.Entry) {
		e.Text = "changed"
		e.Rich = &domain.RichContent{Format: "html", Body: "<b>changed</b>"}
		e.Links = append(e.Links, domain.LinkCard{URL: "https://b.example"})
	})
	require.NoError(t, err)

	_, err = r.Undo(stack)
	require.NoError(t, err)
	after, _ := store.Get("c2")
	assert.Equal(t, before.Text, after.Text)
	assert.Nil(t, after.Rich)
	assert.Equal(t, before.Links, after.Links)
}

func TestUndoCreateRemovesEntry(t *testing.T) {
	store := seed()
	rec := &recorder{}
	r := &Replayer{Store: store, Persist: rec}
	stack := NewStack(10)

	created := &domain.Entry{ID: "new", Text: "new", CreatedAt: t0.Add(time.Hour)}
	store.Set(created)
	stack.Push(Record{Action: Create, Entries: []*domain.Entry{created}})

	res, err := r.Undo(stack)
	require.NoError(t, err)
	assert.False(t, store.Has("new"))
	assert.Equal(t, []string{"new"}, res.Removed)
	assert.Equal(t, []string{"new"}, rec.deleted)
}

func TestUndoDeleteRestoresSubtree(t *testing.T) {
	store := seed()
	r := &Replayer{Store: store}
	stack := NewStack(10)

	removed := store.Subtree([]string{"root"})
	require.Len(t, removed, 4, "root plus three descendants")
	stack.Push(Record{Action: Delete, Entries: removed})
	for _, e := range removed {
		store.Delete(e.ID)
	}
	require.Equal(t, 1, store.Len())

	res, err := r.Undo(stack)
	require.NoError(t, err)
	assert.Len(t, res.Restored, 4)
	assert.Equal(t, 5, store.Len())
	g1, ok := store.Get("g1")
	require.True(t, ok)
	assert.Equal(t, "c1", g1.Parent())
	c1, _ := store.Get("c1")
	assert.Equal(t, "root", c1.Parent())
}

func TestUndoDeleteOrphanLandsAtRoot(t *testing.T) {
	store := seed()
	r := &Replayer{Store: store}
	stack := NewStack(10)

	g1, _ := store.Get("g1")
	stack.Push(Record{Action: Delete, Entries: []*domain.Entry{g1}})
	store.Delete("g1")
	store.Delete("c1")

	_, err := r.Undo(stack)
	require.NoError(t, err)
	restored, ok := store.Get("g1")
	require.True(t, ok)
	assert.Nil(t, restored.ParentID)
}

func TestUndoOnMissingEntryIsGraceful(t *testing.T) {
	store := seed()
	r := &Replayer{Store: store}
	stack := NewStack(10)

	stack.Push(Record{Action: Move, Moves: []Placement{{ID: "ghost"}}})
	stack.Push(Record{Action: Edit, Edits: []Snapshot{{ID: "ghost", Text: "x"}}})
	stack.Push(Record{Action: Create, Entries: []*domain.Entry{{ID: "ghost"}}})

	for i := 0; i < 3; i++ {
		res, err := r.Undo(stack)
		require.NoError(t, err)
		assert.Equal(t, []string{"ghost"}, res.Skipped)
	}
	assert.Equal(t, 5, store.Len())
}
