package entrystore

import (
	"testing"
	"time"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(id, parent, text string, n int) *domain.Entry {
	e := &domain.Entry{ID: id, Text: text, CreatedAt: base.Add(time.Duration(n) * time.Second)}
	e.SetParent(parent)
	return e
}

// tree builds: a{b{d}, c}, e
func tree() *Store {
	s := New()
	s.Set(entry("a", "", "Alpha", 1))
	s.Set(entry("b", "a", "Beta", 2))
	s.Set(entry("c", "a", "Gamma", 3))
	s.Set(entry("d", "b", "Delta", 4))
	s.Set(entry("e", "", "Epsilon", 5))
	return s
}

func TestGetReturnsCopy(t *testing.T) {
	s := tree()
	e, ok := s.Get("a")
	require.True(t, ok)
	e.Text = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "Alpha", again.Text)
}

func TestUpdateMissing(t *testing.T) {
	s := New()
	_, err := s.Update("nope", func(*domain.Entry) {})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildren(t *testing.T) {
	s := tree()
	ids := func(es []*domain.Entry) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "e"}, ids(s.Children("")))
	assert.Equal(t, []string{"b", "c"}, ids(s.Children("a")))
	assert.Empty(t, s.Children("e"))
	assert.True(t, s.HasChildren("a"))
	assert.False(t, s.HasChildren("e"))
}

func TestFindDuplicate(t *testing.T) {
	s := tree()
	tests := []struct {
		name    string
		text    string
		parent  string
		exclude string
		wantID  string
	}{
		{"case insensitive", "  alpha ", "", "", "a"},
		{"other level", "alpha", "a", "", ""},
		{"excluded self", "beta", "a", "b", ""},
		{"child level", "GAMMA", "a", "", "c"},
		{"empty never duplicates", "   ", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := s.FindDuplicate(tt.text, tt.parent, tt.exclude)
			if tt.wantID == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantID, e.ID)
		})
	}
}

func TestDescendantsParentFirst(t *testing.T) {
	s := tree()
	var ids []string
	for _, e := range s.Descendants("a") {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b", "c", "d"}, ids)
}

func TestSubtreeDeduplicatesNestedTargets(t *testing.T) {
	s := tree()
	got := s.Subtree([]string{"d", "a", "e", "missing"})
	var ids []string
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

	pos := map[string]int{}
	for i, id := range ids {
		pos[id] = i
	}
	for _, e := range got {
		if p := e.Parent(); p != "" {
			assert.Less(t, pos[p], pos[e.ID], "parent %s must precede %s", p, e.ID)
		}
	}
}

func TestAncestors(t *testing.T) {
	s := tree()
	assert.Equal(t, []string{"a", "b"}, s.Ancestors("d"))
	assert.Empty(t, s.Ancestors("a"))
	assert.True(t, s.IsDescendant("d", "a"))
	assert.False(t, s.IsDescendant("a", "d"))
}

func TestAncestorsToleratesDanglingParent(t *testing.T) {
	s := New()
	s.Set(entry("x", "ghost", "orphan", 1))
	assert.Equal(t, []string{"ghost"}, s.Ancestors("x"))
}

func TestReparent(t *testing.T) {
	s := tree()

	_, err := s.Reparent("a", "d")
	assert.ErrorIs(t, err, ErrCycle)
	_, err = s.Reparent("a", "a")
	assert.ErrorIs(t, err, ErrCycle)
	_, err = s.Reparent("e", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	e, err := s.Reparent("e", "c")
	require.NoError(t, err)
	assert.Equal(t, "c", e.Parent())

	e, err = s.Reparent("e", "")
	require.NoError(t, err)
	assert.Nil(t, e.ParentID)
}

func TestSearch(t *testing.T) {
	s := tree()
	got := s.Search("lph", 10)
	require.NotEmpty(t, got)
	assert.Equal(t, "a", got[0].ID)
}
