// Package entrystore is the authoritative in-memory map of canvas entries.
//
// Every read returns a copy and every write stores a copy, so callers never
// hold a record that another component can mutate underneath them. Code that
// needs a read-modify-write cycle should use Update rather than Get+Set across
// a blocking call.
package entrystore

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pbaille/canvas/internal/domain"
	"github.com/sahilm/fuzzy"
)

var (
	ErrNotFound  = errors.New("entry not found")
	ErrCycle     = errors.New("entry cannot be moved into its own subtree")
	ErrDuplicate = errors.New("duplicate entry at this level")
)

// Store holds entries keyed by id
type Store struct {
	mu      sync.RWMutex
	entries map[string]*domain.Entry
}

// New creates an empty Store
func New() *Store {
	return &Store{entries: make(map[string]*domain.Entry)}
}

// Get returns a copy of the entry with the given id
func (s *Store) Get(id string) (*domain.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// Has reports whether id is present
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Set inserts or replaces an entry
func (s *Store) Set(e *domain.Entry) {
	if e == nil || e.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e.Clone()
}

// Update applies fn to the stored entry under the write lock
func (s *Store) Update(id string, fn func(e *domain.Entry)) (*domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	fn(e)
	return e.Clone(), nil
}

// Delete removes an entry. It reports whether the entry existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Replace swaps the whole content of the store
func (s *Store) Replace(entries []*domain.Entry) {
	m := make(map[string]*domain.Entry, len(entries))
	for _, e := range entries {
		if e != nil && e.ID != "" {
			m[e.ID] = e.Clone()
		}
	}
	s.mu.Lock()
	s.entries = m
	s.mu.Unlock()
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ForEach calls fn with a copy of every entry in creation order until fn returns false
func (s *Store) ForEach(fn func(e *domain.Entry) bool) {
	for _, e := range s.All() {
		if !fn(e) {
			return
		}
	}
}

// All returns copies of every entry in creation order
func (s *Store) All() []*domain.Entry {
	s.mu.RLock()
	out := make([]*domain.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()
	sortByCreation(out)
	return out
}

// Children returns the entries whose parent is parent ("" for root), in creation order
func (s *Store) Children(parent string) []*domain.Entry {
	s.mu.RLock()
	var out []*domain.Entry
	for _, e := range s.entries {
		if e.Parent() == parent {
			out = append(out, e.Clone())
		}
	}
	s.mu.RUnlock()
	sortByCreation(out)
	return out
}

// HasChildren reports whether any entry has id as its parent
func (s *Store) HasChildren(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ParentID != nil && *e.ParentID == id {
			return true
		}
	}
	return false
}

// FindDuplicate returns the first sibling under parent whose normalized text
// equals text's, ignoring exclude.
func (s *Store) FindDuplicate(text, parent, exclude string) (*domain.Entry, bool) {
	needle := domain.NormalizeText(text)
	if needle == "" {
		return nil, false
	}
	for _, e := range s.Children(parent) {
		if e.ID == exclude {
			continue
		}
		if domain.NormalizeText(e.Text) == needle {
			return e, true
		}
	}
	return nil, false
}

// Descendants returns every entry below id, parents before children
func (s *Store) Descendants(id string) []*domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.descendantsLocked(id, map[string]bool{id: true})
}

// Subtree returns the union of ids and all their descendants, parents before
// children and without duplicates. Unknown ids are skipped.
func (s *Store) Subtree(ids []string) []*domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.entries[id]; ok {
			targets[id] = true
		}
	}

	seen := make(map[string]bool)
	var out []*domain.Entry
	roots := make([]*domain.Entry, 0, len(targets))
	for id := range targets {
		e := s.entries[id]
		// Skip targets that sit under another target; they come with their ancestor.
		if s.hasAncestorInLocked(e, targets) {
			continue
		}
		roots = append(roots, e)
	}
	sortByCreation(roots)
	for _, r := range roots {
		seen[r.ID] = true
		out = append(out, r.Clone())
		out = append(out, s.descendantsLocked(r.ID, seen)...)
	}
	return out
}

// Ancestors returns the ids from the root-level ancestor down to id's parent
func (s *Store) Ancestors(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var path []string
	seen := map[string]bool{id: true}
	e, ok := s.entries[id]
	for ok && e.ParentID != nil {
		pid := *e.ParentID
		if seen[pid] {
			break
		}
		seen[pid] = true
		path = append(path, pid)
		e, ok = s.entries[pid]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// IsDescendant reports whether id sits somewhere below ancestor
func (s *Store) IsDescendant(id, ancestor string) bool {
	for _, a := range s.Ancestors(id) {
		if a == ancestor {
			return true
		}
	}
	return false
}

// Reparent moves id under parent ("" for root). Moving an entry onto itself
// or one of its descendants is rejected.
func (s *Store) Reparent(id, parent string) (*domain.Entry, error) {
	if parent == id || (parent != "" && s.IsDescendant(parent, id)) {
		return nil, fmt.Errorf("reparent %s: %w", id, ErrCycle)
	}
	if parent != "" && !s.Has(parent) {
		return nil, fmt.Errorf("reparent onto %s: %w", parent, ErrNotFound)
	}
	return s.Update(id, func(e *domain.Entry) { e.SetParent(parent) })
}

// Search fuzzy-matches entry text and returns the best matches first
func (s *Store) Search(query string, limit int) []*domain.Entry {
	all := s.All()
	texts := make([]string, len(all))
	for i, e := range all {
		texts[i] = e.Text
	}
	matches := fuzzy.Find(query, texts)
	var out []*domain.Entry
	for _, m := range matches {
		out = append(out, all[m.Index])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Store) descendantsLocked(id string, seen map[string]bool) []*domain.Entry {
	children := make(map[string][]*domain.Entry)
	for _, e := range s.entries {
		if e.ParentID != nil {
			children[*e.ParentID] = append(children[*e.ParentID], e)
		}
	}
	var out []*domain.Entry
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		kids := children[cur]
		sortByCreation(kids)
		for _, k := range kids {
			if seen[k.ID] {
				continue
			}
			seen[k.ID] = true
			out = append(out, k.Clone())
			queue = append(queue, k.ID)
		}
	}
	return out
}

func (s *Store) hasAncestorInLocked(e *domain.Entry, set map[string]bool) bool {
	seen := map[string]bool{e.ID: true}
	for e.ParentID != nil {
		pid := *e.ParentID
		if set[pid] {
			return true
		}
		if seen[pid] {
			return false
		}
		seen[pid] = true
		p, ok := s.entries[pid]
		if !ok {
			return false
		}
		e = p
	}
	return false
}

func sortByCreation(entries []*domain.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
