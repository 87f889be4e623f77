// Package selection tracks the set of selected entries and the rubber-band box.
package selection

import (
	"sort"

	"github.com/pbaille/canvas/internal/geom"
)

// Set is the current selection. Not safe for concurrent use.
type Set struct {
	ids map[string]bool

	banding bool
	origin  geom.Point
	corner  geom.Point
	base    map[string]bool
}

// New returns an empty selection
func New() *Set {
	return &Set{ids: make(map[string]bool)}
}

// Has reports whether id is selected
func (s *Set) Has(id string) bool { return s.ids[id] }

// Len returns the number of selected entries
func (s *Set) Len() int { return len(s.ids) }

// Empty reports whether nothing is selected
func (s *Set) Empty() bool { return len(s.ids) == 0 }

// IDs returns the selected ids in sorted order
func (s *Set) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Map returns a copy of the selection as a set
func (s *Set) Map() map[string]bool {
	out := make(map[string]bool, len(s.ids))
	for id := range s.ids {
		out[id] = true
	}
	return out
}

// Add selects id
func (s *Set) Add(id string) { s.ids[id] = true }

// Remove deselects id
func (s *Set) Remove(id string) { delete(s.ids, id) }

// Toggle flips id (modifier-click)
func (s *Set) Toggle(id string) {
	if s.ids[id] {
		delete(s.ids, id)
		return
	}
	s.ids[id] = true
}

// Only replaces the selection with id
func (s *Set) Only(id string) {
	s.ids = map[string]bool{id: true}
}

// Clear empties the selection and abandons any band
func (s *Set) Clear() {
	s.ids = make(map[string]bool)
	s.banding = false
	s.base = nil
}

// Retain drops ids for which keep returns false
func (s *Set) Retain(keep func(id string) bool) {
	for id := range s.ids {
		if !keep(id) {
			delete(s.ids, id)
		}
	}
}

// StartBand begins a rubber-band gesture at world point p. Entries already
// selected stay selected for the whole gesture.
func (s *Set) StartBand(p geom.Point) {
	s.banding = true
	s.origin = p
	s.corner = p
	s.base = s.Map()
}

// Banding reports whether a rubber-band gesture is active
func (s *Set) Banding() bool { return s.banding }

// Band returns the current rubber-band rectangle in world coordinates
func (s *Set) Band() (geom.Rect, bool) {
	if !s.banding {
		return geom.Rect{}, false
	}
	return geom.RectFromPoints(s.origin, s.corner), true
}

// UpdateBand moves the band corner to p and selects every box intersecting
// the band. Touching edges or corners count as intersecting.
func (s *Set) UpdateBand(p geom.Point, boxes map[string]geom.Rect) {
	if !s.banding {
		return
	}
	s.corner = p
	band := geom.RectFromPoints(s.origin, s.corner)
	next := make(map[string]bool, len(s.base)+len(boxes))
	for id := range s.base {
		next[id] = true
	}
	for id, r := range boxes {
		if band.Intersects(r) {
			next[id] = true
		}
	}
	s.ids = next
}

// EndBand finishes the gesture, keeping the selection
func (s *Set) EndBand() {
	s.banding = false
	s.base = nil
}
