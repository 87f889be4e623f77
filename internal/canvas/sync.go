package canvas

import (
	"context"
	"fmt"
	"sort"

	"github.com/pbaille/canvas/internal/domain"
)

// Changes lists what a merge applied
type Changes struct {
	Added   []string
	Updated []string
	Removed []string
}

// Empty reports whether the merge changed nothing
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Sync runs one polling round against the backend
func (s *Session) Sync(ctx context.Context) error {
	if err := s.poller.Poll(ctx); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// Mark returns the write sequence to take before fetching a listing that
// will be passed to Merge
func (s *Session) Mark() uint64 {
	return s.persist.Mark()
}

// Merge applies a remote listing of the owner's entries fetched at mark.
// Remote records win when they are newer, except for the entry being edited
// and entries with local writes not yet acknowledged. Local entries missing
// remotely are removed under the same exceptions, and never when they were
// written after mark since the listing may predate them.
func (s *Session) Merge(remote []*domain.Entry, mark uint64) (ch Changes) {
	s.do(func() { ch = s.merge(remote, mark) })
	return ch
}

func (s *Session) merge(remote []*domain.Entry, mark uint64) Changes {
	var ch Changes
	editing := s.editor.Editing()
	protected := func(id string) bool {
		return id == editing || s.persist.Pending(id)
	}

	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if r == nil || r.ID == "" {
			continue
		}
		seen[r.ID] = true
		if protected(r.ID) {
			continue
		}
		local, ok := s.store.Get(r.ID)
		switch {
		case !ok:
			ch.Added = append(ch.Added, r.ID)
		case r.UpdatedAt.After(local.UpdatedAt):
			ch.Updated = append(ch.Updated, r.ID)
		default:
			continue
		}
		s.store.Set(r.Clone())
		e, _ := s.store.Get(r.ID)
		s.proj.Sync(e)
	}

	for _, e := range s.store.All() {
		if seen[e.ID] || protected(e.ID) || s.persist.TouchedSince(e.ID, mark) ||
			(e.OwnerID != "" && e.OwnerID != s.owner) {
			continue
		}
		ch.Removed = append(ch.Removed, e.ID)
	}
	sort.Strings(ch.Removed)
	for _, id := range ch.Removed {
		s.store.Delete(id)
		s.proj.Remove(id)
		s.selection.Remove(id)
	}

	if ch.Empty() {
		return ch
	}
	s.proj.SetSelected(s.selection.Map())
	if !s.nav.Prune() {
		s.nav.Refresh()
	}
	s.log.Debug("merged remote entries", "added", len(ch.Added), "updated", len(ch.Updated), "removed", len(ch.Removed))
	return ch
}
