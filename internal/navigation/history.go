package navigation

import "sync"

// HistoryState is stored with each history entry so back/forward can restore
// the navigation stack without re-deriving it from the URL.
type HistoryState struct {
	Stack []string `json:"stack"`
}

// History is the browser history surface the navigator writes to
type History interface {
	Push(state HistoryState, path string)
	Replace(state HistoryState, path string)
}

// HistoryEntry is one record of MemoryHistory
type HistoryEntry struct {
	State HistoryState
	Path  string
}

// MemoryHistory is an in-process History with back/forward support
type MemoryHistory struct {
	mu      sync.Mutex
	entries []HistoryEntry
	index   int
}

// NewMemoryHistory starts a history at path
func NewMemoryHistory(path string) *MemoryHistory {
	return &MemoryHistory{entries: []HistoryEntry{{Path: path}}}
}

// Push records a new entry and drops any forward entries
func (h *MemoryHistory) Push(state HistoryState, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:h.index+1], HistoryEntry{State: copyState(state), Path: path})
	h.index = len(h.entries) - 1
}

// Replace overwrites the current entry
func (h *MemoryHistory) Replace(state HistoryState, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = HistoryEntry{State: copyState(state), Path: path}
}

// Back moves one entry back and returns it, like a popstate event
func (h *MemoryHistory) Back() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == 0 {
		return HistoryEntry{}, false
	}
	h.index--
	return h.entries[h.index], true
}

// Forward moves one entry forward and returns it
func (h *MemoryHistory) Forward() (HistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index >= len(h.entries)-1 {
		return HistoryEntry{}, false
	}
	h.index++
	return h.entries[h.index], true
}

// Current returns the active entry
func (h *MemoryHistory) Current() HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index]
}

// Len returns the number of recorded entries
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func copyState(s HistoryState) HistoryState {
	return HistoryState{Stack: append([]string(nil), s.Stack...)}
}
