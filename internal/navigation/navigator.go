// Package navigation keeps the stack of entries the user has drilled into,
// decides which entries are visible, and mirrors the stack into history.
package navigation

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/view"
)

// State of the navigator
type State int

const (
	Idle State = iota
	Navigating
	Settled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Navigating:
		return "navigating"
	case Settled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type event int

const (
	evStart event = iota
	evSettle
)

// transitions lists the legal moves; anything else is ignored.
var transitions = map[State]map[event]State{
	Idle:       {evStart: Navigating},
	Navigating: {evStart: Navigating, evSettle: Settled},
	Settled:    {evStart: Navigating},
}

// ErrNavigating is returned for operations refused while a transition is in progress
var ErrNavigating = errors.New("navigation in progress")

// Options wires the navigator to its collaborators
type Options struct {
	Store      *entrystore.Store
	Projection *view.Projection
	History    History
	Clock      clock.Clock
	// Exec serializes timer callbacks onto the owner's event loop.
	Exec func(func())
	// Fit frames the newly visible entries and must call done exactly once.
	Fit func(done func(finished bool))
	// OnSettled is called after every transition settles.
	OnSettled func(view string)

	Owner         string
	SlugLength    int
	SettleTimeout time.Duration
	Logger        *slog.Logger
}

// Navigator owns the navigation stack. Not safe for concurrent use.
type Navigator struct {
	opts     Options
	stack    []string
	state    State
	gen      int
	fallback clock.Timer
}

// New creates a navigator at the root view
func New(opts Options) *Navigator {
	if opts.SlugLength <= 0 {
		opts.SlugLength = DefaultSlugLength
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Navigator{opts: opts, state: Idle}
}

// State returns the current state
func (n *Navigator) State() State { return n.state }

// Busy reports whether a transition is in progress
func (n *Navigator) Busy() bool { return n.state == Navigating }

// Current returns the id of the entry being viewed, "" at root
func (n *Navigator) Current() string {
	if len(n.stack) == 0 {
		return ""
	}
	return n.stack[len(n.stack)-1]
}

// Stack returns a copy of the navigation stack
func (n *Navigator) Stack() []string {
	return append([]string(nil), n.stack...)
}

// Depth returns the length of the stack
func (n *Navigator) Depth() int { return len(n.stack) }

// NavigateInto pushes id and treats it as the new view
func (n *Navigator) NavigateInto(id string) error {
	if !n.opts.Store.Has(id) {
		return fmt.Errorf("navigate into %s: %w", id, entrystore.ErrNotFound)
	}
	if id == n.Current() {
		return nil
	}
	n.stack = append(n.stack, id)
	n.push()
	n.begin()
	return nil
}

// NavigateBack pops levels entries; levels <= 0 or beyond the stack returns to root
func (n *Navigator) NavigateBack(levels int) {
	if levels <= 0 || levels >= len(n.stack) {
		n.stack = nil
	} else {
		n.stack = n.stack[:len(n.stack)-levels]
	}
	n.push()
	n.begin()
}

// NavigateToRoot clears the stack
func (n *Navigator) NavigateToRoot() {
	n.NavigateBack(0)
}

// NavigateToDepth truncates the stack to depth entries (breadcrumb click)
func (n *Navigator) NavigateToDepth(depth int) {
	if depth < 0 {
		depth = 0
	}
	if depth >= len(n.stack) {
		return
	}
	n.NavigateBack(len(n.stack) - depth)
}

// PopState restores the stack after a browser back/forward. The saved state
// is used when every id in it still exists; otherwise the stack is derived
// from the URL path. Unresolvable tails are dropped.
func (n *Navigator) PopState(state *HistoryState, path string) {
	var stack []string
	if state != nil && n.validStack(state.Stack) {
		stack = append([]string(nil), state.Stack...)
	} else {
		stack = n.Resolve(path)
	}
	n.stack = stack
	if n.Path() != strings.TrimRight(path, "/") && n.opts.History != nil {
		n.opts.History.Replace(HistoryState{Stack: n.Stack()}, n.Path())
	}
	n.begin()
}

// Restore sets the stack from a URL path on page load
func (n *Navigator) Restore(path string) {
	n.stack = n.Resolve(path)
	if n.opts.History != nil {
		n.opts.History.Replace(HistoryState{Stack: n.Stack()}, n.Path())
	}
	n.begin()
}

// Resolve maps a path of the form /<owner>/<slug>/... to a stack, stopping
// at the deepest resolvable ancestor.
func (n *Navigator) Resolve(path string) []string {
	segs := splitPath(path)
	if len(segs) > 0 && segs[0] == n.opts.Owner {
		segs = segs[1:]
	}
	var stack []string
	parent := ""
	for _, seg := range segs {
		slugs := SiblingSlugs(n.opts.Store.Children(parent), n.opts.SlugLength)
		next := ""
		for id, s := range slugs {
			if s == seg {
				next = id
				break
			}
		}
		if next == "" {
			n.opts.Logger.Debug("unresolved path segment", "segment", seg, "path", path)
			break
		}
		stack = append(stack, next)
		parent = next
	}
	return stack
}

// SlugOf returns the sibling-unique slug of id
func (n *Navigator) SlugOf(id string) string {
	e, ok := n.opts.Store.Get(id)
	if !ok {
		return ""
	}
	return SiblingSlugs(n.opts.Store.Children(e.Parent()), n.opts.SlugLength)[id]
}

// PathOf returns the URL path that views id
func (n *Navigator) PathOf(id string) string {
	ids := n.opts.Store.Ancestors(id)
	if id != "" {
		ids = append(ids, id)
	}
	return n.pathFor(ids)
}

// Path returns the URL path of the current stack
func (n *Navigator) Path() string {
	return n.pathFor(n.stack)
}

// Crumb is one breadcrumb segment
type Crumb struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Depth int    `json:"depth"`
	Path  string `json:"path"`
}

// Breadcrumb projects the stack into clickable segments; Depth is the value to
// pass to NavigateToDepth.
func (n *Navigator) Breadcrumb() []Crumb {
	crumbs := make([]Crumb, 0, len(n.stack))
	for i, id := range n.stack {
		label := ""
		if e, ok := n.opts.Store.Get(id); ok {
			label = strings.TrimSpace(firstLine(e.Text))
			if label == "" {
				label = baseSlug(e, n.opts.SlugLength)
			}
		}
		crumbs = append(crumbs, Crumb{ID: id, Label: label, Depth: i + 1, Path: n.pathFor(n.stack[:i+1])})
	}
	return crumbs
}

// Refresh recomputes visibility for the current view and returns the visible ids
func (n *Navigator) Refresh() []string {
	if n.opts.Projection == nil {
		return nil
	}
	return n.opts.Projection.ApplyVisibility(n.opts.Store.All(), n.Current())
}

// Prune drops stack entries that no longer exist and returns whether the view changed
func (n *Navigator) Prune() bool {
	for i, id := range n.stack {
		if !n.opts.Store.Has(id) {
			n.stack = n.stack[:i]
			n.push()
			n.begin()
			return true
		}
	}
	return false
}

func (n *Navigator) begin() {
	if !n.fire(evStart) {
		return
	}
	n.gen++
	gen := n.gen
	n.Refresh()

	if n.fallback != nil {
		n.fallback.Stop()
	}
	// Safety net only; the fit animation's completion is the real signal.
	n.fallback = n.opts.Clock.AfterFunc(n.opts.SettleTimeout, func() {
		n.exec(func() {
			if n.settle(gen) {
				n.opts.Logger.Warn("navigation settled by fallback timer", "view", n.Current())
			}
		})
	})

	if n.opts.Fit == nil {
		n.settle(gen)
		return
	}
	n.opts.Fit(func(bool) { n.settle(gen) })
}

func (n *Navigator) settle(gen int) bool {
	if gen != n.gen || n.state != Navigating {
		return false
	}
	if !n.fire(evSettle) {
		return false
	}
	if n.fallback != nil {
		n.fallback.Stop()
		n.fallback = nil
	}
	if n.opts.OnSettled != nil {
		n.opts.OnSettled(n.Current())
	}
	return true
}

func (n *Navigator) fire(ev event) bool {
	next, ok := transitions[n.state][ev]
	if !ok {
		return false
	}
	n.state = next
	return true
}

func (n *Navigator) push() {
	if n.opts.History != nil {
		n.opts.History.Push(HistoryState{Stack: n.Stack()}, n.Path())
	}
}

func (n *Navigator) exec(f func()) {
	if n.opts.Exec != nil {
		n.opts.Exec(f)
		return
	}
	f()
}

func (n *Navigator) validStack(stack []string) bool {
	parent := ""
	for _, id := range stack {
		e, ok := n.opts.Store.Get(id)
		if !ok || e.Parent() != parent {
			return false
		}
		parent = id
	}
	return true
}

func (n *Navigator) pathFor(ids []string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(n.opts.Owner)
	for _, id := range ids {
		b.WriteString("/")
		b.WriteString(n.SlugOf(id))
	}
	return b.String()
}

func splitPath(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
