// Package editor owns the text cursor and the single commit path that turns
// editor content into created, updated or deleted entries.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/fetcher"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/undo"
	"github.com/pbaille/canvas/internal/view"
)

// State of the editor
type State int

const (
	Hidden State = iota
	IdleCursor
	EditingNew
	EditingExisting
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case IdleCursor:
		return "idle_cursor"
	case EditingNew:
		return "editing_new"
	case EditingExisting:
		return "editing_existing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type event int

const (
	evShow event = iota
	evHide
	evBeginNew
	evOpen
	evFinish
)

var transitions = map[State]map[event]State{
	Hidden:          {evShow: IdleCursor, evHide: Hidden, evBeginNew: EditingNew, evOpen: EditingExisting},
	IdleCursor:      {evShow: IdleCursor, evHide: Hidden, evBeginNew: EditingNew, evOpen: EditingExisting},
	EditingNew:      {evFinish: IdleCursor},
	EditingExisting: {evFinish: IdleCursor},
}

var (
	// ErrBusy is returned when a commit is already in flight
	ErrBusy = errors.New("commit already in progress")
	// ErrNavigating is returned when a commit would land in a view that is about to change
	ErrNavigating = errors.New("navigation in progress")
)

// Outcome is what a commit did
type Outcome int

const (
	Noop Outcome = iota
	Created
	Updated
	Deleted
	Duplicate
	Kept
	Cancelled
)

// Result describes a finished commit
type Result struct {
	Outcome Outcome
	ID      string
	// Removed lists every deleted id, parents first.
	Removed []string
}

// Confirmer asks the user before a destructive operation
type Confirmer interface {
	Confirm(message string) bool
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(message string) bool

// Confirm calls f
func (f ConfirmFunc) Confirm(message string) bool { return f(message) }

// LinkPreviewer fetches link card metadata
type LinkPreviewer interface {
	Preview(ctx context.Context, url string) (*domain.LinkCard, error)
}

// Options wires the editor to its collaborators
type Options struct {
	Store      *entrystore.Store
	Projection *view.Projection
	Undo       *undo.Stack
	Persist    undo.Persister
	Links      LinkPreviewer
	Confirm    Confirmer
	Clock      clock.Clock
	// Exec serializes asynchronous completions onto the owner's event loop.
	Exec func(func())
	// Go starts background work; defaults to a goroutine.
	Go func(func())
	// View returns the id of the entry being viewed, "" at root.
	View func() string
	// Busy reports whether a navigation transition is in progress.
	Busy func() bool
	// Viewport returns the visible world rectangle.
	Viewport func() geom.Rect

	Owner        string
	RecentClick  time.Duration
	Candidates   int
	Clearance    float64
	FetchTimeout time.Duration
	Rand         *rand.Rand
	Logger       *slog.Logger
}

// Editor is the editing surface. Not safe for concurrent use.
type Editor struct {
	opts Options

	state   State
	editing string
	cursor  geom.Point
	text    string
	rich    *domain.RichContent
	dirty   bool
	// committing guards against a second commit while one is running.
	committing bool

	editStart   time.Time
	preEdit     *geom.Point
	lastClick   geom.Point
	lastClickAt time.Time
	hasClick    bool
}

// New creates a hidden editor
func New(opts Options) *Editor {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.RecentClick <= 0 {
		opts.RecentClick = 1500 * time.Millisecond
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 24
	}
	if opts.Clearance <= 0 {
		opts.Clearance = 8
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Go == nil {
		opts.Go = func(f func()) { go f() }
	}
	return &Editor{opts: opts}
}

// State returns the current state
func (e *Editor) State() State { return e.state }

// Editing returns the id of the entry being edited, if any
func (e *Editor) Editing() string { return e.editing }

// Active reports whether the editor holds content being edited
func (e *Editor) Active() bool {
	return e.state == EditingNew || e.state == EditingExisting
}

// Cursor returns the caret position and whether it is shown
func (e *Editor) Cursor() (geom.Point, bool) {
	return e.cursor, e.state != Hidden
}

// Content returns the text currently in the editing surface
func (e *Editor) Content() (string, *domain.RichContent) {
	return e.text, e.rich
}

// Dirty reports whether the content changed since editing began
func (e *Editor) Dirty() bool { return e.dirty }

// Click records a click on empty canvas and moves the idle cursor there.
// Clicks during navigation are dropped.
func (e *Editor) Click(p geom.Point) bool {
	if e.busy() {
		return false
	}
	e.lastClick = p
	e.lastClickAt = e.opts.Clock.Now()
	e.hasClick = true
	if !e.Active() {
		e.show(p)
	}
	return true
}

// ShowAt places the idle cursor at p
func (e *Editor) ShowAt(p geom.Point) {
	if e.Active() {
		return
	}
	e.show(p)
}

// Hide hides the idle cursor, e.g. while a selection is active
func (e *Editor) Hide() {
	e.fire(evHide)
}

// Input replaces the editor content. Typing at the idle cursor starts a new entry.
func (e *Editor) Input(text string, rich *domain.RichContent) {
	if !e.Active() {
		if e.state == Hidden {
			e.cursor = e.PlaceCursor(nil)
		}
		if !e.fire(evBeginNew) {
			return
		}
		e.editStart = e.opts.Clock.Now()
		e.preEdit = nil
	}
	e.text = text
	e.rich = cloneRich(rich)
	e.dirty = true
}

// Observe records content read back from the editing surface without
// counting it as a user edit
func (e *Editor) Observe(text string, rich *domain.RichContent) {
	if !e.Active() {
		return
	}
	e.text = text
	e.rich = cloneRich(rich)
}

// Open starts editing an existing entry. Any edit in progress is committed first.
func (e *Editor) Open(id string) error {
	if e.Active() {
		if e.editing == id {
			return nil
		}
		if _, err := e.Blur(); err != nil && !errors.Is(err, ErrBusy) {
			return err
		}
	}
	ent, ok := e.opts.Store.Get(id)
	if !ok {
		return fmt.Errorf("open %s: %w", id, entrystore.ErrNotFound)
	}
	if e.state != Hidden {
		p := e.cursor
		e.preEdit = &p
	} else {
		e.preEdit = nil
	}
	if !e.fire(evOpen) {
		return fmt.Errorf("open %s from %s", id, e.state)
	}
	e.editing = id
	e.text = ent.Text
	e.rich = cloneRich(ent.Rich)
	e.dirty = false
	e.editStart = e.opts.Clock.Now()
	e.cursor = geom.Point{X: ent.Position.X, Y: ent.Position.Y}
	if e.opts.Projection != nil {
		e.opts.Projection.SetEditing(id)
	}
	return nil
}

// Escape abandons the edit. The cursor follows the usual placement order,
// with the caret of an unsaved new entry standing in for the pre-edit spot.
func (e *Editor) Escape() {
	if !e.Active() {
		e.fire(evHide)
		return
	}
	var former *geom.Rect
	if e.state == EditingExisting {
		if h, ok := e.handle(e.editing); ok {
			b := h.Box
			former = &b
		}
	}
	if e.state == EditingNew {
		p := e.cursor
		e.preEdit = &p
	}
	e.finish(former)
}

// Blur handles loss of focus. Non-empty content is committed. Empty content
// only deletes an existing entry when the user actually cleared it: an
// unmodified editor reading empty over persisted text is a stale read, and
// the entry is kept.
func (e *Editor) Blur() (Result, error) {
	if !e.Active() || e.committing {
		return Result{}, nil
	}
	if isEmpty(e.text, e.rich) {
		switch e.state {
		case EditingNew:
			e.finish(nil)
			return Result{Outcome: Noop}, nil
		case EditingExisting:
			if ent, ok := e.opts.Store.Get(e.editing); ok && !e.dirty && strings.TrimSpace(ent.Text) != "" {
				e.opts.Logger.Debug("blur read empty editor over saved text, keeping entry", "entry_id", ent.ID)
				id := ent.ID
				e.finishWithBox(id)
				return Result{Outcome: Kept, ID: id}, nil
			}
		}
	}
	return e.Commit()
}

// Commit is the single commit path for Enter, blur and programmatic saves
func (e *Editor) Commit() (res Result, err error) {
	if e.committing {
		return Result{}, ErrBusy
	}
	if !e.Active() {
		return Result{}, nil
	}
	e.committing = true
	defer func() { e.committing = false }()

	if e.state == EditingExisting {
		return e.commitExisting()
	}
	return e.commitNew()
}

func (e *Editor) commitExisting() (Result, error) {
	id := e.editing
	ent, ok := e.opts.Store.Get(id)
	if !ok {
		e.finish(nil)
		return Result{Outcome: Noop, ID: id}, nil
	}
	text := strings.TrimSpace(e.text)
	rich := cloneRich(e.rich)
	if rich != nil && isEmpty("", rich) {
		rich = nil
	}
	if text == "" && rich != nil {
		text = PlainText(rich)
	}

	if text == "" && rich == nil {
		if ent.HasPayload() {
			e.finishWithBox(id)
			return Result{Outcome: Kept, ID: id}, nil
		}
		return e.deleteEntry(ent)
	}

	if text == ent.Text && sameRich(rich, ent.Rich) {
		e.finishWithBox(id)
		return Result{Outcome: Kept, ID: id}, nil
	}

	snap := undo.SnapshotOf(ent)
	now := e.opts.Clock.Now()
	updated, err := e.opts.Store.Update(id, func(x *domain.Entry) {
		x.Text = text
		x.Rich = rich
		x.UpdatedAt = now
	})
	if err != nil {
		e.finish(nil)
		return Result{Outcome: Noop, ID: id}, nil
	}
	e.sync(updated)
	e.save(updated)
	if e.opts.Undo != nil {
		e.opts.Undo.Push(undo.Record{Action: undo.Edit, Timestamp: now, Edits: []undo.Snapshot{snap}})
	}
	e.fetchLinks(updated)
	e.finishWithBox(id)
	return Result{Outcome: Updated, ID: id}, nil
}

func (e *Editor) deleteEntry(ent *domain.Entry) (Result, error) {
	var former *geom.Rect
	if b, ok := e.box(ent.ID); ok {
		former = &b
	}
	if n := len(e.opts.Store.Descendants(ent.ID)); n > 0 && e.opts.Confirm != nil {
		if !e.opts.Confirm.Confirm(fmt.Sprintf("Delete this entry and its %d nested %s?", n, plural(n, "entry", "entries"))) {
			e.finishWithBox(ent.ID)
			return Result{Outcome: Cancelled, ID: ent.ID}, nil
		}
	}
	removed := RemoveSubtree(e.opts.Store, e.opts.Projection, e.opts.Persist, []string{ent.ID})
	if e.opts.Undo != nil && len(removed) > 0 {
		e.opts.Undo.Push(undo.Record{Action: undo.Delete, Timestamp: e.opts.Clock.Now(), Entries: removed})
	}
	ids := make([]string, len(removed))
	for i, r := range removed {
		ids[i] = r.ID
	}
	e.finish(former)
	return Result{Outcome: Deleted, ID: ent.ID, Removed: ids}, nil
}

func (e *Editor) commitNew() (Result, error) {
	text := strings.TrimSpace(e.text)
	rich := cloneRich(e.rich)
	if rich != nil && isEmpty("", rich) {
		rich = nil
	}
	if text == "" && rich != nil {
		text = PlainText(rich)
	}
	if text == "" && rich == nil {
		e.finish(nil)
		return Result{Outcome: Noop}, nil
	}
	if e.busy() {
		return Result{}, ErrNavigating
	}

	parent := e.view()
	if dup, ok := e.opts.Store.FindDuplicate(text, parent, ""); ok {
		e.opts.Logger.Debug("skipping duplicate entry", "text", text, "existing_id", dup.ID)
		e.finish(nil)
		return Result{Outcome: Duplicate, ID: dup.ID}, nil
	}

	now := e.opts.Clock.Now()
	ent := &domain.Entry{
		ID:        domain.NewID(),
		OwnerID:   e.opts.Owner,
		Position:  domain.Position{X: e.cursor.X, Y: e.cursor.Y},
		Text:      text,
		Rich:      rich,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ent.SetParent(parent)
	e.opts.Store.Set(ent)
	if h := e.sync(ent); h != nil {
		h.Visible = true
	}
	e.save(ent)
	if e.opts.Undo != nil {
		e.opts.Undo.Push(undo.Record{Action: undo.Create, Timestamp: now, Entries: []*domain.Entry{ent.Clone()}})
	}
	e.fetchLinks(ent)
	e.finishWithBox(ent.ID)
	return Result{Outcome: Created, ID: ent.ID}, nil
}

// fetchLinks previews URLs in the entry text that have no card yet and
// appends each card when it arrives. Failures leave the plain text alone.
func (e *Editor) fetchLinks(ent *domain.Entry) {
	if e.opts.Links == nil {
		return
	}
	var urls []string
	for _, u := range fetcher.ExtractURLs(ent.Text) {
		if !ent.HasLink(fetcher.Canonical(u)) {
			urls = append(urls, u)
		}
	}
	id := ent.ID
	for _, u := range urls {
		u := u
		e.opts.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.opts.FetchTimeout)
			defer cancel()
			card, err := e.opts.Links.Preview(ctx, u)
			if err != nil || card == nil {
				e.opts.Logger.Debug("link preview unavailable", "entry_id", id, "url", u, "err", err)
				return
			}
			e.exec(func() { e.attachLink(id, *card) })
		})
	}
}

func (e *Editor) attachLink(id string, card domain.LinkCard) {
	if card.URL == "" {
		return
	}
	added := false
	updated, err := e.opts.Store.Update(id, func(x *domain.Entry) {
		if x.HasLink(card.URL) {
			return
		}
		x.Links = append(x.Links, card)
		x.UpdatedAt = e.opts.Clock.Now()
		added = true
	})
	if err != nil || !added {
		return
	}
	e.sync(updated)
	e.save(updated)
}

// RemoveSubtree deletes ids and every descendant from the store, projection
// and backend, children first. It returns the removed entries parent-first.
func RemoveSubtree(store *entrystore.Store, proj *view.Projection, persist undo.Persister, ids []string) []*domain.Entry {
	removed := store.Subtree(ids)
	for i := len(removed) - 1; i >= 0; i-- {
		id := removed[i].ID
		store.Delete(id)
		if proj != nil {
			proj.Remove(id)
		}
		if persist != nil {
			persist.Delete(id)
		}
	}
	return removed
}

func (e *Editor) finishWithBox(id string) {
	b, ok := e.box(id)
	if !ok {
		e.finish(nil)
		return
	}
	e.finish(&b)
}

// finish leaves editing and shows the cursor at its default position
func (e *Editor) finish(former *geom.Rect) {
	if e.opts.Projection != nil {
		e.opts.Projection.SetEditing("")
	}
	e.fire(evFinish)
	e.editing = ""
	e.text = ""
	e.rich = nil
	e.dirty = false
	e.cursor = e.PlaceCursor(former)
	e.preEdit = nil
}

func (e *Editor) show(p geom.Point) {
	if e.fire(evShow) {
		e.cursor = p
	}
}

func (e *Editor) fire(ev event) bool {
	next, ok := transitions[e.state][ev]
	if !ok {
		return false
	}
	e.state = next
	return true
}

func (e *Editor) handle(id string) (*view.Handle, bool) {
	if e.opts.Projection == nil {
		return nil, false
	}
	return e.opts.Projection.Get(id)
}

func (e *Editor) box(id string) (geom.Rect, bool) {
	if h, ok := e.handle(id); ok {
		return h.Rect(), true
	}
	if ent, ok := e.opts.Store.Get(id); ok && e.opts.Projection != nil {
		return e.opts.Projection.Measure.Box(ent), true
	}
	return geom.Rect{}, false
}

func (e *Editor) sync(ent *domain.Entry) *view.Handle {
	if e.opts.Projection == nil {
		return nil
	}
	return e.opts.Projection.Sync(ent)
}

func (e *Editor) save(ent *domain.Entry) {
	if e.opts.Persist != nil {
		e.opts.Persist.Save(ent)
	}
}

func (e *Editor) exec(f func()) {
	if e.opts.Exec != nil {
		e.opts.Exec(f)
		return
	}
	f()
}

func (e *Editor) view() string {
	if e.opts.View == nil {
		return ""
	}
	return e.opts.View()
}

func (e *Editor) busy() bool {
	return e.opts.Busy != nil && e.opts.Busy()
}

func isEmpty(text string, rich *domain.RichContent) bool {
	if strings.TrimSpace(text) != "" {
		return false
	}
	return rich == nil || PlainText(rich) == ""
}

func sameRich(a, b *domain.RichContent) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneRich(r *domain.RichContent) *domain.RichContent {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
