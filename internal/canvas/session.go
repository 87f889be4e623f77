// Package canvas assembles the workspace: one Session owns every component
// and is the only entry point for user and asynchronous events.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pbaille/canvas/internal/anim"
	"github.com/pbaille/canvas/internal/camera"
	"github.com/pbaille/canvas/internal/clock"
	"github.com/pbaille/canvas/internal/config"
	"github.com/pbaille/canvas/internal/domain"
	"github.com/pbaille/canvas/internal/editor"
	"github.com/pbaille/canvas/internal/embedding"
	"github.com/pbaille/canvas/internal/entrystore"
	"github.com/pbaille/canvas/internal/geom"
	"github.com/pbaille/canvas/internal/interaction"
	"github.com/pbaille/canvas/internal/layout"
	"github.com/pbaille/canvas/internal/navigation"
	"github.com/pbaille/canvas/internal/persist"
	"github.com/pbaille/canvas/internal/selection"
	"github.com/pbaille/canvas/internal/undo"
	"github.com/pbaille/canvas/internal/upload"
	"github.com/pbaille/canvas/internal/view"
)

var (
	// ErrReadOnly is returned for mutations attempted by a read-only viewer
	ErrReadOnly = errors.New("canvas is read-only")
	// ErrEditing is returned for operations refused while the editor holds content
	ErrEditing = errors.New("an edit is in progress")
)

// Options wires a Session to its collaborators. Only Backend is required.
type Options struct {
	Backend persist.Backend
	Viewer  domain.Viewer
	// Config supplies thresholds and limits; the zero value means config.Default().
	Config  config.Config
	Clock   clock.Clock
	History navigation.History

	Links      editor.LinkPreviewer
	Uploader   upload.Uploader
	Embedder   embedding.Embedder
	Embeddings embedding.Cache
	Confirm    editor.Confirmer

	Measurer *view.Measurer
	// Viewport is the screen size in pixels.
	Viewport geom.Point
	// Go starts background work; defaults to a goroutine.
	Go   func(func())
	Rand *rand.Rand
	// LayoutDuration is how long organize and align animate.
	LayoutDuration time.Duration
	Logger         *slog.Logger
}

// Session is the application state. Every exported method is safe for
// concurrent use; timers, animations and background results re-enter
// through an internal queue and run one at a time.
type Session struct {
	opts  Options
	cfg   config.Config
	owner string
	log   *slog.Logger

	mu    sync.Mutex
	qmu   sync.Mutex
	queue []func()

	clock     clock.Clock
	animator  *anim.Animator
	camera    *camera.Camera
	store     *entrystore.Store
	proj      *view.Projection
	selection *selection.Set
	undo      *undo.Stack
	replayer  *undo.Replayer
	persist   *persist.Client
	nav       *navigation.Navigator
	editor    *editor.Editor
	router    *interaction.Router
	worker    *layout.Worker
	poller    *persist.Poller

	viewport geom.Point
	// deferred is set when a commit was refused mid-navigation and must be
	// retried once the view settles.
	deferred bool
	motion   *motion
}

// New builds a session and every component it owns
func New(opts Options) *Session {
	if opts.Config.Undo.Size == 0 {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Go == nil {
		opts.Go = func(f func()) { go f() }
	}
	if opts.LayoutDuration <= 0 {
		opts.LayoutDuration = 300 * time.Millisecond
	}
	if opts.History == nil {
		opts.History = navigation.NewMemoryHistory("/")
	}
	m := view.DefaultMeasurer()
	if opts.Measurer != nil {
		m = *opts.Measurer
	}
	cfg := opts.Config
	owner := opts.Viewer.OwnerID
	if owner == "" {
		owner = cfg.Owner
	}

	s := &Session{
		opts:     opts,
		cfg:      cfg,
		owner:    owner,
		log:      opts.Logger.With("owner", owner),
		clock:    opts.Clock,
		viewport: opts.Viewport,
	}

	s.animator = &anim.Animator{Clock: opts.Clock, Exec: s.post}
	camCfg := camera.DefaultConfig()
	camCfg.MinZoom = cfg.Camera.MinZoom
	camCfg.MaxZoom = cfg.Camera.MaxZoom
	camCfg.FitPadding = cfg.Camera.FitPadding
	camCfg.FitMaxZoom = cfg.Camera.FitMaxZoom
	camCfg.FitDuration = cfg.Camera.FitDuration
	s.camera = camera.New(camCfg, s.animator)

	s.store = entrystore.New()
	s.proj = view.NewProjection(m)
	s.selection = selection.New()
	s.undo = undo.NewStack(cfg.Undo.Size)
	s.persist = persist.New(opts.Backend, persist.Options{
		Retries: cfg.Persist.Retries,
		Backoff: cfg.Persist.Backoff,
		Logger:  s.log,
	})
	s.replayer = &undo.Replayer{Store: s.store, Persist: s.persist, Now: opts.Clock.Now, Logger: s.log}

	s.nav = navigation.New(navigation.Options{
		Store:         s.store,
		Projection:    s.proj,
		History:       opts.History,
		Clock:         opts.Clock,
		Exec:          s.post,
		Fit:           s.fit,
		OnSettled:     s.settled,
		Owner:         owner,
		SlugLength:    cfg.Navigation.SlugLength,
		SettleTimeout: cfg.Navigation.SettleTimeout,
		Logger:        s.log,
	})

	s.editor = editor.New(editor.Options{
		Store:      s.store,
		Projection: s.proj,
		Undo:       s.undo,
		Persist:    s.persist,
		Links:      opts.Links,
		Confirm:    opts.Confirm,
		Clock:      opts.Clock,
		Exec:       s.post,
		Go:         opts.Go,
		View:       s.nav.Current,
		Busy:       s.nav.Busy,
		Viewport:   s.viewportWorld,
		Owner:      owner,
		Rand:       opts.Rand,
		Logger:     s.log,
	})

	s.router = interaction.New(interaction.Options{
		Store:             s.store,
		Projection:        s.proj,
		Camera:            s.camera,
		Selection:         s.selection,
		Undo:              s.undo,
		Persist:           s.persist,
		Host:              host{s},
		Clock:             opts.Clock,
		Exec:              s.post,
		ClickDistance:     cfg.Interaction.ClickDistance,
		ClickTime:         cfg.Interaction.ClickTime,
		DoubleClickWindow: cfg.Interaction.DoubleClickWindow,
		SaveDebounce:      cfg.Interaction.SaveDebounce,
		Logger:            s.log,
	})

	s.worker = layout.NewWorker(s.log)
	s.poller = &persist.Poller{
		Backend:  opts.Backend,
		Owner:    owner,
		Interval: cfg.Persist.PollInterval,
		Mark:     s.persist.Mark,
		Apply: func(entries []*domain.Entry, mark uint64) {
			s.post(func() { s.merge(entries, mark) })
		},
		Logger: s.log,
	}
	return s
}

// post queues f to run under the session lock. If no one holds the lock the
// caller drains the queue itself; otherwise the holder runs f before
// releasing it.
func (s *Session) post(f func()) {
	s.qmu.Lock()
	s.queue = append(s.queue, f)
	s.qmu.Unlock()
	s.drain()
}

func (s *Session) drain() {
	for {
		if !s.mu.TryLock() {
			return
		}
		s.runQueued()
		s.mu.Unlock()

		s.qmu.Lock()
		empty := len(s.queue) == 0
		s.qmu.Unlock()
		if empty {
			return
		}
	}
}

func (s *Session) runQueued() {
	for {
		s.qmu.Lock()
		if len(s.queue) == 0 {
			s.qmu.Unlock()
			return
		}
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.qmu.Unlock()
		f()
	}
}

// do runs f under the session lock, then everything it queued
func (s *Session) do(f func()) {
	s.mu.Lock()
	f()
	s.runQueued()
	s.mu.Unlock()
	s.drain()
}

// Start polls the backend for remote changes until ctx ends
func (s *Session) Start(ctx context.Context) {
	go s.poller.Run(ctx)
}

// Close commits any edit in progress, stops background work and flushes
// queued writes
func (s *Session) Close(ctx context.Context) error {
	s.do(func() {
		s.router.Cancel()
		s.landMotion()
		if _, err := s.editor.Blur(); err != nil {
			s.log.Warn("commit on close failed", "err", err)
		}
	})
	s.worker.Cancel()
	s.worker.Wait()
	if err := s.persist.Close(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

// Load fetches the owner's entries and restores the view named by path
func (s *Session) Load(ctx context.Context, path string) error {
	entries, err := s.opts.Backend.ListEntries(ctx, s.owner)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	s.do(func() {
		s.store.Replace(entries)
		s.proj.Reset()
		for _, e := range s.store.All() {
			s.proj.Sync(e)
		}
		s.selection.Clear()
		s.nav.Restore(path)
		s.log.Info("canvas loaded", "entries", len(entries), "path", s.nav.Path())
	})
	return nil
}

// Resize records the screen size
func (s *Session) Resize(viewport geom.Point) {
	s.do(func() { s.viewport = viewport })
}

func (s *Session) readOnly() bool { return s.opts.Viewer.ReadOnly }

func (s *Session) viewportWorld() geom.Rect {
	return s.camera.ViewportWorld(s.viewport)
}

// fit frames the visible entries; navigation settles when it lands
func (s *Session) fit(done func(finished bool)) {
	var rects []geom.Rect
	for _, h := range s.proj.Visible() {
		rects = append(rects, h.Rect())
	}
	s.camera.FitToContent(rects, s.viewport, done)
}

func (s *Session) settled(viewID string) {
	s.log.Debug("view settled", "view", viewID, "path", s.nav.Path())
	if s.deferred {
		s.deferred = false
		if res, err := s.editor.Commit(); err != nil {
			s.log.Warn("deferred commit failed", "err", err)
		} else {
			s.log.Debug("deferred commit applied", "entry_id", res.ID)
		}
	}
	if !s.editor.Active() && s.selection.Empty() {
		s.editor.ShowAt(s.editor.PlaceCursor(nil))
	}
}

// host adapts the session to the router's callbacks. They run with the
// session lock already held.
type host struct{ s *Session }

func (h host) ReadOnly() bool { return h.s.readOnly() }

func (h host) ClickCanvas(world geom.Point) { h.s.clickCanvas(world) }

func (h host) Open(id string) {
	if err := h.s.open(id); err != nil {
		h.s.log.Debug("open entry failed", "entry_id", id, "err", err)
	}
}

func (h host) NavigateInto(id string) {
	if err := h.s.navigateInto(id); err != nil {
		h.s.log.Debug("navigate into failed", "entry_id", id, "err", err)
	}
}

func (h host) SelectionChanged() { h.s.selectionChanged() }

// open starts editing id. Selection and editing are exclusive, so the
// selection is dropped first.
func (s *Session) open(id string) error {
	s.clearSelection()
	return s.editor.Open(id)
}

func (s *Session) clickCanvas(world geom.Point) {
	if !s.editor.Click(world) {
		return
	}
	if s.editor.Active() {
		s.commitWith(s.editor.Blur)
	}
}

func (s *Session) selectionChanged() {
	if s.selection.Empty() {
		return
	}
	if s.editor.Active() {
		s.commitWith(s.editor.Blur)
	}
	if !s.editor.Active() {
		s.editor.Hide()
	}
}

// commitWith runs a commit path, remembering a refusal caused by navigation
// so it can be retried when the view settles
func (s *Session) commitWith(commit func() (editor.Result, error)) (editor.Result, error) {
	res, err := commit()
	if errors.Is(err, editor.ErrNavigating) {
		s.deferred = true
		s.log.Debug("commit deferred until navigation settles")
	}
	return res, err
}
