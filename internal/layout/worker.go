package layout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pbaille/canvas/internal/geom"
)

// Result is the outcome of one organize request
type Result struct {
	Gen       uint64
	Positions map[string]geom.Point
	Err       error
}

// Worker runs Pack on a background goroutine. Each Submit supersedes the
// previous request: the older computation is cancelled and its result is
// never delivered.
type Worker struct {
	log *slog.Logger

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// deliverMu orders deliveries so an older result never lands after a newer one.
	deliverMu sync.Mutex
}

// NewWorker returns an idle worker
func NewWorker(logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{log: logger}
}

// Submit starts packing items and returns the request generation. deliver is
// called from the worker goroutine, only if the request is still current.
func (w *Worker) Submit(ctx context.Context, items []Item, opts Options, deliver func(Result)) uint64 {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.gen++
	gen := w.gen
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	snapshot := append([]Item(nil), items...)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		res := w.compute(ctx, gen, snapshot, opts)
		if res.Err != nil && ctx.Err() != nil {
			return
		}
		w.deliverMu.Lock()
		defer w.deliverMu.Unlock()
		if !w.Current(gen) {
			w.log.Debug("dropping superseded layout", "gen", gen)
			return
		}
		deliver(res)
	}()
	return gen
}

// Current reports whether gen is the latest submitted request
func (w *Worker) Current(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gen == w.gen
}

// Cancel abandons the in-flight request, if any
func (w *Worker) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.gen++
}

// Wait blocks until every started computation has returned
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) compute(ctx context.Context, gen uint64, items []Item, opts Options) (res Result) {
	res.Gen = gen
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("layout worker panicked", "gen", gen, "panic", r)
			res.Positions = nil
			res.Err = fmt.Errorf("layout worker: %v", r)
		}
	}()
	res.Positions, res.Err = PackContext(ctx, items, opts)
	return res
}
