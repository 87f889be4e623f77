// Package persist is the asynchronous persistence client that sits between
// the canvas session and the CRUD backend.
//
// Writes are queued and coalesced per entry id (the newest write wins), sent
// by a single worker in submission order, and retried with backoff. Every
// backend call is an idempotent upsert or delete keyed by id, so a retried
// call cannot corrupt state. Local state is never rolled back on failure.
package persist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pbaille/canvas/internal/domain"
)

// Backend is the CRUD collaborator
type Backend interface {
	CreateOrUpdateEntry(ctx context.Context, e *domain.Entry) (*domain.Entry, error)
	DeleteEntry(ctx context.Context, id string) error
	BatchUpsert(ctx context.Context, es []*domain.Entry) ([]*domain.Entry, error)
	ListEntries(ctx context.Context, owner string) ([]*domain.Entry, error)
}

// Options tunes the client
type Options struct {
	Retries int
	Backoff time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
	// OnError is called once per operation that exhausted its retries.
	OnError func(id string, err error)
}

type opKind int

const (
	opSave opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	entry *domain.Entry
}

// Status summarizes the client queue
type Status struct {
	Pending int      `json:"pending"`
	Failed  []string `json:"failed,omitempty"`
}

// Client queues writes to a Backend
type Client struct {
	backend Backend
	opts    Options
	log     *slog.Logger

	mu       sync.Mutex
	order    []string
	pending  map[string]op
	inflight map[string]bool
	failed   map[string]op
	idle     *sync.Cond
	wake     chan struct{}
	done     chan struct{}
	closed   bool
	wg       sync.WaitGroup

	// seq advances on every enqueue and every completed send; touched
	// holds the latest value per id.
	seq     uint64
	touched map[string]uint64
}

// New starts a client and its worker
func New(backend Backend, opts Options) *Client {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		backend:  backend,
		opts:     opts,
		log:      log,
		pending:  make(map[string]op),
		inflight: make(map[string]bool),
		failed:   make(map[string]op),
		touched:  make(map[string]uint64),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	c.wg.Add(1)
	go c.run()
	return c
}

// Save queues an upsert of e
func (c *Client) Save(e *domain.Entry) {
	if e == nil {
		return
	}
	c.enqueue(e.ID, op{kind: opSave, entry: e.Clone()})
}

// SaveBatch queues upserts for every entry; they are sent as one batch call
// when they are pending together.
func (c *Client) SaveBatch(es []*domain.Entry) {
	for _, e := range es {
		c.Save(e)
	}
}

// Delete queues a delete of id
func (c *Client) Delete(id string) {
	c.enqueue(id, op{kind: opDelete})
}

// Pending reports whether id has an unsent or failed write
func (c *Client) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, queued := c.pending[id]
	_, failed := c.failed[id]
	return queued || failed || c.inflight[id]
}

// Mark returns the current write sequence. Take it before fetching a
// listing and pass it to TouchedSince when applying that listing.
func (c *Client) Mark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// TouchedSince reports whether a write for id was queued or completed after
// mark. A listing fetched at mark may not reflect such a write.
func (c *Client) TouchedSince(id string, mark uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched[id] > mark
}

func (c *Client) touchLocked(id string) {
	c.seq++
	c.touched[id] = c.seq
}

// Status returns the queue length and ids whose writes gave up
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{Pending: len(c.pending) + len(c.inflight)}
	for id := range c.failed {
		s.Failed = append(s.Failed, id)
	}
	return s
}

// RetryFailed re-queues writes that previously exhausted their retries
func (c *Client) RetryFailed() int {
	c.mu.Lock()
	failed := c.failed
	c.failed = make(map[string]op)
	c.mu.Unlock()
	for id, o := range failed {
		c.enqueueIfAbsent(id, o)
	}
	return len(failed)
}

// Flush blocks until every queued write has been attempted or ctx ends
func (c *Client) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.idle.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 || len(c.inflight) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		c.idle.Wait()
	}
	return nil
}

// Close flushes outstanding writes and stops the worker
func (c *Client) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return err
}

func (c *Client) enqueue(id string, o op) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Warn("write after close dropped", "entry_id", id)
		return
	}
	if _, ok := c.pending[id]; !ok {
		c.order = append(c.order, id)
	}
	c.pending[id] = o
	delete(c.failed, id)
	c.touchLocked(id)
	c.mu.Unlock()
	c.signal()
}

func (c *Client) enqueueIfAbsent(id string, o op) {
	c.mu.Lock()
	if _, ok := c.pending[id]; ok || c.closed {
		c.mu.Unlock()
		return
	}
	c.order = append(c.order, id)
	c.pending[id] = o
	c.touchLocked(id)
	c.mu.Unlock()
	c.signal()
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for c.drain() {
		}
	}
}

// drain sends everything currently queued. It reports whether it did any work.
func (c *Client) drain() bool {
	c.mu.Lock()
	if len(c.order) == 0 {
		c.mu.Unlock()
		return false
	}
	ids := c.order
	batch := make(map[string]op, len(ids))
	for _, id := range ids {
		batch[id] = c.pending[id]
		c.inflight[id] = true
		delete(c.pending, id)
	}
	c.order = nil
	c.mu.Unlock()

	var saves []*domain.Entry
	for _, id := range ids {
		o := batch[id]
		if o.kind == opDelete {
			c.attempt(id, o, func(ctx context.Context) error {
				return c.backend.DeleteEntry(ctx, id)
			})
			continue
		}
		saves = append(saves, o.entry)
	}
	c.sendSaves(saves, batch)

	c.mu.Lock()
	for _, id := range ids {
		delete(c.inflight, id)
		c.touchLocked(id)
	}
	c.idle.Broadcast()
	c.mu.Unlock()
	return true
}

func (c *Client) sendSaves(saves []*domain.Entry, batch map[string]op) {
	switch len(saves) {
	case 0:
		return
	case 1:
		e := saves[0]
		c.attempt(e.ID, batch[e.ID], func(ctx context.Context) error {
			_, err := c.backend.CreateOrUpdateEntry(ctx, e)
			return err
		})
	default:
		err := c.retry(func(ctx context.Context) error {
			_, err := c.backend.BatchUpsert(ctx, saves)
			return err
		}, "batch", len(saves))
		if err != nil {
			for _, e := range saves {
				c.fail(e.ID, batch[e.ID], err)
			}
		}
	}
}

func (c *Client) attempt(id string, o op, call func(ctx context.Context) error) {
	if err := c.retry(call, id, 1); err != nil {
		c.fail(id, o, err)
	}
}

func (c *Client) retry(call func(ctx context.Context) error, label string, n int) error {
	var err error
	backoff := c.opts.Backoff
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
		err = call(ctx)
		cancel()
		if err == nil {
			return nil
		}
		c.log.Warn("persist attempt failed", "target", label, "entries", n, "attempt", attempt+1, "err", err)
		if attempt == c.opts.Retries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-c.done:
			return err
		}
		backoff *= 2
	}
	return err
}

func (c *Client) fail(id string, o op, err error) {
	c.log.Error("persist gave up", "entry_id", id, "err", err)
	c.mu.Lock()
	// A newer write for the same id supersedes the failed one.
	if _, queued := c.pending[id]; !queued {
		c.failed[id] = o
	}
	c.mu.Unlock()
	if c.opts.OnError != nil {
		c.opts.OnError(id, err)
	}
}
