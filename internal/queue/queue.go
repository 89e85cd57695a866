// Package queue provides a generic, concurrency-bounded task scheduler that
// is periodically re-synced against a source of truth.
//
// A Queue holds an ordered pending list and an in-flight set. Every poll tick
// it moves items from the head of pending to in-flight, up to the configured
// concurrency, and runs Source.Process for each on its own goroutine. Finished
// items leave in-flight whatever the outcome and are never re-queued; an item
// that still needs work is picked up again by the next Reload.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ClippyCDN/clippy/internal/logging"
	"github.com/ClippyCDN/clippy/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by Start on a queue that was started before.
	ErrAlreadyStarted = errors.New("queue already started")
	// ErrStopped is returned by Start on a queue that was stopped.
	ErrStopped = errors.New("queue stopped")
	// ErrAlreadyInFlight marks an attempt to dispatch an item that is running.
	ErrAlreadyInFlight = errors.New("item already in flight")
	// ErrPanic wraps a panic recovered from Source.Process.
	ErrPanic = errors.New("process panicked")
	// ErrPermanent marks failures caused by the item itself. They are logged
	// at warn; the item is retried only once its source record changes.
	ErrPermanent = errors.New("permanent failure")
)

// Item is a unit of deferred work with a stable identifier.
type Item interface {
	ItemID() string
}

// Source supplies work and knows how to do it.
type Source[T Item] interface {
	// LoadPending lists every item whose completion predicate is false.
	LoadPending(ctx context.Context) ([]T, error)
	// Process does the work for one item.
	Process(ctx context.Context, item T) error
}

// Options tunes a Queue. Zero values take the defaults below.
type Options struct {
	PollInterval   time.Duration // default 1s
	ReloadInterval time.Duration // default 1m
	Concurrency    int           // default 2
	// ProcessTimeout bounds a single Process call. Zero means no bound.
	ProcessTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ReloadInterval <= 0 {
		o.ReloadInterval = time.Minute
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	return o
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Name      string `json:"name"`
	Pending   int    `json:"pending"`
	InFlight  int    `json:"in_flight"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// Queue schedules items from a Source.
type Queue[T Item] struct {
	name string
	src  Source[T]
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	pending   []T
	inFlight  map[string]struct{}
	processed int64
	failed    int64
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	baseCtx   context.Context

	loops sync.WaitGroup
	work  sync.WaitGroup
}

// New creates a queue. It does nothing until Reload or Start is called.
func New[T Item](name string, src Source[T], opts Options) *Queue[T] {
	return &Queue[T]{
		name:     name,
		src:      src,
		opts:     opts.withDefaults(),
		log:      logging.Named("queue").With(zap.String("queue", name)),
		inFlight: make(map[string]struct{}),
		baseCtx:  context.Background(),
	}
}

// Name returns the queue name.
func (q *Queue[T]) Name() string { return q.name }

// Reload replaces pending with the items the source currently reports as
// incomplete, in source order, skipping in-flight ids and duplicates. On a
// load error the current pending list is kept.
func (q *Queue[T]) Reload(ctx context.Context) {
	items, err := q.src.LoadPending(ctx)
	if err != nil {
		metrics.RecordQueueReload(q.name, false)
		q.log.Error("reload failed", zap.Error(err))
		return
	}
	metrics.RecordQueueReload(q.name, true)

	q.mu.Lock()
	prev := make(map[string]struct{}, len(q.pending))
	for _, it := range q.pending {
		prev[it.ItemID()] = struct{}{}
	}

	next := make([]T, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	added := 0
	for _, it := range items {
		id := it.ItemID()
		if _, busy := q.inFlight[id]; busy {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		next = append(next, it)
		if _, was := prev[id]; !was {
			added++
		}
	}
	q.pending = next
	pending, inFlight := len(q.pending), len(q.inFlight)
	q.mu.Unlock()

	metrics.SetQueueDepth(q.name, pending, inFlight)
	if added > 0 {
		q.log.Info("loaded items into queue",
			zap.Int("added", added),
			zap.Int("pending", pending))
	}
}

// Start launches the dispatch and reload loops. Process calls run on a
// context detached from ctx's cancellation so that in-flight work drains
// rather than aborting; cancel ctx or call Stop to end the loops.
func (q *Queue[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if q.started {
		q.mu.Unlock()
		return ErrAlreadyStarted
	}
	q.started = true
	q.baseCtx = context.WithoutCancel(ctx)
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	q.loops.Add(2)
	go q.pollLoop(loopCtx)
	go q.reloadLoop(loopCtx)

	q.log.Info("queue started",
		zap.Int("concurrency", q.opts.Concurrency),
		zap.Duration("poll_interval", q.opts.PollInterval),
		zap.Duration("reload_interval", q.opts.ReloadInterval))
	return nil
}

func (q *Queue[T]) pollLoop(ctx context.Context) {
	defer q.loops.Done()
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	q.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick()
		}
	}
}

func (q *Queue[T]) reloadLoop(ctx context.Context) {
	defer q.loops.Done()
	ticker := time.NewTicker(q.opts.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Reload(ctx)
		}
	}
}

// Stop ends both loops, stops dispatching and waits for in-flight items to
// finish or for ctx to expire. A stopped queue cannot be restarted.
func (q *Queue[T]) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	if q.cancel != nil {
		q.cancel()
	}
	inFlight := len(q.inFlight)
	q.mu.Unlock()

	q.loops.Wait()
	q.log.Info("queue stopping, draining in-flight items", zap.Int("in_flight", inFlight))

	done := make(chan struct{})
	go func() {
		q.work.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue %s: %w", q.name, ctx.Err())
	}
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:      q.name,
		Pending:   len(q.pending),
		InFlight:  len(q.inFlight),
		Processed: q.processed,
		Failed:    q.failed,
	}
}

// tick dispatches from the head of pending while slots are free.
func (q *Queue[T]) tick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}

	for len(q.inFlight) < q.opts.Concurrency && len(q.pending) > 0 {
		item := q.pending[0]
		var zero T
		q.pending[0] = zero
		q.pending = q.pending[1:]

		id := item.ItemID()
		if _, busy := q.inFlight[id]; busy {
			q.log.Error("dispatch skipped", zap.String("item", id), zap.Error(ErrAlreadyInFlight))
			continue
		}
		q.inFlight[id] = struct{}{}
		q.work.Add(1)
		go q.run(item)
	}
	metrics.SetQueueDepth(q.name, len(q.pending), len(q.inFlight))
}

func (q *Queue[T]) run(item T) {
	defer q.work.Done()
	id := item.ItemID()
	start := time.Now()

	q.mu.Lock()
	ctx := q.baseCtx
	q.mu.Unlock()

	err := q.process(ctx, item)
	elapsed := time.Since(start)

	q.mu.Lock()
	delete(q.inFlight, id)
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	pending, inFlight := len(q.pending), len(q.inFlight)
	q.mu.Unlock()

	metrics.RecordQueueItem(q.name, elapsed, err == nil)
	metrics.SetQueueDepth(q.name, pending, inFlight)

	if err != nil {
		fields := []zap.Field{zap.String("item", id), zap.Duration("latency", elapsed), zap.Error(err)}
		if errors.Is(err, ErrPermanent) {
			q.log.Warn("item skipped", fields...)
		} else {
			q.log.Error("item failed", fields...)
		}
		return
	}
	q.log.Info("item processed",
		zap.String("item", id),
		zap.Duration("latency", elapsed),
		zap.Int("remaining", pending))
}

func (q *Queue[T]) process(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	if q.opts.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.ProcessTimeout)
		defer cancel()
	}
	return q.src.Process(ctx, item)
}

func (q *Queue[T]) pendingIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.pending))
	for i, it := range q.pending {
		ids[i] = it.ItemID()
	}
	return ids
}

func (q *Queue[T]) inFlightIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.inFlight))
	for id := range q.inFlight {
		ids = append(ids, id)
	}
	return ids
}
