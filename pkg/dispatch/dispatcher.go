// Package dispatch runs asynchronous, possibly-retried, possibly-coalesced
// units of work on a bounded pool, independent of the calling goroutine.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/routeflow/pkg/models"
	"github.com/dukex/routeflow/pkg/persistence"
	"github.com/dukex/routeflow/pkg/tracer"
)

const (
	// DefaultMaxRetries bounds retries for transient concurrency conflicts.
	// Domain errors are never retried.
	DefaultMaxRetries = 2

	// DefaultWorkers is the worker pool size.
	DefaultWorkers = 4

	retryBackoff = 50 * time.Millisecond
)

// Work is a unit of asynchronous execution. Submission is fire-and-forget:
// failures surface in logs and traces, never to the submitter.
type Work struct {
	Key models.WorkKey

	// Idempotent marks work safe to blindly repeat. Non-idempotent work must
	// re-validate its preconditions before acting: the dispatcher guarantees
	// no more than at-least-once per collapsed key.
	Idempotent bool

	// Coalescing work collapses with a pending submission sharing its key:
	// the last submitted payload wins and at most one of them executes.
	Coalescing bool

	// MaxRetries bounds retries on concurrency conflicts. Zero means
	// DefaultMaxRetries.
	MaxRetries int

	Run func(ctx context.Context) error
}

type pendingWork struct {
	slot string
	work Work
}

// Dispatcher owns the pending queue and the worker pool.
type Dispatcher struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	workers int

	mu         sync.Mutex
	pending    map[string]*pendingWork
	seq        uint64
	queue      chan string
	wg         sync.WaitGroup
	submitters sync.WaitGroup
	started    bool
	closed     bool
}

// NewDispatcher creates a dispatcher with the given pool size (zero means
// DefaultWorkers).
func NewDispatcher(logger *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Dispatcher{
		logger:  logger.With("module", "dispatcher"),
		tracer:  tracer.Tracer("routeflow-dispatch"),
		workers: workers,
		pending: make(map[string]*pendingWork),
		queue:   make(chan string, 1024),
	}
}

// Start launches the worker pool. Workers drain the queue until Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true

	for range d.workers {
		d.wg.Add(1)

		go d.worker(ctx)
	}
}

// Close stops accepting work and waits for in-flight items to finish. The
// queue only closes once every submitter past the closed check has completed
// its send; a submitter blocked on a full queue is drained by the workers
// first.
func (d *Dispatcher) Close() {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return
	}

	d.closed = true
	d.mu.Unlock()

	d.submitters.Wait()
	close(d.queue)

	d.wg.Wait()
}

// Submit enqueues work. A coalescing submission whose key already has a
// not-yet-started pending item replaces that item's payload in place; the
// earlier queue slot carries the latest submission.
func (d *Dispatcher) Submit(work Work) {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher closed, dropping work", "key", work.Key.String())

		return
	}

	slot := work.Key.String()
	if !work.Coalescing {
		d.seq++
		slot = fmt.Sprintf("%s#%d", slot, d.seq)
	}

	if existing, ok := d.pending[slot]; ok && work.Coalescing {
		// Last writer wins; the queued slot will pick up this payload.
		existing.work = work
		d.mu.Unlock()

		return
	}

	d.pending[slot] = &pendingWork{slot: slot, work: work}
	d.submitters.Add(1)
	d.mu.Unlock()

	d.queue <- slot
	d.submitters.Done()
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for slot := range d.queue {
		d.mu.Lock()
		item, ok := d.pending[slot]
		delete(d.pending, slot)
		d.mu.Unlock()

		if !ok {
			continue
		}

		d.execute(ctx, item.work)
	}
}

func (d *Dispatcher) execute(ctx context.Context, work Work) {
	spanCtx, span := tracer.StartSpan(ctx, d.tracer, "work_item",
		attribute.String(tracer.WorkKeyKey, work.Key.String()),
	)
	defer span.End()

	maxRetries := work.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff)
			d.logger.InfoContext(spanCtx, "Retrying work item",
				"key", work.Key.String(), "attempt", attempt)
		}

		err = work.Run(spanCtx)
		if err == nil {
			return
		}

		// Only optimistic save conflicts are transient enough to retry.
		if !persistence.IsConcurrencyConflict(err) {
			break
		}
	}

	tracer.SetError(span, err)
	d.logger.ErrorContext(spanCtx, "Work item failed permanently",
		"key", work.Key.String(), "error", err)
}
