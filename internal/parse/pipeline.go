package parse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alpineops/trailcache/internal/core/observability"
)

var (
	// ErrDuplicateRequest rejects a Submit for an id that already has a
	// wait in flight. Duplicates are rejected, not coalesced.
	ErrDuplicateRequest = errors.New("parse request already in flight for id")
	ErrTimeout          = errors.New("parse request timed out")
	ErrQueueFull        = errors.New("parse queue full")
	ErrClosed           = errors.New("parse pipeline closed")
)

// Item is one unit of batch input.
type Item struct {
	ID  string
	Raw string
}

type job struct {
	id  string
	raw string
}

// Pipeline runs track parsing on a fixed worker pool. Callers submit by
// id and receive the result on a per-request channel; each wait carries
// a timeout after which the pending entry is dropped (the worker is not
// interrupted, only the wait is abandoned).
type Pipeline struct {
	logger  *slog.Logger
	timeout time.Duration

	jobs chan job
	quit chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]chan Result
	closed  bool

	sem *semaphore.Weighted

	now     func() time.Time
	parseFn func(id, raw string) Result // for tests
}

func NewPipeline(logger *slog.Logger, workers, queue int, timeout time.Duration) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 64
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Pipeline{
		logger:  logger,
		timeout: timeout,
		jobs:    make(chan job, queue),
		quit:    make(chan struct{}),
		pending: make(map[string]chan Result),
		sem:     semaphore.NewWeighted(int64(workers) * 2),
		now:     time.Now,
		parseFn: ParseTrack,
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			start := p.now()
			res := p.parseFn(j.id, j.raw)
			dur := p.now().Sub(start).Seconds()

			p.mu.Lock()
			ch, ok := p.pending[j.id]
			delete(p.pending, j.id)
			p.mu.Unlock()

			if !ok {
				// wait was abandoned (timeout); drop the result
				observability.ObserveParse("abandoned", dur)
				continue
			}
			if res.Err != nil {
				p.logger.Debug("parse failed", "id", j.id, "err", res.Err.Error())
				observability.ObserveParse("error", dur)
			} else {
				observability.ObserveParse("ok", dur)
			}
			ch <- res
		}
	}
}

// Submit queues a parse request and returns the channel its result will
// arrive on. The channel is buffered; the result is delivered exactly
// once unless the wait is abandoned via Abandon.
func (p *Pipeline) Submit(id, raw string) (<-chan Result, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := p.pending[id]; dup {
		p.mu.Unlock()
		return nil, fmt.Errorf("submit %q: %w", id, ErrDuplicateRequest)
	}
	ch := make(chan Result, 1)
	p.pending[id] = ch
	p.mu.Unlock()

	select {
	case p.jobs <- job{id: id, raw: raw}:
		return ch, nil
	default:
		p.abandon(id)
		return nil, fmt.Errorf("submit %q: %w", id, ErrQueueFull)
	}
}

// abandon removes the pending entry so a late worker result is dropped.
func (p *Pipeline) abandon(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Parse submits one item and waits for its result, the configured
// timeout, or ctx cancellation, whichever comes first. Failures come
// back as a Result with Err set; Parse itself never panics.
func (p *Pipeline) Parse(ctx context.Context, id, raw string) Result {
	ch, err := p.Submit(id, raw)
	if err != nil {
		return Result{ID: id, Err: err}
	}

	t := time.NewTimer(p.timeout)
	defer t.Stop()

	select {
	case res := <-ch:
		return res
	case <-t.C:
		p.abandon(id)
		observability.ObserveParse("timeout", p.timeout.Seconds())
		return Result{ID: id, Err: fmt.Errorf("parse %q after %s: %w", id, p.timeout, ErrTimeout)}
	case <-ctx.Done():
		p.abandon(id)
		return Result{ID: id, Err: fmt.Errorf("parse %q: %w", id, ctx.Err())}
	}
}

// ParseBatch parses every item independently and returns one result per
// input, in input order. One item's failure never blocks or discards the
// others; the join is all-settled.
func (p *Pipeline) ParseBatch(ctx context.Context, items []Item) []Result {
	results := make([]Result, len(items))

	var wg sync.WaitGroup
	for i, it := range items {
		wg.Add(1)
		go func(i int, it Item) {
			defer wg.Done()
			if err := p.sem.Acquire(ctx, 1); err != nil {
				results[i] = Result{ID: it.ID, Err: fmt.Errorf("parse %q: %w", it.ID, err)}
				return
			}
			defer p.sem.Release(1)
			results[i] = p.Parse(ctx, it.ID, it.Raw)
		}(i, it)
	}
	wg.Wait()

	return results
}

// Close stops the workers. Outstanding waits receive ErrClosed only via
// their timeouts; Close does not interrupt running parses.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.wg.Wait()
}
