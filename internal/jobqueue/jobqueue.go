// Package jobqueue implements a bounded worker pool: at most N submitted
// jobs run concurrently, the rest wait in an unbounded backlog queue. It is
// the Go-idiomatic stand-in for the "cooperatively-scheduled worker pool"
// the spec calls for sizing the crate fetch pipeline's crawlers.
package jobqueue

import (
	"context"
	"sync"

	"github.com/alecthomas/errors"

	"github.com/cratemirror/cratemirror/internal/logging"
)

// Job is a unit of work submitted to a Pool. Errors are logged by the pool,
// never returned to the submitter — jobs are fire-and-forget.
type Job func(ctx context.Context) error

// Pool runs submitted jobs with at most Size running concurrently.
type Pool struct {
	size    int
	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context //nolint:containedctx // workers are spawned well after construction
}

// New returns a Pool that runs at most size jobs concurrently. ctx bounds
// the lifetime of every job the pool ever runs: once ctx is cancelled,
// queued-but-not-yet-started jobs are dropped and running jobs observe
// cancellation through their own context argument.
func New(ctx context.Context, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:    size,
		sem:     make(chan struct{}, size),
		baseCtx: ctx,
	}
}

// Submit enqueues job to run as soon as a worker slot is free. Submit never
// blocks the caller waiting for a slot to open: it spawns a goroutine that
// blocks on the semaphore, so the trigger loop calling Submit is never
// slowed down by a full pool.
func (p *Pool) Submit(job Job) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
		case <-p.baseCtx.Done():
			return
		}
		defer func() { <-p.sem }()

		logger := logging.FromContext(p.baseCtx)
		if err := job(p.baseCtx); err != nil {
			logger.ErrorContext(p.baseCtx, "job failed", "error", errors.WithStack(err))
		}
	}()
}

// Wait blocks until every job Submitted so far has returned. It does not
// prevent further Submit calls; it is intended for tests and graceful
// shutdown, not the steady-state fire-and-forget path.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the pool's configured concurrency bound.
func (p *Pool) Size() int {
	return p.size
}
