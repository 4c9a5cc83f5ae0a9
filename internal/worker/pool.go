// Package worker runs background sync tasks on a bounded, owner-scoped pool.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"finsync/internal/log"
)

// ErrClosed is returned by Go once the pool has been closed.
var ErrClosed = errors.New("worker pool closed")

// Pool runs tasks on a context owned by the pool rather than by the caller,
// so a task outlives the request that scheduled it. At most size tasks run
// at once; the rest wait for a slot.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	size   int
	logger *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	failed atomic.Int64
}

func NewPool(size int, logger *log.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = log.Default(log.ComponentWorker)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		logger: logger,
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return p.size }

// Context returns the pool-owned context handed to every task.
func (p *Pool) Context() context.Context { return p.ctx }

// Failed returns how many tasks have returned an error so far.
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Go schedules fn. Errors are logged; the task's own bookkeeping (for
// example leaving a row pending) is its responsibility.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.logger.DebugContext(p.ctx, "Task abandoned before start", log.FieldTask, name)
			return
		}
		defer p.sem.Release(1)

		if err := fn(p.ctx); err != nil {
			p.failed.Add(1)
			p.logger.WarnContext(p.ctx, "Background task failed", log.FieldTask, name, log.FieldError, err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks and waits for the running ones. If ctx ends
// first, the remaining tasks are cancelled and Close waits for them to
// return before reporting ctx's error.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Cancelling in-flight tasks", log.FieldOperation, log.OpShutdown)
		p.cancel()
		<-done
		return ctx.Err()
	}
}
