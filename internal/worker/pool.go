package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PoolStats counts documents handled by a Pool.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolClosed is returned when work is submitted to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs document handlers on a bounded number of goroutines. Submit
// blocks while every slot is busy, which holds back the consumer.
type Pool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	done   chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	active, completed, failed, panics atomic.Int64
}

// NewPool creates a pool running at most size handlers at once.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		slots:  make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return cap(p.slots) }

// Submit runs fn on a free slot. It waits for a slot until ctx is done or the
// pool is closed. A panic in fn is recovered and counted as a failure.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// wg.Add must happen under mu so Close cannot start waiting in between.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				p.logger.Error("document handler panicked", "panic", fmt.Sprint(r))
			}
			p.active.Add(-1)
			<-p.slots
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			p.failed.Add(1)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

// Wait blocks until every submitted handler returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting work and waits for running handlers, or for ctx.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d running handlers: %w", p.active.Load(), ctx.Err())
	}
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
