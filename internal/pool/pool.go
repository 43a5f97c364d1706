// Package pool runs background jobs with bounded concurrency.
package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrently running jobs with a weighted semaphore and
// tracks them so shutdown can wait for the ones in flight.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates a Pool that runs at most limit jobs at once.
func New(limit int64) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(limit)}
}

// Run acquires a slot, runs fn, and releases the slot. It blocks while all
// slots are busy and returns ctx.Err() if ctx ends first.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go runs fn on its own goroutine once a slot is free. The job is not
// started if ctx ends before a slot frees up.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.Run(ctx, func(ctx context.Context) error {
			fn(ctx)
			return nil
		})
	}()
}

// Wait blocks until every job started with Go has returned.
func (p *Pool) Wait() { p.wg.Wait() }
