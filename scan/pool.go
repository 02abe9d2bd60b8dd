package scan

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pool runs tasks with at most n in flight. Admission blocks until a slot
// frees and is cancellable.
type pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func newPool(n int) *pool {
	return &pool{sem: semaphore.NewWeighted(int64(n))}
}

// Go runs fn once a slot is available. It returns the context error without
// running fn if ctx is done first.
func (p *pool) Go(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		fn()
	}()
	return nil
}

// Wait blocks until every admitted task has returned.
func (p *pool) Wait() {
	p.wg.Wait()
}
