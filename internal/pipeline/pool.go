package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs tasks with at most n holding a worker slot at once. A task
// returning an error cancels the pool's context and the remaining tasks.
type Pool struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
	ctx context.Context
}

// NewPool creates a pool of n slots and the context its tasks run under.
func NewPool(ctx context.Context, n int) (*Pool, context.Context) {
	if n < 1 {
		n = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	return &Pool{sem: semaphore.NewWeighted(int64(n)), g: g, ctx: ctx}, ctx
}

// Go waits for a free slot and runs fn in it. It returns an error only if
// the pool's context ended first.
func (p *Pool) Go(fn func(ctx context.Context, s *Slot) error) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	s := &Slot{sem: p.sem, held: true}
	p.g.Go(func() error {
		defer s.release()
		return fn(p.ctx, s)
	})
	return nil
}

// Wait blocks until every task returns and reports the first error.
func (p *Pool) Wait() error {
	return p.g.Wait()
}

// Slot is the worker slot held by one task. Only that task's goroutine
// may use it.
type Slot struct {
	sem  *semaphore.Weighted
	held bool
}

// Detach gives the slot back while fn runs, so a task blocked on
// something other than work (a human, say) does not starve the pool.
// It reacquires before returning; on error the slot is not held.
func (s *Slot) Detach(ctx context.Context, fn func()) error {
	if s.held {
		s.sem.Release(1)
		s.held = false
	}
	fn()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	s.held = true
	return nil
}

func (s *Slot) release() {
	if s.held {
		s.sem.Release(1)
		s.held = false
	}
}
