// Package taskpool implements the fixed-size worker pool described in
// spec §5: numProcessors+4 goroutines consuming indexing tasks, and the
// data-parallel fan-out used by the chunker's counting/distributing
// passes. Built on golang.org/x/sync/errgroup for structured
// fan-out/error-propagation, the pattern used across the retrieval pack
// for bounded concurrent work (banshee-data-velocity.report,
// viamrobotics-rdk).
package taskpool

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Size returns the worker count spec §5 mandates for the indexing task
// pool: numProcessors + 4.
func Size() int {
	return runtime.NumCPU() + 4
}

// Pool runs a bounded set of concurrent tasks and stops launching new
// ones (though it lets in-flight tasks finish) at the first error,
// mirroring errgroup.WithContext's cancellation semantics.
type Pool struct {
	group *errgroup.Group
	ctx   context.Context
}

// New creates a pool bounded to concurrency workers. concurrency <= 0
// falls back to Size().
func New(ctx context.Context, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = Size()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	return &Pool{group: g, ctx: gctx}
}

// Go schedules fn to run on the pool, blocking if concurrency is
// currently saturated.
func (p *Pool) Go(fn func(ctx context.Context) error) {
	p.group.Go(func() error {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return fn(p.ctx)
	})
}

// Wait blocks until every scheduled task has completed and returns the
// first error encountered, if any.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Context returns the pool's cancellation context, canceled as soon as
// any task returns a non-nil error.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Run splits n independent units of work (e.g. one per input file or one
// per chunk) across concurrency workers, waiting for all to finish or
// the first error.
func Run(ctx context.Context, concurrency, n int, fn func(ctx context.Context, i int) error) error {
	p := New(ctx, concurrency)
	for i := 0; i < n; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			return fn(ctx, i)
		})
	}
	return p.Wait()
}
