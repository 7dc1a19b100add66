package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many heavy operations run at once across all batches.
// Waiting for a slot is bounded by a queue timeout. A nil Limiter, or one with
// no capacity, does not limit.
type Limiter struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewLimiter allows n concurrent operations; callers wait at most timeout for a
// slot (zero waits as long as ctx allows).
func NewLimiter(n int, timeout time.Duration) *Limiter {
	l := &Limiter{timeout: timeout}
	if n > 0 {
		l.sem = semaphore.NewWeighted(int64(n))
	}
	return l
}

// Do runs fn while holding a slot. It returns ErrQueueFull when no slot frees up
// within the queue timeout, or ctx's error when ctx ends first.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if l == nil || l.sem == nil {
		return fn(ctx)
	}

	actx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrQueueFull
	}
	defer l.sem.Release(1)
	return fn(ctx)
}
