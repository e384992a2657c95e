// Package admission bounds how many decoding passes may run at once and
// reports the resulting queue depth to the controller.
package admission

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/langport/worker/internal/domain"
)

// Limiter is a capacity-bounded gate around one full decoding pass.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	waiters  atomic.Int64
}

// NewLimiter creates a limiter admitting up to capacity concurrent passes.
// capacity < 1 is treated as 1.
func NewLimiter(capacity int) *Limiter {
	c := int64(max(1, capacity))
	return &Limiter{
		sem:      semaphore.NewWeighted(c),
		capacity: c,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.waiters.Add(1)
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.waiters.Add(-1)
		return err
	}
	// Count the slot before dropping the waiter so QueueLength never dips.
	l.inUse.Add(1)
	l.waiters.Add(-1)
	return nil
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Add(1)
	return true
}

// Release returns a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() error {
	for {
		n := l.inUse.Load()
		if n <= 0 {
			return domain.ErrNotAcquired
		}
		if l.inUse.CompareAndSwap(n, n-1) {
			break
		}
	}
	l.sem.Release(1)
	return nil
}

// Capacity returns the configured concurrency limit.
func (l *Limiter) Capacity() int { return int(l.capacity) }

// InUse returns the number of held slots.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// Waiters returns the number of callers blocked in Acquire.
func (l *Limiter) Waiters() int { return int(l.waiters.Load()) }

// QueueLength is in_use + waiters, the load figure reported to the controller.
func (l *Limiter) QueueLength() int {
	return max(0, l.InUse()+l.Waiters())
}
