// Package health runs periodic liveness checks against the worker and
// reports them on /health.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultInterval is how often the checks run.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	now      func() time.Time
}

// NewChecker creates a checker running checks every interval.
func NewChecker(interval time.Duration, checks ...Check) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checker{
		interval: interval,
		checks:   checks,
		now:      time.Now,
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: c.now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			if check.RecoverFn != nil {
				_ = check.RecoverFn(ctx)
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass. Before the first run there is
// nothing failing.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

var (
	errOffline = errors.New("worker is not registered with the controller")
	errStalled = errors.New("tasks are pending but no decoding pass has run")
)

// OnlineCheck fails while the worker is not registered.
func OnlineCheck(online func() bool) Check {
	return Check{
		Name: "registration",
		CheckFn: func(context.Context) error {
			if !online() {
				return errOffline
			}
			return nil
		},
	}
}

// ProgressCheck fails when tasks were pending across two consecutive runs
// and the engine completed no pass in between. completed reports the
// number of finished decoding passes.
func ProgressCheck(pending func() int, completed func() uint64) Check {
	var (
		mu          sync.Mutex
		lastPasses  uint64
		lastPending bool
	)
	return Check{
		Name: "inference_progress",
		CheckFn: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()

			p, n := pending() > 0, completed()
			stalled := lastPending && p && n == lastPasses
			lastPasses, lastPending = n, p
			if stalled {
				return errStalled
			}
			return nil
		},
	}
}

// QueueCheck fails when more than limit tasks are pending. A limit of zero
// disables the check.
func QueueCheck(pending func() int, limit int) Check {
	return Check{
		Name: "queue_depth",
		CheckFn: func(context.Context) error {
			if n := pending(); limit > 0 && n > limit {
				return fmt.Errorf("%d tasks pending, limit %d", n, limit)
			}
			return nil
		},
	}
}
