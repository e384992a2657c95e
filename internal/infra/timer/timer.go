// Package timer provides named, cancellable recurring callbacks. The worker
// drives both its heartbeat and its inference scheduling from these.
package timer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Func is a recurring callback. ctx is cancelled when the timer is.
type Func func(ctx context.Context)

// IntervalTimer calls fn every interval on its own goroutine until cancelled.
// Callbacks never overlap: ticks that arrive while fn runs are dropped.
type IntervalTimer struct {
	name     string
	interval time.Duration
	fn       Func

	cancel context.CancelFunc
	done   chan struct{}
}

// Start launches the timer goroutine.
func Start(ctx context.Context, name string, interval time.Duration, fn Func) *IntervalTimer {
	ctx, cancel := context.WithCancel(ctx)
	t := &IntervalTimer{
		name:     name,
		interval: interval,
		fn:       fn,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *IntervalTimer) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.fire(ctx)
		}
	}
}

// fire runs one callback, keeping the timer alive if it panics.
func (t *IntervalTimer) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("interval timer callback panicked", "timer", t.name, "panic", r)
		}
	}()
	t.fn(ctx)
}

// Name returns the timer's name.
func (t *IntervalTimer) Name() string { return t.name }

// Interval returns the tick period.
func (t *IntervalTimer) Interval() time.Duration { return t.interval }

// Cancel stops future ticks. It does not wait for a running callback.
func (t *IntervalTimer) Cancel() { t.cancel() }

// Wait blocks until the timer goroutine has exited.
func (t *IntervalTimer) Wait() { <-t.done }

// ─── Named Timer Set ────────────────────────────────────────────────────────

// Set owns a group of named timers.
type Set struct {
	mu     sync.Mutex
	timers map[string]*IntervalTimer
}

// NewSet creates an empty timer set.
func NewSet() *Set {
	return &Set{timers: make(map[string]*IntervalTimer)}
}

// Add starts a timer under name. Returns false if the name is taken.
func (s *Set) Add(ctx context.Context, name string, interval time.Duration, fn Func) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.timers[name]; ok {
		return false
	}
	s.timers[name] = Start(ctx, name, interval, fn)
	return true
}

// Remove cancels and forgets the named timer. Returns false if unknown.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	t, ok := s.timers[name]
	delete(s.timers, name)
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.Cancel()
	t.Wait()
	return true
}

// CancelAll cancels every timer and waits for in-flight callbacks to return.
func (s *Set) CancelAll() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*IntervalTimer)
	s.mu.Unlock()

	for _, t := range timers {
		t.Cancel()
	}
	for _, t := range timers {
		t.Wait()
	}
}

// Names returns the installed timer names, sorted.
func (s *Set) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of installed timers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
