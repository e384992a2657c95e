package queue

import (
	"context"
	"iter"
	"sync"

	"github.com/langport/worker/internal/domain"
)

// ─── Result Channels ────────────────────────────────────────────────────────
// One ordered channel per task id. The channel lives from Open until its
// terminal event has been consumed (or, if the reader went away, pushed).

type channel struct {
	events    []domain.ResultEvent
	notify    chan struct{}
	terminal  bool // a done/error event has been pushed
	reader    bool // Stream has been called
	abandoned bool // the reader stopped before the terminal event
}

// Results maps task ids to their result channels.
type Results struct {
	mu    sync.Mutex
	chans map[string]*channel
}

// NewResults creates an empty channel map.
func NewResults() *Results {
	return &Results{chans: make(map[string]*channel)}
}

// Open creates the empty channel for taskID.
func (r *Results) Open(taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chans[taskID]; ok {
		return domain.ErrDuplicateTask
	}
	r.chans[taskID] = &channel{notify: make(chan struct{}, 1)}
	return nil
}

// Push appends ev to the task's channel. It fails for unknown tasks and
// after a terminal event has been pushed.
func (r *Results) Push(taskID string, ev domain.ResultEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.chans[taskID]
	if !ok {
		return domain.ErrUnknownTask
	}
	if ch.terminal {
		return domain.ErrStreamClosed
	}
	if ev.IsTerminal() {
		ch.terminal = true
	}

	if ch.abandoned {
		if ch.terminal {
			delete(r.chans, taskID)
		}
		return nil
	}

	ch.events = append(ch.events, ev)
	select {
	case ch.notify <- struct{}{}:
	default:
	}
	return nil
}

// Stream returns the task's events as a lazy sequence that ends after the
// first terminal event. Only one reader is allowed per task. If the caller
// stops early or ctx is cancelled, the channel is abandoned: remaining
// events are discarded and the entry is dropped when the task terminates.
func (r *Results) Stream(ctx context.Context, taskID string) (iter.Seq[domain.ResultEvent], error) {
	r.mu.Lock()
	ch, ok := r.chans[taskID]
	switch {
	case !ok:
		r.mu.Unlock()
		return nil, domain.ErrUnknownTask
	case ch.reader:
		r.mu.Unlock()
		return nil, domain.ErrStreamConsumed
	}
	ch.reader = true
	r.mu.Unlock()

	return func(yield func(domain.ResultEvent) bool) {
		finished := false
		defer func() {
			if !finished {
				r.abandon(taskID, ch)
			}
		}()

		for {
			ev, wait, ok := r.next(taskID, ch)
			if !ok {
				// Channel already torn down; the sequence does not restart.
				finished = true
				return
			}
			if wait != nil {
				select {
				case <-ctx.Done():
					return
				case <-wait:
				}
				continue
			}

			if ev.IsTerminal() {
				finished = true
				r.remove(taskID, ch)
				yield(ev)
				return
			}
			if !yield(ev) {
				return
			}
		}
	}, nil
}

// next pops the oldest event, or returns the notify channel to wait on.
func (r *Results) next(taskID string, ch *channel) (domain.ResultEvent, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chans[taskID] != ch {
		return domain.ResultEvent{}, nil, false
	}
	if len(ch.events) == 0 {
		return domain.ResultEvent{}, ch.notify, true
	}
	ev := ch.events[0]
	ch.events[0] = domain.ResultEvent{}
	ch.events = ch.events[1:]
	return ev, nil, true
}

func (r *Results) remove(taskID string, ch *channel) {
	r.mu.Lock()
	if r.chans[taskID] == ch {
		delete(r.chans, taskID)
	}
	r.mu.Unlock()
}

func (r *Results) abandon(taskID string, ch *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chans[taskID] != ch {
		return
	}
	if ch.terminal {
		delete(r.chans, taskID)
		return
	}
	ch.abandoned = true
	ch.events = nil
}

// Has reports whether taskID has a live channel.
func (r *Results) Has(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.chans[taskID]
	return ok
}

// Len returns the number of live channels.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chans)
}
