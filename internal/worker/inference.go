package worker

import (
	"context"
	"time"

	"github.com/langport/worker/internal/domain"
	"github.com/langport/worker/internal/infra/metrics"
)

// inferenceTick runs at most one decoding pass over the oldest queued
// tasks. The pass holds one admission slot for its whole duration.
func (w *Worker) inferenceTick(ctx context.Context) {
	if !w.Online() {
		return
	}
	if err := w.limiter.Acquire(ctx); err != nil {
		return
	}
	defer func() {
		if err := w.limiter.Release(); err != nil {
			w.log.Error("admission release failed", "error", err)
		}
	}()

	batch := w.tasks.Drain(w.cfg.MaxBatch)
	metrics.TasksPending.Set(float64(w.tasks.Len()))
	if len(batch) == 0 {
		return
	}

	for _, t := range batch {
		w.log.Debug("task scheduled", "task_id", t.ID, "waited", w.now().Sub(t.EnqueuedAt))
	}

	// A pass is never cut short; Stop waits for it instead.
	start := time.Now()
	if err := w.engine.Run(context.WithoutCancel(ctx), batch, w.deliver); err != nil {
		w.log.Error("decoding pass failed", "tasks", len(batch), "error", err)
		return
	}
	w.log.Debug("decoding pass done", "tasks", len(batch), "duration", time.Since(start))
}

// deliver routes one event to its task's result stream.
func (w *Worker) deliver(ev domain.ResultEvent) {
	if err := w.results.Push(ev.TaskID, ev); err != nil {
		w.log.Warn("dropping result event", "task_id", ev.TaskID, "type", ev.Kind, "error", err)
	}
}
