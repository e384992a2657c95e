package worker

import (
	"context"
	"sync"
	"time"

	"github.com/langport/worker/internal/infra/controller"
	"github.com/langport/worker/internal/infra/metrics"
)

// heartbeatGate rate-limits heartbeats to one per interval, independent of
// how often the check timer fires.
type heartbeatGate struct {
	mu       sync.Mutex
	lastSent time.Time
	interval time.Duration
}

func newHeartbeatGate(start time.Time, interval time.Duration) *heartbeatGate {
	return &heartbeatGate{lastSent: start, interval: interval}
}

// claim reports whether a heartbeat is due at now and, if so, records now
// as the send time. The send time advances even if the send later fails.
func (g *heartbeatGate) claim(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSent) <= g.interval {
		return false
	}
	g.lastSent = now
	return true
}

func (w *Worker) heartbeatTick(ctx context.Context) {
	if !w.Online() || !w.beat.claim(w.now()) {
		return
	}
	w.sendHeartbeat(ctx)
}

func (w *Worker) sendHeartbeat(ctx context.Context) {
	status := w.Status()
	start := time.Now()
	resp, err := w.ctrl.Heartbeat(ctx, controller.HeartbeatRequest{
		WorkerID: w.cfg.WorkerID,
		Status:   status,
	})
	metrics.HeartbeatLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HeartbeatFailures.Inc()
		w.log.Error("heartbeat failed", "error", err)
		return
	}

	w.log.Debug("heartbeat sent", "queue_length", status.QueueLength, "pending", w.tasks.Len())
	if !resp.Exist {
		w.log.Warn("controller does not know this worker, registering again")
		if err := w.register(ctx); err != nil {
			w.log.Error("re-registration failed", "error", err)
		}
	}
}

func (w *Worker) register(ctx context.Context) error {
	err := w.ctrl.Register(ctx, controller.RegisterRequest{
		WorkerID:       w.cfg.WorkerID,
		WorkerAddr:     w.cfg.WorkerAddr,
		WorkerType:     w.cfg.WorkerType,
		CheckHeartBeat: true,
		WorkerStatus:   w.Status(),
	})
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return err
	}
	metrics.Registrations.WithLabelValues("ok").Inc()
	w.log.Info("registered with controller", "worker_addr", w.cfg.WorkerAddr)
	return nil
}
