// Package metrics provides Prometheus metrics for the generation worker:
// decoding passes, task outcomes, queue depth and controller traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Decoding ───────────────────────────────────────────────────────────────

// BatchLatency tracks the wall time of one full decoding pass.
var BatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "langport",
	Name:      "batch_latency_seconds",
	Help:      "Duration of one batched decoding pass in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// BatchSize tracks how many tasks each pass decoded.
var BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "langport",
	Name:      "batch_size",
	Help:      "Number of tasks per decoding pass.",
	Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
})

// GeneratedTokens counts tokens produced after the prompt.
var GeneratedTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "langport",
	Name:      "generated_tokens_total",
	Help:      "Total tokens generated.",
}, []string{"model"})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksCompleted counts tasks that ended with a done event.
var TasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "langport",
	Name:      "tasks_completed_total",
	Help:      "Total tasks finished with a done event.",
})

// TasksFailed counts tasks that ended with an error event, by error code.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "langport",
	Name:      "tasks_failed_total",
	Help:      "Total tasks finished with an error event.",
}, []string{"code"})

// TasksPending tracks tasks waiting in the intake queue.
var TasksPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "langport",
	Name:      "tasks_pending",
	Help:      "Number of tasks waiting to be batched.",
})

// QueueLength mirrors the queue length reported to the controller.
var QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "langport",
	Name:      "queue_length",
	Help:      "Admission queue length (in use + waiters).",
})

// ─── Controller ─────────────────────────────────────────────────────────────

// HeartbeatLatency tracks heartbeat round-trip latency, retries included.
var HeartbeatLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "langport",
	Name:      "heartbeat_latency_seconds",
	Help:      "Heartbeat round-trip latency to the controller.",
	Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
})

// HeartbeatFailures counts heartbeat cycles skipped after exhausting retries.
var HeartbeatFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "langport",
	Name:      "heartbeat_failures_total",
	Help:      "Heartbeat cycles that failed after all retries.",
})

// Registrations counts registration attempts by result.
var Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "langport",
	Name:      "registrations_total",
	Help:      "Registration attempts with the controller.",
}, []string{"result"})
