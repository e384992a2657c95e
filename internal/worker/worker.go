// Package worker ties the generation worker together: controller
// registration and heartbeats, task intake, and the timer that feeds
// batches to the decoding engine.
package worker

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/langport/worker/internal/domain"
	"github.com/langport/worker/internal/infra/admission"
	"github.com/langport/worker/internal/infra/controller"
	"github.com/langport/worker/internal/infra/metrics"
	"github.com/langport/worker/internal/infra/queue"
	"github.com/langport/worker/internal/infra/timer"
)

const (
	heartbeatTimer = "heartbeat"
	inferenceTimer = "inference"
)

// Controller is the subset of the controller API the worker needs.
type Controller interface {
	Register(ctx context.Context, req controller.RegisterRequest) error
	Remove(ctx context.Context, workerID string) error
	Heartbeat(ctx context.Context, req controller.HeartbeatRequest) (controller.HeartbeatResponse, error)
}

// Engine decodes one batch of tasks, emitting every result event.
type Engine interface {
	Run(ctx context.Context, tasks []domain.Task, emit func(domain.ResultEvent)) error
}

// Config configures a Worker.
type Config struct {
	WorkerID   string
	WorkerAddr string
	WorkerType string
	ModelName  string

	LimitConcurrency int // concurrent decoding passes
	MaxBatch         int // tasks per pass
	MaxQueued        int // pending task bound; 0 means unbounded

	InferenceInterval      time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatCheckInterval time.Duration
}

// DefaultConfig returns the standard worker timings.
func DefaultConfig() Config {
	return Config{
		WorkerType:             "generation",
		LimitConcurrency:       1,
		MaxBatch:               8,
		InferenceInterval:      500 * time.Millisecond,
		HeartbeatInterval:      30 * time.Second,
		HeartbeatCheckInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WorkerType == "" {
		c.WorkerType = d.WorkerType
	}
	if c.LimitConcurrency < 1 {
		c.LimitConcurrency = d.LimitConcurrency
	}
	if c.MaxBatch < 1 {
		c.MaxBatch = d.MaxBatch
	}
	if c.InferenceInterval <= 0 {
		c.InferenceInterval = d.InferenceInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatCheckInterval <= 0 {
		c.HeartbeatCheckInterval = d.HeartbeatCheckInterval
	}
	return c
}

// Worker is one model-serving worker process.
type Worker struct {
	cfg     Config
	ctrl    Controller
	engine  Engine
	tasks   *queue.TaskQueue
	results *queue.Results
	limiter *admission.Limiter
	timers  *timer.Set
	beat    *heartbeatGate
	log     *slog.Logger
	now     func() time.Time

	lifecycle sync.Mutex // serializes Start and Stop

	mu     sync.RWMutex // guards online; held shared for the whole of Submit
	online bool
}

// New creates an offline worker.
func New(cfg Config, ctrl Controller, engine Engine, logger *slog.Logger) *Worker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		cfg:     cfg,
		ctrl:    ctrl,
		engine:  engine,
		tasks:   queue.NewTaskQueue(),
		results: queue.NewResults(),
		limiter: admission.NewLimiter(cfg.LimitConcurrency),
		timers:  timer.NewSet(),
		log:     logger.With("component", "worker", "worker_id", cfg.WorkerID),
		now:     time.Now,
	}
	w.beat = newHeartbeatGate(w.now(), cfg.HeartbeatInterval)
	return w
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.cfg.WorkerID }

// Config returns the effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// Online reports whether the worker is registered and scheduling.
func (w *Worker) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// Timers returns the names of the installed interval timers.
func (w *Worker) Timers() []string { return w.timers.Names() }

// Status is the load snapshot sent to the controller.
func (w *Worker) Status() domain.WorkerStatus {
	ql := w.limiter.QueueLength()
	metrics.QueueLength.Set(float64(ql))
	return domain.WorkerStatus{
		ModelName:   w.cfg.ModelName,
		Speed:       domain.WorkerSpeed,
		QueueLength: int(ql),
	}
}

// Pending returns the number of tasks waiting to be batched.
func (w *Worker) Pending() int { return w.tasks.Len() }

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Start registers with the controller and begins scheduling. It is a no-op
// when already online. A failed registration leaves the worker offline.
func (w *Worker) Start(ctx context.Context) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if w.Online() {
		return nil
	}

	// Timers outlive the caller's context; Stop cancels them.
	timerCtx := context.WithoutCancel(ctx)
	w.timers.Add(timerCtx, heartbeatTimer, w.cfg.HeartbeatCheckInterval, w.heartbeatTick)
	if err := w.register(ctx); err != nil {
		w.timers.CancelAll()
		return fmt.Errorf("start worker: %w", err)
	}
	w.timers.Add(timerCtx, inferenceTimer, w.cfg.InferenceInterval, w.inferenceTick)

	w.mu.Lock()
	w.online = true
	w.mu.Unlock()

	w.log.Info("worker online", "model", w.cfg.ModelName, "addr", w.cfg.WorkerAddr,
		"max_batch", w.cfg.MaxBatch, "limit_concurrency", w.cfg.LimitConcurrency)
	return nil
}

// Stop cancels the timers, waiting for an in-flight decoding pass, then
// deregisters. Tasks still queued are failed. It is a no-op when offline.
func (w *Worker) Stop(ctx context.Context) {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	if !w.Online() {
		return
	}

	w.timers.CancelAll()
	if err := w.ctrl.Remove(ctx, w.cfg.WorkerID); err != nil {
		w.log.Error("deregistration failed", "error", err)
	}

	w.mu.Lock()
	w.online = false
	pending := w.tasks.DrainAll()
	w.mu.Unlock()

	metrics.TasksPending.Set(0)
	for _, t := range pending {
		w.deliver(domain.ErrorEvent(t.ID, domain.WrapTaskError(domain.CodeInternal, domain.ErrShuttingDown)))
	}
	w.log.Info("worker offline", "failed_pending", len(pending))
}

// ─── Task Intake ────────────────────────────────────────────────────────────

// Submit validates and enqueues a task and opens its result stream.
func (w *Worker) Submit(task domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.online {
		return domain.WrapTaskError(domain.CodeInternal, domain.ErrOffline)
	}
	if w.cfg.MaxQueued > 0 && w.tasks.Len() >= w.cfg.MaxQueued {
		return domain.WrapTaskError(domain.CodeEngineOverloaded, domain.ErrEngineOverloaded)
	}
	if err := w.results.Open(task.ID); err != nil {
		return domain.WrapTaskError(domain.CodeValidation, fmt.Errorf("task %s: %w", task.ID, err))
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = w.now()
	}
	w.tasks.Push(task)
	metrics.TasksPending.Set(float64(w.tasks.Len()))
	return nil
}

// Stream returns the task's result events; see queue.Results.Stream.
func (w *Worker) Stream(ctx context.Context, taskID string) (iter.Seq[domain.ResultEvent], error) {
	return w.results.Stream(ctx, taskID)
}

// Generate submits a task and returns its event stream.
func (w *Worker) Generate(ctx context.Context, task domain.Task) (iter.Seq[domain.ResultEvent], error) {
	if err := w.Submit(task); err != nil {
		return nil, err
	}
	return w.Stream(ctx, task.ID)
}
