package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/langport/worker/internal/api"
	"github.com/langport/worker/internal/domain"
	"github.com/langport/worker/internal/health"
	"github.com/langport/worker/internal/infra/controller"
	"github.com/langport/worker/internal/infra/engine"
	"github.com/langport/worker/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Daemon is the worker runtime. It wires together all services.
type Daemon struct {
	Config     Config
	Logger     *slog.Logger
	Engine     *engine.Engine
	Controller *controller.Client
	Worker     *worker.Worker
	Server     *api.Server
	Health     *health.Checker
	cancel     context.CancelFunc
}

// New loads the config at path and builds a Daemon from it.
func New(path string) (*Daemon, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with all services wired.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Worker.ID == "" {
		cfg.Worker.ID = uuid.NewString()
	}
	if cfg.Inference.Seed == 0 {
		cfg.Inference.Seed = rand.Uint64()
	}

	logger := NewLogger(cfg.Logging, os.Stderr)
	model, tok := newBackend(cfg.Inference, logger)

	eng := engine.New(model, tok, cfg.engineConfig(), logger)
	ctrl := controller.New(cfg.controllerConfig(), logger)
	w := worker.New(cfg.workerConfig(), ctrl, eng, logger)

	checker := health.NewChecker(parseDuration(cfg.Health.Interval, health.DefaultInterval),
		health.OnlineCheck(w.Online),
		health.ProgressCheck(w.Pending, eng.Completed),
		health.QueueCheck(w.Pending, cfg.Health.MaxPending),
	)

	srv := api.NewServer(w, logger)
	srv.SetHealth(checker)
	srv.SetRequestTimeout(parseDuration(cfg.API.RequestTimeout, api.DefaultRequestTimeout))
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}

	return &Daemon{
		Config:     cfg,
		Logger:     logger,
		Engine:     eng,
		Controller: ctrl,
		Worker:     w,
		Server:     srv,
		Health:     checker,
	}, nil
}

// newBackend returns the model backend named by cfg.Backend. Only the
// built-in echo backend exists; Validate rejects anything else.
func newBackend(cfg InferenceConfig, logger *slog.Logger) (domain.Model, domain.Tokenizer) {
	logger.Warn("serving the built-in echo model", "backend", cfg.Backend)
	return engine.NewEchoModel(), engine.ByteTokenizer{}
}

// Serve starts the HTTP server, registers with the controller and blocks
// until ctx is cancelled or the process is signalled. A failed registration
// shuts the server down and is returned.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	httpServer := &http.Server{
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: parseDuration(d.Config.API.RequestTimeout, api.DefaultRequestTimeout) + 10*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// The API is already listening, so the controller can reach us as
		// soon as we register.
		if err := d.Worker.Start(gctx); err != nil {
			return err
		}
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		d.Worker.Stop(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	d.Logger.Info("langport worker serving", "addr", ln.Addr().String(),
		"worker_id", d.Config.Worker.ID, "controller", d.Config.Controller.Address,
		"metrics", d.Config.Telemetry.Prometheus)
	return g.Wait()
}

// Close stops a running Serve.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
}

// ─── Config Conversion ──────────────────────────────────────────────────────

func (c Config) workerConfig() worker.Config {
	d := worker.DefaultConfig()
	return worker.Config{
		WorkerID:               c.Worker.ID,
		WorkerAddr:             c.Worker.Address,
		WorkerType:             c.Worker.Type,
		ModelName:              c.Worker.ModelName,
		LimitConcurrency:       c.Worker.LimitConcurrency,
		MaxBatch:               c.Worker.MaxBatch,
		MaxQueued:              c.Worker.MaxQueued,
		InferenceInterval:      parseDuration(c.Inference.Interval, d.InferenceInterval),
		HeartbeatInterval:      parseDuration(c.Heartbeat.Interval, d.HeartbeatInterval),
		HeartbeatCheckInterval: parseDuration(c.Heartbeat.CheckInterval, d.HeartbeatCheckInterval),
	}
}

func (c Config) controllerConfig() controller.Config {
	return controller.Config{
		Address:    c.Controller.Address,
		Timeout:    parseDuration(c.Controller.Timeout, controller.DefaultTimeout),
		Attempts:   c.Heartbeat.Attempts,
		MaxBackoff: parseDuration(c.Heartbeat.MaxBackoff, controller.DefaultMaxBackoff),
	}
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{
		ModelName:      c.Worker.ModelName,
		StreamInterval: c.Inference.StreamInterval,
		ContextLength:  c.Inference.ContextLength,
		Seed:           c.Inference.Seed,
	}
}

// parseDuration parses a duration string with a fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
