// Package api provides the worker's HTTP server: health, status and the
// generation endpoints the controller routes requests to.
package api

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/langport/worker/internal/domain"
	"github.com/langport/worker/internal/health"
)

// DefaultRequestTimeout bounds one request, streaming included.
const DefaultRequestTimeout = 5 * time.Minute

// Worker is what the HTTP layer needs from the worker.
type Worker interface {
	ID() string
	Online() bool
	Status() domain.WorkerStatus
	Pending() int
	Generate(ctx context.Context, task domain.Task) (iter.Seq[domain.ResultEvent], error)
}

// HealthReporter supplies the latest health check results.
type HealthReporter interface {
	Statuses() []health.Status
	IsHealthy() bool
}

// Server is the worker HTTP API server.
type Server struct {
	worker         Worker
	health         HealthReporter
	metricsEnabled bool
	timeout        time.Duration
	log            *slog.Logger
}

// NewServer creates a new API server.
func NewServer(w Worker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		worker:  w,
		timeout: DefaultRequestTimeout,
		log:     logger.With("component", "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth makes /health report h. Without it /health only answers ok.
func (s *Server) SetHealth(h HealthReporter) { s.health = h }

// SetRequestTimeout overrides DefaultRequestTimeout.
func (s *Server) SetRequestTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Post("/worker_get_status", s.handleStatus)
	r.Post("/worker_generate_stream", s.handleGenerateStream)
	r.Post("/worker_generate", s.handleGenerate)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type healthResponse struct {
	Status string          `json:"status"`
	Checks []health.Status `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	resp := healthResponse{Status: "ok", Checks: s.health.Statuses()}
	status := http.StatusOK
	if !s.health.IsHealthy() {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// statusResponse is the worker status plus identity and intake depth.
type statusResponse struct {
	WorkerID string `json:"worker_id"`
	Online   bool   `json:"online"`
	domain.WorkerStatus
	Pending int `json:"pending"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		WorkerID:     s.worker.ID(),
		Online:       s.worker.Online(),
		WorkerStatus: s.worker.Status(),
		Pending:      s.worker.Pending(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a coded JSON error response with the code's HTTP status.
func writeError(w http.ResponseWriter, code domain.ErrorCode, msg string) {
	writeJSON(w, code.HTTPStatus(), map[string]any{
		"error": map[string]any{
			"code":    code,
			"type":    code.String(),
			"message": msg,
		},
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
