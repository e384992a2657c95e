// Package controller is the worker's HTTP client for the cluster
// controller: registration, removal and heartbeats.
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/langport/worker/internal/domain"
)

const (
	registerPath  = "/register_worker"
	removePath    = "/remove_worker"
	heartbeatPath = "/receive_heart_beat"

	DefaultTimeout    = 20 * time.Second
	DefaultAttempts   = 5
	DefaultMaxBackoff = 2 * time.Second
)

// ─── Wire Types ─────────────────────────────────────────────────────────────

// RegisterRequest announces a worker to the controller.
type RegisterRequest struct {
	WorkerID       string              `json:"worker_id"`
	WorkerAddr     string              `json:"worker_addr"`
	WorkerType     string              `json:"worker_type"`
	CheckHeartBeat bool                `json:"check_heart_beat"`
	WorkerStatus   domain.WorkerStatus `json:"worker_status"`
}

// RemoveRequest deregisters a worker.
type RemoveRequest struct {
	WorkerID string `json:"worker_id"`
}

// HeartbeatRequest reports liveness and load.
type HeartbeatRequest struct {
	WorkerID string              `json:"worker_id"`
	Status   domain.WorkerStatus `json:"status"`
}

// HeartbeatResponse tells the worker whether the controller still knows it.
type HeartbeatResponse struct {
	Exist bool `json:"exist"`
}

// ─── Client ─────────────────────────────────────────────────────────────────

// Config configures a Client.
type Config struct {
	Address    string
	Timeout    time.Duration // per request
	Attempts   int           // heartbeat attempts per cycle
	MaxBackoff time.Duration // cap between heartbeat attempts
}

// Client talks to one controller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	attempts   int
	maxBackoff time.Duration
	log        *slog.Logger
}

// New creates a controller client. Zero config values take the defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Address, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		attempts:   cfg.Attempts,
		maxBackoff: cfg.MaxBackoff,
		log:        logger.With("component", "controller", "address", cfg.Address),
	}
}

// Register announces the worker. Anything but 200 OK is a failure.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	resp, err := c.post(ctx, registerPath, req)
	if err != nil {
		return fmt.Errorf("register worker %s: %w", req.WorkerID, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register worker %s: %s: %w", req.WorkerID, resp.Status, domain.ErrRegistrationFailed)
	}
	return nil
}

// Remove deregisters the worker.
func (c *Client) Remove(ctx context.Context, workerID string) error {
	resp, err := c.post(ctx, removePath, RemoveRequest{WorkerID: workerID})
	if err != nil {
		return fmt.Errorf("remove worker %s: %w", workerID, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remove worker %s: %s: %w", workerID, resp.Status, domain.ErrControllerStatus)
	}
	return nil
}

// Heartbeat sends one heartbeat, retrying transport failures and non-2xx
// responses with a capped, jittered backoff.
func (c *Client) Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	backoff := newBackoff(c.maxBackoff)

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			if err := backoff(ctx); err != nil {
				return HeartbeatResponse{}, fmt.Errorf("heartbeat: %w", err)
			}
		}

		out, err := c.heartbeatOnce(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		c.log.Debug("heartbeat attempt failed", "attempt", attempt, "error", err)
	}
	return HeartbeatResponse{}, fmt.Errorf("heartbeat after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) heartbeatOnce(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error) {
	resp, err := c.post(ctx, heartbeatPath, req)
	if err != nil {
		return HeartbeatResponse{}, err
	}
	defer drainClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HeartbeatResponse{}, fmt.Errorf("%s: %w", resp.Status, domain.ErrControllerStatus)
	}
	var out HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return HeartbeatResponse{}, fmt.Errorf("decode heartbeat response: %w", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// newBackoff returns a wait function whose n-th call sleeps roughly n²×10ms,
// capped at maxBackoff and jittered by 0.5-1.5x.
func newBackoff(maxBackoff time.Duration) func(ctx context.Context) error {
	var n int
	return func(ctx context.Context) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n++
		d := min(time.Duration(n*n)*10*time.Millisecond, maxBackoff)
		d = time.Duration(float64(d) * (rand.Float64() + 0.5))
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
}
