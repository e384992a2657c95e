package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langport/worker/internal/domain"
)

func newTestClient(url string) *Client {
	return New(Config{Address: url + "/", Timeout: time.Second, Attempts: 3, MaxBackoff: 5 * time.Millisecond}, nil)
}

func TestRegister(t *testing.T) {
	var got RegisterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, registerPath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req := RegisterRequest{
		WorkerID:       "w1",
		WorkerAddr:     "http://10.0.0.1:21002",
		WorkerType:     "generation",
		CheckHeartBeat: true,
		WorkerStatus:   domain.WorkerStatus{ModelName: "echo", Speed: 1, QueueLength: 2},
	}
	require.NoError(t, newTestClient(srv.URL).Register(context.Background(), req))
	assert.Equal(t, req, got)
}

func TestRegister_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Register(context.Background(), RegisterRequest{WorkerID: "w1"})
	assert.ErrorIs(t, err, domain.ErrRegistrationFailed)
}

func TestRegister_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(url).Register(context.Background(), RegisterRequest{WorkerID: "w1"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrRegistrationFailed)
}

func TestRemove(t *testing.T) {
	var got RemoveRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, removePath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(srv.URL).Remove(context.Background(), "w1"))
	assert.Equal(t, "w1", got.WorkerID)
}

func TestHeartbeat(t *testing.T) {
	var got HeartbeatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, heartbeatPath, r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(HeartbeatResponse{Exist: false})
	}))
	defer srv.Close()

	req := HeartbeatRequest{WorkerID: "w1", Status: domain.WorkerStatus{ModelName: "echo", Speed: 1}}
	resp, err := newTestClient(srv.URL).Heartbeat(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, resp.Exist)
	assert.Equal(t, req, got)
}

func TestHeartbeat_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(HeartbeatResponse{Exist: true})
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Heartbeat(context.Background(), HeartbeatRequest{WorkerID: "w1"})
	require.NoError(t, err)
	assert.True(t, resp.Exist)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHeartbeat_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Heartbeat(context.Background(), HeartbeatRequest{WorkerID: "w1"})
	assert.ErrorIs(t, err, domain.ErrControllerStatus)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHeartbeat_MalformedResponseRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Heartbeat(context.Background(), HeartbeatRequest{WorkerID: "w1"})
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestHeartbeat_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{Address: srv.URL, Attempts: 5, MaxBackoff: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Heartbeat(ctx, HeartbeatRequest{WorkerID: "w1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start).Seconds(), 5.0)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Config{Address: "http://controller:21001/"}, nil)
	assert.Equal(t, "http://controller:21001", c.baseURL)
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Equal(t, DefaultAttempts, c.attempts)
	assert.Equal(t, DefaultMaxBackoff, c.maxBackoff)
}

func TestNewBackoff_Capped(t *testing.T) {
	backoff := newBackoff(2 * time.Millisecond)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, backoff(context.Background()))
	}
	assert.Less(t, time.Since(start).Seconds(), 1.0)
}
