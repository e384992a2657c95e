package cli

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langport/worker/internal/daemon"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestApplyServeFlags(t *testing.T) {
	t.Cleanup(func() {
		serveHost, servePort, serveController, serveModel, serveMaxBatch = "", 0, "", "", 0
	})
	serveHost = "0.0.0.0"
	servePort = 9000
	serveController = "http://ctrl:1"
	serveModel = "tiny"
	serveMaxBatch = 3

	cfg := daemon.DefaultConfig()
	applyServeFlags(&cfg)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 9000, cfg.API.Port)
	assert.Equal(t, "http://ctrl:1", cfg.Controller.Address)
	assert.Equal(t, "tiny", cfg.Worker.ModelName)
	assert.Equal(t, 3, cfg.Worker.MaxBatch)
	assert.Equal(t, daemon.DefaultConfig().Worker.Address, cfg.Worker.Address, "unset flag must not override")
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.toml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[controller]")
	assert.Contains(t, out, `model_name = "echo"`)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/worker_get_status", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"worker_id":"w1","online":true,"model_name":"echo","speed":1,"queue_length":4,"pending":2}`))
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--addr", srv.URL)
	require.NoError(t, err)
	for _, want := range []string{"WORKER", "w1", "echo", "online", "4"} {
		assert.Contains(t, out, want)
	}
}

func TestStatus_WorkerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":50001,"type":"INTERNAL","message":"boom"}}`))
	}))
	defer srv.Close()

	_, err := execute(t, "status", "--addr", srv.URL)
	assert.ErrorContains(t, err, "boom")
}

func TestPrintStream(t *testing.T) {
	tests := []struct {
		name    string
		stream  string
		want    string
		wantErr string
	}{
		{
			name: "incremental",
			stream: `{"task_id":"t","type":"data","text":"he"}
{"task_id":"t","type":"data","text":"hello"}
{"task_id":"t","type":"done"}
`,
			want: "hello\n",
		},
		{
			name: "error event",
			stream: `{"task_id":"t","type":"data","text":"a"}
{"task_id":"t","type":"error","error_code":50001,"message":"out of memory"}
`,
			want:    "a\n",
			wantErr: "out of memory",
		},
		{
			name:    "truncated",
			stream:  `{"task_id":"t","type":"data","text":"a"}` + "\n",
			want:    "a",
			wantErr: "stream ended",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := printStream(&out, strings.NewReader(tt.stream))
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.want, out.String())
		})
	}
}
