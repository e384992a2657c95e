// Package daemon manages the worker process lifecycle and configuration.
package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all worker process configuration.
type Config struct {
	Worker     WorkerConfig     `toml:"worker" yaml:"worker"`
	Controller ControllerConfig `toml:"controller" yaml:"controller"`
	Heartbeat  HeartbeatConfig  `toml:"heartbeat" yaml:"heartbeat"`
	Inference  InferenceConfig  `toml:"inference" yaml:"inference"`
	API        APIConfig        `toml:"api" yaml:"api"`
	Health     HealthConfig     `toml:"health" yaml:"health"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Telemetry  TelemetryConfig  `toml:"telemetry" yaml:"telemetry"`
}

// WorkerConfig identifies this worker to the controller.
type WorkerConfig struct {
	ID               string `toml:"id" yaml:"id"`
	Address          string `toml:"address" yaml:"address"` // advertised worker_addr
	Type             string `toml:"type" yaml:"type"`
	ModelName        string `toml:"model_name" yaml:"model_name"`
	LimitConcurrency int    `toml:"limit_concurrency" yaml:"limit_concurrency"`
	MaxBatch         int    `toml:"max_batch" yaml:"max_batch"`
	MaxQueued        int    `toml:"max_queued" yaml:"max_queued"`
}

// ControllerConfig locates the controller.
type ControllerConfig struct {
	Address string `toml:"address" yaml:"address"`
	Timeout string `toml:"timeout" yaml:"timeout"`
}

// HeartbeatConfig controls liveness reporting.
type HeartbeatConfig struct {
	Interval      string `toml:"interval" yaml:"interval"`
	CheckInterval string `toml:"check_interval" yaml:"check_interval"`
	Attempts      int    `toml:"attempts" yaml:"attempts"`
	MaxBackoff    string `toml:"max_backoff" yaml:"max_backoff"`
}

// InferenceConfig controls the decoding engine.
type InferenceConfig struct {
	Backend        string `toml:"backend" yaml:"backend"`
	Interval       string `toml:"interval" yaml:"interval"`
	StreamInterval int    `toml:"stream_interval" yaml:"stream_interval"`
	ContextLength  int    `toml:"context_length" yaml:"context_length"`
	Seed           uint64 `toml:"seed" yaml:"seed"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host           string `toml:"host" yaml:"host"`
	Port           int    `toml:"port" yaml:"port"`
	RequestTimeout string `toml:"request_timeout" yaml:"request_timeout"`
}

// HealthConfig controls the periodic self checks behind /health.
type HealthConfig struct {
	Interval   string `toml:"interval" yaml:"interval"`
	MaxPending int    `toml:"max_pending" yaml:"max_pending"` // 0 disables the queue check
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // text or json
}

// TelemetryConfig controls metrics exposure.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus" yaml:"prometheus"`
}

// DefaultConfig returns the standard single-worker configuration.
func DefaultConfig() Config {
	return Config{
		Worker: WorkerConfig{
			Address:          "http://127.0.0.1:21002",
			Type:             "generation",
			ModelName:        "echo",
			LimitConcurrency: 1,
			MaxBatch:         8,
		},
		Controller: ControllerConfig{
			Address: "http://127.0.0.1:21001",
			Timeout: "20s",
		},
		Heartbeat: HeartbeatConfig{
			Interval:      "30s",
			CheckInterval: "5s",
			Attempts:      5,
			MaxBackoff:    "2s",
		},
		Inference: InferenceConfig{
			Backend:        "echo",
			Interval:       "500ms",
			StreamInterval: 2,
			ContextLength:  2048,
		},
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           21002,
			RequestTimeout: "5m",
		},
		Health: HealthConfig{
			Interval: "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// Validate rejects configurations the worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Controller.Address == "" {
		errs = append(errs, errors.New("controller.address is required"))
	}
	if c.Worker.ModelName == "" {
		errs = append(errs, errors.New("worker.model_name is required"))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.Health.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("health.max_pending must be >= 0, got %d", c.Health.MaxPending))
	}
	if c.Worker.MaxQueued < 0 {
		errs = append(errs, fmt.Errorf("worker.max_queued must be >= 0, got %d", c.Worker.MaxQueued))
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Inference.Backend != "echo" {
		errs = append(errs, fmt.Errorf("inference.backend %q is not available", c.Inference.Backend))
	}
	return errors.Join(errs...)
}

// LoadConfig reads the config file at path, falling back to defaults when it
// does not exist. An empty path means ConfigPath(). Files ending in .yaml or
// .yml are parsed as YAML, everything else as TOML.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		_, err = toml.Decode(string(data), &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in the format its extension selects.
func SaveConfig(cfg Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	var buf bytes.Buffer
	var err error
	if isYAML(path) {
		err = yaml.NewEncoder(&buf).Encode(cfg)
	} else {
		err = EncodeTOML(&buf, cfg)
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// EncodeTOML writes cfg as TOML.
func EncodeTOML(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ConfigPath returns the config file location: $LANGPORT_CONFIG, or
// config.toml under Home().
func ConfigPath() string {
	if env := os.Getenv("LANGPORT_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(Home(), "config.toml")
}

// Home returns the worker data directory.
func Home() string {
	if env := os.Getenv("LANGPORT_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".langport")
}
