// Package config loads SIES's single JSONC configuration file (spec
// §6.2): server address/encoding, pool watermarks and circuit breaker
// tunables, session timeouts, and worker execution limits. Grounded on
// the teacher's config/unified.go single-file-with-precedence loader and
// its StripJSONComments-then-json.Unmarshal pattern, generalized from the
// teacher's oubliette.jsonc schema to SIES's own sections.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/casepot/sies/internal/executor"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/pool"
	"github.com/casepot/sies/internal/pump"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/session"
	"github.com/casepot/sies/internal/worker"
)

// Config is the single sies.jsonc configuration file's shape.
type Config struct {
	Server  ServerSection  `json:"server"`
	Pool    PoolSection    `json:"pool"`
	Session SessionSection `json:"session"`
	Worker  WorkerSection  `json:"worker"`
}

// ServerSection configures the controller daemon's listener and the
// wire encoding it speaks to worker subprocesses.
type ServerSection struct {
	Address  string `json:"address"`
	Encoding string `json:"encoding"` // "binary" or "json"

	WorkerCommand string   `json:"worker_command"`
	WorkerArgs    []string `json:"worker_args"`
}

// PoolSection maps directly onto pool.Config's tunables.
type PoolSection struct {
	MinIdle                 int    `json:"min_idle"`
	MaxSessions             int    `json:"max_sessions"`
	MaxInFlightCreates      int    `json:"max_in_flight_creates"`
	HealthCheckInterval     string `json:"health_check_interval"`
	CircuitFailureThreshold int    `json:"circuit_failure_threshold"`
	CircuitCooldownMs       int    `json:"circuit_cooldown_ms"`
}

// SessionSection maps directly onto session.Config's tunables.
type SessionSection struct {
	ReadyTimeoutMs      int `json:"ready_timeout_ms"`
	CancelGraceMs       int `json:"cancel_grace_ms"`
	InterceptorBudgetMs int `json:"interceptor_budget_ms"`
	InputTimeoutMs      int `json:"input_timeout_ms"`
	ExecuteQueueSize    int `json:"execute_queue_size"`
	RecentResultsSize   int `json:"recent_results_size"`
}

// WorkerSection maps onto worker.Config/executor.Config's tunables
// (heartbeat_ms, ready_timeout_ms, input_timeout_ms, output_queue_maxsize,
// backpressure, chunk_size_bytes, drain_timeout_ms). There is no
// cancel_check_interval setting.
type WorkerSection struct {
	HeartbeatMs        int    `json:"heartbeat_ms"`
	ReadyTimeoutMs     int    `json:"ready_timeout_ms"`
	InputTimeoutMs     int    `json:"input_timeout_ms"`
	OutputQueueMaxSize int    `json:"output_queue_maxsize"`
	Backpressure       string `json:"backpressure"` // "block", "drop_new", "drop_oldest", "error"
	ChunkSizeBytes     int    `json:"chunk_size_bytes"`
	DrainTimeoutMs     int    `json:"drain_timeout_ms"`
}

// FindConfigPath resolves sies.jsonc using precedence: an explicit
// configDir argument, then ./config/sies.jsonc, then ~/.sies/sies.jsonc.
func FindConfigPath(configDir string) (string, error) {
	var candidates []string
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "sies.jsonc"))
	}
	candidates = append(candidates, filepath.Join("config", "sies.jsonc"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".sies", "sies.jsonc"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}
	return "", fmt.Errorf("sies.jsonc not found; tried: %v", candidates)
}

// Load reads and parses configPath, applying defaults for any zero-valued
// field and then SIES_*-prefixed environment variable overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(StripJSONComments(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", configPath, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	if c.Server.Address == "" {
		c.Server.Address = ":8942"
	}
	if c.Server.Encoding == "" {
		c.Server.Encoding = "binary"
	}
	if c.Server.WorkerCommand == "" {
		c.Server.WorkerCommand = "siesworker"
	}

	if c.Pool.MinIdle <= 0 {
		c.Pool.MinIdle = 1
	}
	if c.Pool.MaxSessions <= 0 {
		c.Pool.MaxSessions = 10
	}
	if c.Pool.MaxInFlightCreates <= 0 {
		c.Pool.MaxInFlightCreates = 4
	}
	if c.Pool.HealthCheckInterval == "" {
		c.Pool.HealthCheckInterval = "@every 30s"
	}
	if c.Pool.CircuitFailureThreshold <= 0 {
		c.Pool.CircuitFailureThreshold = 5
	}
	if c.Pool.CircuitCooldownMs <= 0 {
		c.Pool.CircuitCooldownMs = 30000
	}

	if c.Session.ReadyTimeoutMs <= 0 {
		c.Session.ReadyTimeoutMs = 5000
	}
	if c.Session.CancelGraceMs <= 0 {
		c.Session.CancelGraceMs = 500
	}
	if c.Session.InterceptorBudgetMs <= 0 {
		c.Session.InterceptorBudgetMs = 10
	}
	if c.Session.InputTimeoutMs <= 0 {
		c.Session.InputTimeoutMs = 60000
	}
	if c.Session.ExecuteQueueSize <= 0 {
		c.Session.ExecuteQueueSize = 256
	}
	if c.Session.RecentResultsSize <= 0 {
		c.Session.RecentResultsSize = 20
	}

	if c.Worker.HeartbeatMs <= 0 {
		c.Worker.HeartbeatMs = 5000
	}
	if c.Worker.ReadyTimeoutMs <= 0 {
		c.Worker.ReadyTimeoutMs = 10000
	}
	if c.Worker.InputTimeoutMs <= 0 {
		c.Worker.InputTimeoutMs = 60000
	}
	if c.Worker.OutputQueueMaxSize <= 0 {
		c.Worker.OutputQueueMaxSize = 1024
	}
	if c.Worker.Backpressure == "" {
		c.Worker.Backpressure = "block"
	}
	if c.Worker.ChunkSizeBytes <= 0 {
		c.Worker.ChunkSizeBytes = 65536
	}
	if c.Worker.DrainTimeoutMs <= 0 {
		c.Worker.DrainTimeoutMs = 2000
	}
}

// applyEnvOverrides lets deployment environments override the handful of
// settings that commonly vary by environment without editing the file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("SIES_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("SIES_POOL_MIN_IDLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MinIdle = n
		}
	}
	if v := os.Getenv("SIES_POOL_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pool.MaxSessions = n
		}
	}
}

// SessionConfig converts the JSON section to session.Config.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		ReadyTimeout:      time.Duration(c.Session.ReadyTimeoutMs) * time.Millisecond,
		CancelGrace:       time.Duration(c.Session.CancelGraceMs) * time.Millisecond,
		InterceptorBudget: time.Duration(c.Session.InterceptorBudgetMs) * time.Millisecond,
		InputTimeout:      time.Duration(c.Session.InputTimeoutMs) * time.Millisecond,
		ExecuteQueueSize:  c.Session.ExecuteQueueSize,
		RecentResultsSize: c.Session.RecentResultsSize,
	}
}

// WorkerConfig converts the JSON section to worker.Config.
func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		HeartbeatInterval: time.Duration(c.Worker.HeartbeatMs) * time.Millisecond,
		ReadyTimeout:      time.Duration(c.Worker.ReadyTimeoutMs) * time.Millisecond,
		InputTimeout:      time.Duration(c.Worker.InputTimeoutMs) * time.Millisecond,
		ExecutorConfig: executor.Config{
			OutputQueueMaxSize: c.Worker.OutputQueueMaxSize,
			Backpressure:       pump.Mode(c.Worker.Backpressure),
			InputTimeout:       time.Duration(c.Worker.InputTimeoutMs) * time.Millisecond,
			DrainTimeout:       time.Duration(c.Worker.DrainTimeoutMs) * time.Millisecond,
			ChunkSizeBytes:     c.Worker.ChunkSizeBytes,
		},
	}
}

// PoolConfig converts the JSON section to pool.Config, filling in l/lc/enc
// since those are runtime-constructed, not JSON-serializable.
func (c *Config) PoolConfig(l launcher.Launcher, lc launcher.Config, enc protocol.Encoding, interceptors []session.Interceptor) pool.Config {
	return pool.Config{
		MinIdle:                 c.Pool.MinIdle,
		MaxSessions:             c.Pool.MaxSessions,
		MaxInFlightCreates:      c.Pool.MaxInFlightCreates,
		HealthCheckInterval:     c.Pool.HealthCheckInterval,
		CircuitFailureThreshold: c.Pool.CircuitFailureThreshold,
		CircuitCooldown:         time.Duration(c.Pool.CircuitCooldownMs) * time.Millisecond,
		Launcher:                l,
		LaunchConfig:            lc,
		Encoding:                enc,
		SessionConfig:           c.SessionConfig(),
		Interceptors:            interceptors,
	}
}

// Encoding parses the server's configured wire encoding.
func (c *Config) Encoding() (protocol.Encoding, error) {
	switch c.Server.Encoding {
	case "binary", "":
		return protocol.EncodingBinary, nil
	case "json":
		return protocol.EncodingJSON, nil
	default:
		return 0, fmt.Errorf("config: unknown server.encoding %q", c.Server.Encoding)
	}
}
