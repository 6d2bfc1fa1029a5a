package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/protocol"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "sies.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		// minimal override
		"pool": { "min_idle": 3 }
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Pool.MinIdle != 3 {
		t.Fatalf("Pool.MinIdle = %d, want 3", cfg.Pool.MinIdle)
	}
	if cfg.Pool.MaxSessions != 10 {
		t.Fatalf("Pool.MaxSessions default = %d, want 10", cfg.Pool.MaxSessions)
	}
	if cfg.Server.Address != ":8942" {
		t.Fatalf("Server.Address default = %q, want %q", cfg.Server.Address, ":8942")
	}
	if cfg.Worker.Backpressure != "block" {
		t.Fatalf("Worker.Backpressure default = %q, want %q", cfg.Worker.Backpressure, "block")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{}`)

	t.Setenv("SIES_SERVER_ADDRESS", ":9999")
	t.Setenv("SIES_POOL_MIN_IDLE", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("Server.Address = %q, want %q", cfg.Server.Address, ":9999")
	}
	if cfg.Pool.MinIdle != 7 {
		t.Fatalf("Pool.MinIdle = %d, want 7", cfg.Pool.MinIdle)
	}
}

func TestFindConfigPathExplicitDir(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{}`)

	path, err := FindConfigPath(dir)
	if err != nil {
		t.Fatalf("FindConfigPath() error = %v", err)
	}
	if filepath.Base(path) != "sies.jsonc" {
		t.Fatalf("FindConfigPath() = %q, want basename sies.jsonc", path)
	}
}

func TestFindConfigPathMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := FindConfigPath(filepath.Join(dir, "does-not-exist")); err == nil {
		t.Fatal("FindConfigPath() should error when no candidate exists")
	}
}

func TestSessionConfigConversion(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	sc := cfg.SessionConfig()
	if sc.ReadyTimeout.Milliseconds() != int64(cfg.Session.ReadyTimeoutMs) {
		t.Fatalf("ReadyTimeout = %v, want %dms", sc.ReadyTimeout, cfg.Session.ReadyTimeoutMs)
	}
}

func TestEncodingParsing(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Encoding = "json"
	enc, err := cfg.Encoding()
	if err != nil {
		t.Fatalf("Encoding() error = %v", err)
	}
	if enc != 1 {
		t.Fatalf("Encoding() for %q = %v, want EncodingJSON", "json", enc)
	}

	cfg.Server.Encoding = "bogus"
	if _, err := cfg.Encoding(); err == nil {
		t.Fatal("Encoding() with unknown value should error")
	}
}

func TestWorkerConfigConversion(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	wc := cfg.WorkerConfig()
	if wc.HeartbeatInterval.Milliseconds() != int64(cfg.Worker.HeartbeatMs) {
		t.Fatalf("HeartbeatInterval = %v, want %dms", wc.HeartbeatInterval, cfg.Worker.HeartbeatMs)
	}
	if wc.ExecutorConfig.OutputQueueMaxSize != cfg.Worker.OutputQueueMaxSize {
		t.Fatalf("ExecutorConfig.OutputQueueMaxSize = %d, want %d", wc.ExecutorConfig.OutputQueueMaxSize, cfg.Worker.OutputQueueMaxSize)
	}
	if string(wc.ExecutorConfig.Backpressure) != cfg.Worker.Backpressure {
		t.Fatalf("ExecutorConfig.Backpressure = %q, want %q", wc.ExecutorConfig.Backpressure, cfg.Worker.Backpressure)
	}
	if wc.ExecutorConfig.DrainTimeout.Milliseconds() != int64(cfg.Worker.DrainTimeoutMs) {
		t.Fatalf("ExecutorConfig.DrainTimeout = %v, want %dms", wc.ExecutorConfig.DrainTimeout, cfg.Worker.DrainTimeoutMs)
	}
	if wc.ExecutorConfig.ChunkSizeBytes != cfg.Worker.ChunkSizeBytes {
		t.Fatalf("ExecutorConfig.ChunkSizeBytes = %d, want %d", wc.ExecutorConfig.ChunkSizeBytes, cfg.Worker.ChunkSizeBytes)
	}
}

func TestPoolConfigConversion(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	pc := cfg.PoolConfig(nil, launcher.Config{}, protocol.EncodingBinary, nil)
	if pc.MinIdle != cfg.Pool.MinIdle {
		t.Fatalf("MinIdle = %d, want %d", pc.MinIdle, cfg.Pool.MinIdle)
	}
	if pc.CircuitCooldown.Milliseconds() != int64(cfg.Pool.CircuitCooldownMs) {
		t.Fatalf("CircuitCooldown = %v, want %dms", pc.CircuitCooldown, cfg.Pool.CircuitCooldownMs)
	}
}
