// Command siesd is the controller-side daemon (spec §4.9, SPEC_FULL §2):
// it owns a pool.Pool of warm worker sessions and exposes a Prometheus
// /metrics endpoint. It intentionally has no REST/WebSocket frontend —
// spec.md's Non-goals exclude a network protocol for executions, and
// SPEC_FULL.md keeps that scope: this binary is the minimal ambient
// harness a real frontend would sit behind, grounded on the teacher's
// cmd/server/main.go flag/config/http.Server wiring.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/casepot/sies/internal/config"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/pool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "siesd:", err)
		os.Exit(1)
	}
}

func run() error {
	configDir := flag.String("config-dir", "", "directory containing sies.jsonc")
	flag.Parse()

	if err := logger.Init(envOr("SIES_LOG_DIR", "/var/log/sies"), true); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	path, err := config.FindConfigPath(*configDir)
	var cfg *config.Config
	if err != nil {
		logger.Warn("siesd: no sies.jsonc found (%v), using defaults", err)
		cfg = &config.Config{}
	} else if cfg, err = config.Load(path); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	enc, err := cfg.Encoding()
	if err != nil {
		return err
	}

	l := &launcher.ProcessLauncher{}
	lc := launcher.Config{
		Command: cfg.Server.WorkerCommand,
		Args:    cfg.Server.WorkerArgs,
		Env:     append(os.Environ(), workerEnv(cfg)...),
	}

	p := pool.New(cfg.PoolConfig(l, lc, enc, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	p.Start(ctx)
	defer p.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: metrics.Middleware(mux),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("siesd: listening on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// workerEnv turns the loaded worker config section into the environment
// variables cmd/siesworker reads, so a worker subprocess sees the same
// centrally-configured heartbeat/timeout/backpressure values siesd itself
// loaded, rather than its own hardcoded defaults.
func workerEnv(cfg *config.Config) []string {
	enc := "binary"
	if cfg.Server.Encoding == "json" {
		enc = "json"
	}
	return []string{
		"SIES_ENCODING=" + enc,
		"SIES_HEARTBEAT_MS=" + strconv.Itoa(cfg.Worker.HeartbeatMs),
		"SIES_READY_TIMEOUT_MS=" + strconv.Itoa(cfg.Worker.ReadyTimeoutMs),
		"SIES_INPUT_TIMEOUT_MS=" + strconv.Itoa(cfg.Worker.InputTimeoutMs),
		"SIES_OUTPUT_QUEUE_MAXSIZE=" + strconv.Itoa(cfg.Worker.OutputQueueMaxSize),
		"SIES_BACKPRESSURE=" + cfg.Worker.Backpressure,
		"SIES_DRAIN_TIMEOUT_MS=" + strconv.Itoa(cfg.Worker.DrainTimeoutMs),
		"SIES_CHUNK_SIZE_BYTES=" + strconv.Itoa(cfg.Worker.ChunkSizeBytes),
	}
}
