// Command siesworker is the subprocess entrypoint spec §4.5 describes:
// one worker.Loop reading framed protocol messages off stdin and writing
// Output/Result/Heartbeat back on stdout. siesd launches one of these per
// session via internal/launcher.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/casepot/sies/internal/evaluator"
	"github.com/casepot/sies/internal/executor"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/namespace"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/pump"
	"github.com/casepot/sies/internal/transport"
	"github.com/casepot/sies/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "siesworker:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(envOr("SIES_LOG_DIR", "/tmp/sies/logs"), true); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	encoding := protocol.EncodingBinary
	if os.Getenv("SIES_ENCODING") == "json" {
		encoding = protocol.EncodingJSON
	}
	codec, err := protocol.NewCodec(encoding, 0)
	if err != nil {
		return fmt.Errorf("new codec: %w", err)
	}

	// This process's own stdin/stdout are its sole wire to the controller:
	// read requests off stdin, write Output/Result/Heartbeat to stdout.
	// FromStdio is the controller-side helper (it wraps a child's pipes);
	// here we are the child, so wire directly with transport.New.
	wireT := transport.New(os.Stdin, os.Stdout, codec, os.Stdin)

	loop := worker.New(wireT, evaluator.New(), namespace.NewMapStore(), worker.Config{
		HeartbeatInterval: envDuration("SIES_HEARTBEAT_MS", 5000),
		ReadyTimeout:      envDuration("SIES_READY_TIMEOUT_MS", 10000),
		InputTimeout:      envDuration("SIES_INPUT_TIMEOUT_MS", 60000),
		ExecutorConfig: executor.Config{
			OutputQueueMaxSize: envInt("SIES_OUTPUT_QUEUE_MAXSIZE", 1024),
			Backpressure:       pump.Mode(envOr("SIES_BACKPRESSURE", string(pump.ModeBlock))),
			InputTimeout:       envDuration("SIES_INPUT_TIMEOUT_MS", 60000),
			DrainTimeout:       envDuration("SIES_DRAIN_TIMEOUT_MS", 2000),
			ChunkSizeBytes:     envInt("SIES_CHUNK_SIZE_BYTES", 65536),
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	return loop.Run(ctx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}
