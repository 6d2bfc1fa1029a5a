// Package launcher spawns worker subprocesses and hands the session layer a
// ready-to-use transport over their stdio (spec.md treats "spawn a worker
// subprocess" as implicit; SPEC_FULL §6.5 makes it an explicit, pluggable
// interface). Grounded on the teacher's internal/container runtime family:
// a Launcher is to a worker process what a container.Runtime is to a
// container, minus everything that isn't "get me a byte-stream pair".
package launcher

import (
	"context"

	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
)

// Handle represents one launched worker process and its transport.
type Handle interface {
	// Transport is the framed channel to the worker. The caller owns it.
	Transport() *transport.Transport

	// Wait reports how the worker ended. The ProcessLauncher handle blocks
	// until the process exits and returns its exit error; the
	// DockerLauncher handle returns nil at once without waiting.
	Wait() error

	// Kill forcibly terminates the worker process.
	Kill() error
}

// Launcher starts a worker process and returns a Handle to it. cfg carries
// the command-level detail (argv, env, working directory) a given
// implementation needs to start that process; encoding selects the wire
// format used to frame the resulting stdio transport.
type Launcher interface {
	Launch(ctx context.Context, cfg Config, encoding protocol.Encoding) (Handle, error)
}

// Config is the command-level detail needed to start a worker process,
// shared by every Launcher implementation.
type Config struct {
	// Command is the worker binary path (ProcessLauncher) or in-container
	// command (DockerLauncher). Defaults to "siesworker" when empty.
	Command string
	Args    []string
	Env     []string

	// ContainerID selects the target container for DockerLauncher; unused
	// by ProcessLauncher.
	ContainerID string
}
