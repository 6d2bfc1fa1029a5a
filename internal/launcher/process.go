package launcher

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
)

// ProcessLauncher spawns the worker as a plain OS process connected over
// stdio pipes — the default launcher, matching spec.md's "subprocess"
// framing directly.
type ProcessLauncher struct {
	MaxFrameSize int
}

var _ Launcher = (*ProcessLauncher)(nil)

func (p *ProcessLauncher) Launch(ctx context.Context, cfg Config, encoding protocol.Encoding) (Handle, error) {
	command := cfg.Command
	if command == "" {
		command = "siesworker"
	}

	cmd := exec.CommandContext(ctx, command, cfg.Args...)
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("launcher: stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start worker process: %w", err)
	}

	codec, err := protocol.NewCodec(encoding, p.MaxFrameSize)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &processHandle{
		cmd:       cmd,
		transport: transport.FromStdio(stdin, stdout, codec),
	}, nil
}

type processHandle struct {
	cmd       *exec.Cmd
	transport *transport.Transport
}

func (h *processHandle) Transport() *transport.Transport { return h.transport }

func (h *processHandle) Wait() error {
	return h.cmd.Wait()
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
