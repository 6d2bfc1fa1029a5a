package launcher

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
)

// DockerLauncher spawns the worker inside an already-running container via
// the Docker exec API, attaching to its stdio over the hijacked connection
// — an opt-in isolation upgrade for untrusted code. Grounded directly on
// internal/container/docker/runtime.go's ExecInteractive (Create/Start/Exec
// against the Docker Engine API, demuxed via stdcopy).
type DockerLauncher struct {
	Client       *client.Client
	MaxFrameSize int
}

var _ Launcher = (*DockerLauncher)(nil)

func NewDockerLauncher() (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("launcher: create docker client: %w", err)
	}
	return &DockerLauncher{Client: cli}, nil
}

func (d *DockerLauncher) Launch(ctx context.Context, cfg Config, encoding protocol.Encoding) (Handle, error) {
	if cfg.ContainerID == "" {
		return nil, fmt.Errorf("launcher: docker launcher requires a ContainerID")
	}

	command := cfg.Command
	if command == "" {
		command = "siesworker"
	}

	execConfig := dockercontainer.ExecOptions{
		Cmd:          append([]string{command}, cfg.Args...),
		Env:          cfg.Env,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  true,
		Tty:          false,
	}

	execResp, err := d.Client.ContainerExecCreate(ctx, cfg.ContainerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("launcher: create exec: %w", err)
	}

	attach, err := d.Client.ContainerExecAttach(ctx, execResp.ID, dockercontainer.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("launcher: attach exec: %w", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	go func() {
		// Worker frames only ever travel over stdout; stderr is discarded
		// here the way the parent runtime's non-interactive Exec() does.
		defer stdoutWriter.Close()
		_, _ = stdcopy.StdCopy(stdoutWriter, io.Discard, attach.Reader)
	}()

	codec, err := protocol.NewCodec(encoding, d.MaxFrameSize)
	if err != nil {
		attach.Close()
		return nil, err
	}

	stdin := &hijackedWriteCloser{conn: attach}
	t := transport.New(stdoutReader, stdin, codec, nil)

	return &dockerHandle{
		client:    d.Client,
		execID:    execResp.ID,
		transport: t,
	}, nil
}

// hijackedWriteCloser adapts a Docker HijackedResponse's underlying
// connection into an io.WriteCloser, mirroring the parent runtime's exec
// attach wrapper.
type hijackedWriteCloser struct {
	conn types.HijackedResponse
}

func (h *hijackedWriteCloser) Write(p []byte) (int, error) { return h.conn.Conn.Write(p) }
func (h *hijackedWriteCloser) Close() error                { h.conn.Close(); return nil }

type dockerHandle struct {
	client    *client.Client
	execID    string
	transport *transport.Transport
}

func (h *dockerHandle) Transport() *transport.Transport { return h.transport }

func (h *dockerHandle) Wait() error {
	return nil
}

func (h *dockerHandle) Kill() error {
	return h.transport.Close()
}
