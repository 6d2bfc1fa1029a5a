package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/casepot/sies/internal/evaluator"
	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/namespace"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
	"github.com/casepot/sies/internal/worker"
)

// pipeHandle and pipeLauncher let tests pair a Session with a real
// worker.Loop over an in-process net.Pipe, without spawning a process.
type pipeHandle struct {
	t    *transport.Transport
	wait chan error
}

func (h *pipeHandle) Transport() *transport.Transport { return h.t }
func (h *pipeHandle) Wait() error                      { return <-h.wait }
func (h *pipeHandle) Kill() error                      { return h.t.Close() }

type pipeLauncher struct{}

func (pipeLauncher) Launch(ctx context.Context, cfg launcher.Config, encoding protocol.Encoding) (launcher.Handle, error) {
	a, b := net.Pipe()
	codec, err := protocol.NewCodec(encoding, 0)
	if err != nil {
		return nil, err
	}

	sessionSide := transport.New(a, a, codec, nil)
	workerSide := transport.New(b, b, codec, nil)

	loop := worker.New(workerSide, evaluator.New(), namespace.NewMapStore(), worker.Config{
		HeartbeatInterval: time.Hour,
	})
	waitCh := make(chan error, 1)
	go func() { waitCh <- loop.Run(context.Background()) }()

	return &pipeHandle{t: sessionSide, wait: waitCh}, nil
}

func newStartedSession(t *testing.T) *Session {
	t.Helper()
	s := New("s1", nil, Config{})
	if err := s.Start(context.Background(), pipeLauncher{}, launcher.Config{}, protocol.EncodingBinary); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestSessionStartReachesReady(t *testing.T) {
	s := newStartedSession(t)
	if got := s.State(); got != StateReady {
		t.Fatalf("State() = %q, want %q", got, StateReady)
	}
}

func TestSessionExecuteStreamsResult(t *testing.T) {
	s := newStartedSession(t)

	execID := ids.New()
	stream, err := s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: execID, Timestamp: time.Now()},
		Code:     "1 + 1",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var last protocol.Message
	for msg := range stream {
		last = msg
	}
	res, ok := last.(*protocol.Result)
	if !ok {
		t.Fatalf("final stream message = %T, want *protocol.Result", last)
	}
	if res.Value != int64(2) {
		t.Fatalf("Value = %v, want 2", res.Value)
	}

	if got := s.State(); got != StateReady {
		t.Fatalf("State() after execution = %q, want %q", got, StateReady)
	}
}

func TestSessionExecuteRejectsConcurrentCalls(t *testing.T) {
	s := newStartedSession(t)

	first, err := s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: ids.New(), Timestamp: time.Now()},
		Code:     `input("block")`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Wait for the worker to actually ask for input, proving the first
	// execution is genuinely in flight.
	<-first

	_, err = s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: ids.New(), Timestamp: time.Now()},
		Code:     "1",
	})
	if err != ErrBusy {
		t.Fatalf("second Execute() error = %v, want ErrBusy", err)
	}

	// The first execution is left blocked on input(); Shutdown (via
	// t.Cleanup) tears down the transport and unblocks it.
}

func TestSessionInputResponseUnblocksExecution(t *testing.T) {
	s := newStartedSession(t)

	execID := ids.New()
	stream, err := s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: execID, Timestamp: time.Now()},
		Code:     `name = input("who? ")`,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	msg := <-stream
	promptOut, ok := msg.(*protocol.Output)
	if !ok {
		t.Fatalf("first stream message = %T, want *protocol.Output", msg)
	}
	if string(promptOut.Data) != "who? " {
		t.Fatalf("prompt Output Data = %q, want %q", promptOut.Data, "who? ")
	}

	msg = <-stream
	in, ok := msg.(*protocol.Input)
	if !ok {
		t.Fatalf("second stream message = %T, want *protocol.Input", msg)
	}

	if err := s.InputResponse(in.ID, "world"); err != nil {
		t.Fatalf("InputResponse() error = %v", err)
	}

	var last protocol.Message
	for m := range stream {
		last = m
	}
	if _, ok := last.(*protocol.Result); !ok {
		t.Fatalf("final stream message = %T, want *protocol.Result", last)
	}
}

func TestSessionCallReturnsTerminalMessage(t *testing.T) {
	s := newStartedSession(t)

	execID := ids.New()
	out, err := s.Call(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: execID, Timestamp: time.Now()},
		Code:     "6 * 7",
	}, time.Second)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	res, ok := out.(*protocol.Result)
	if !ok {
		t.Fatalf("Call() returned %T, want *protocol.Result", out)
	}
	if res.Value != int64(42) {
		t.Fatalf("Value = %v, want 42", res.Value)
	}
}

func TestSessionInterceptorObservesEveryMessage(t *testing.T) {
	var seen []protocol.Type
	var mu sync.Mutex

	s := New("s2", []Interceptor{{
		Name: "recorder",
		Func: func(msg protocol.Message) {
			mu.Lock()
			seen = append(seen, msg.GetEnvelope().Type)
			mu.Unlock()
		},
	}}, Config{})
	if err := s.Start(context.Background(), pipeLauncher{}, launcher.Config{}, protocol.EncodingBinary); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Shutdown()

	stream, err := s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: ids.New(), Timestamp: time.Now()},
		Code:     "1",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for range stream {
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, ty := range seen {
		if ty == protocol.TypeResult {
			found = true
		}
	}
	if !found {
		t.Fatalf("interceptor never observed a Result message, saw %v", seen)
	}
}

func TestSessionShutdownIsIdempotent(t *testing.T) {
	s := newStartedSession(t)
	if err := s.Shutdown(); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
	if got := s.State(); got != StateTerminated {
		t.Fatalf("State() = %q, want %q", got, StateTerminated)
	}
}

// A malformed wire ID must be rejected before a message is ever sent, on
// every entry point that accepts one directly from a controller.
func TestSessionRejectsMalformedIDs(t *testing.T) {
	s := newStartedSession(t)

	if _, err := s.Execute(context.Background(), &protocol.Execute{
		Envelope: protocol.Envelope{Type: protocol.TypeExecute, ID: "not-a-uuid", Timestamp: time.Now()},
		Code:     "1",
	}); err == nil {
		t.Fatal("Execute() with malformed ID should have been rejected")
	}

	if err := s.Cancel("not-a-uuid", time.Second); err == nil {
		t.Fatal("Cancel() with malformed execution ID should have been rejected")
	}

	if err := s.InputResponse("not-a-uuid", "data"); err == nil {
		t.Fatal("InputResponse() with malformed input ID should have been rejected")
	}
}
