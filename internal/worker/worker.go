// Package worker implements the subprocess-side event loop (spec §4.5):
// a ready handshake, a heartbeat task, and a dispatch table over the
// single reader's decoded messages. Grounded on the teacher's
// internal/agent/droid/executor.go readEvents dispatch loop (a single
// goroutine reading framed JSON-RPC off a subprocess's stdout and routing
// by message shape) and protocol.go's method-name dispatch table.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/casepot/sies/internal/bridge"
	"github.com/casepot/sies/internal/evaluator"
	"github.com/casepot/sies/internal/executor"
	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/namespace"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
)

// Config bundles the worker loop's tunables (spec §6.2).
type Config struct {
	HeartbeatInterval time.Duration
	ReadyTimeout      time.Duration
	InputTimeout      time.Duration
	ExecutorConfig    executor.Config
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	if c.InputTimeout <= 0 {
		c.InputTimeout = 60 * time.Second
	}
	return c
}

// inflight tracks one currently-running execution so Cancel/Interrupt
// dispatch can reach it.
type inflight struct {
	cancel context.CancelFunc
}

// Loop is the worker's top-level state: one transport, one namespace, one
// evaluator, and the bookkeeping needed to route inbound messages to the
// right in-flight execution.
type Loop struct {
	t      *transport.Transport
	eval   evaluator.CodeEvaluator
	ns     namespace.Store
	config Config

	inputBridge *bridge.Bridge

	mu        sync.Mutex
	current   *inflight
	executing bool

	// pendingInputExec maps an input message's own ID to the execution
	// that issued it, since an InputResponse only carries the input ID.
	pendingInputExec map[string]string
}

// New constructs a worker Loop. eval and ns are the concrete collaborators
// this process drives; in production deployments these are the real
// language-specific evaluator and a durable namespace, not the reference
// implementations this module ships for its own tests.
func New(t *transport.Transport, eval evaluator.CodeEvaluator, ns namespace.Store, config Config) *Loop {
	return &Loop{
		t:                t,
		eval:             eval,
		ns:               ns,
		config:           config.withDefaults(),
		inputBridge:      bridge.New(),
		pendingInputExec: make(map[string]string),
	}
}

// Run sends the ready handshake, starts the heartbeat task, and then reads
// and dispatches messages until ctx is cancelled or the transport closes.
func (l *Loop) Run(ctx context.Context) error {
	ready := &protocol.Ready{
		Envelope:     protocol.Envelope{Type: protocol.TypeReady, ID: ids.New(), Timestamp: time.Now()},
		Capabilities: readyCapabilities,
	}
	if err := l.t.Send(ready); err != nil {
		return fmt.Errorf("worker: send ready: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go l.heartbeatLoop(hbCtx)

	for {
		msg, err := l.t.Recv(ctx)
		if err != nil {
			l.inputBridge.Close()
			return err
		}

		switch m := msg.(type) {
		case *protocol.Execute:
			l.dispatchExecute(ctx, m)
		case *protocol.InputResponse:
			l.dispatchInputResponse(m)
		case *protocol.Cancel:
			l.dispatchCancel(m)
		case *protocol.Interrupt:
			l.dispatchInterrupt(m)
		case *protocol.Checkpoint:
			l.dispatchCheckpoint(m)
		case *protocol.Restore:
			l.dispatchRestore(m)
		case *protocol.Shutdown:
			l.inputBridge.Close()
			return nil
		default:
			logger.Warn("worker: ignoring unexpected message type %T", msg)
		}
	}
}

func (l *Loop) dispatchExecute(parentCtx context.Context, msg *protocol.Execute) {
	l.mu.Lock()
	if l.executing {
		l.mu.Unlock()
		_ = l.t.Send(&protocol.Error{
			Envelope:      protocol.Envelope{Type: protocol.TypeError, ID: ids.New(), Timestamp: time.Now()},
			ExecutionID:   msg.ID,
			ExceptionType: "BusyError",
			Message:       "a session may run only one execution at a time",
			Kind:          protocol.ErrorKindBusy,
		})
		return
	}
	execCtx, cancel := context.WithCancel(parentCtx)
	l.current = &inflight{cancel: cancel}
	l.executing = true
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.executing = false
			l.current = nil
			l.mu.Unlock()
			cancel()
		}()

		send := func(m protocol.Message) error { return l.t.Send(m) }
		requestInput := l.makeRequestInput()

		exec := executor.New(l.eval, l.ns, send, requestInput, l.config.ExecutorConfig)
		result := exec.Run(execCtx, msg)
		if err := l.t.Send(result); err != nil {
			logger.Error("worker: failed to send terminal message for execution %s: %v", msg.ID, err)
		}
	}()
}

// makeRequestInput returns the executor.RequestInput implementation that
// sends an Input message and awaits the corresponding InputResponse via
// the worker's bridge.
func (l *Loop) makeRequestInput() executor.RequestInput {
	return func(ctx context.Context, executionID, prompt string, timeout time.Duration) (string, error) {
		inputID := ids.New()

		l.mu.Lock()
		l.pendingInputExec[inputID] = executionID
		l.mu.Unlock()

		promiseID := bridge.InputPromiseID(executionID, inputID)
		if timeout <= 0 {
			timeout = l.config.InputTimeout
		}
		awaiter, err := l.inputBridge.Register(ctx, promiseID, bridge.KindInput, timeout)
		if err != nil {
			return "", err
		}

		if err := l.t.Send(&protocol.Input{
			Envelope:    protocol.Envelope{Type: protocol.TypeInput, ID: inputID, Timestamp: time.Now()},
			ExecutionID: executionID,
			Prompt:      prompt,
			Timeout:     timeout,
		}); err != nil {
			return "", err
		}

		v, err := awaiter()
		l.mu.Lock()
		delete(l.pendingInputExec, inputID)
		l.mu.Unlock()
		if err != nil {
			return "", err
		}
		return v.(string), nil
	}
}

func (l *Loop) dispatchInputResponse(msg *protocol.InputResponse) {
	l.mu.Lock()
	executionID, ok := l.pendingInputExec[msg.InputID]
	l.mu.Unlock()
	if !ok {
		// Late response for an input that already timed out or was
		// cancelled; the bridge itself records the metric.
		l.inputBridge.Resolve(bridge.InputPromiseID("", msg.InputID), msg.Data)
		return
	}
	l.inputBridge.Resolve(bridge.InputPromiseID(executionID, msg.InputID), msg.Data)
}

func (l *Loop) dispatchCancel(msg *protocol.Cancel) {
	l.mu.Lock()
	cur := l.current
	l.mu.Unlock()
	if cur != nil {
		if msg.GraceMs > 0 {
			time.AfterFunc(msg.GraceMs, cur.cancel)
		} else {
			cur.cancel()
		}
	}
}

func (l *Loop) dispatchInterrupt(msg *protocol.Interrupt) {
	l.mu.Lock()
	cur := l.current
	l.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

func (l *Loop) dispatchCheckpoint(msg *protocol.Checkpoint) {
	snap := l.ns.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Error("worker: checkpoint serialization failed: %v", err)
		return
	}
	_ = l.t.Send(&protocol.Checkpoint{
		Envelope:     protocol.Envelope{Type: protocol.TypeCheckpoint, ID: ids.New(), Timestamp: time.Now()},
		CheckpointID: msg.CheckpointID,
		Data:         data,
		KeyCount:     len(snap),
	})
	// spec §4.5: checkpoint{id,data,counts} is followed by ready for sync.
	l.sendReady()
}

func (l *Loop) dispatchRestore(msg *protocol.Restore) {
	mode := namespace.RestoreMode(msg.Mode)
	if mode == "" {
		mode = namespace.RestoreModeMerge
	}

	var snap map[string]any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			logger.Error("worker: restore payload decode failed: %v", err)
			return
		}
	}

	if err := l.ns.Restore(snap, mode); err != nil {
		logger.Error("worker: restore failed: %v", err)
		return
	}
	l.sendReady()
}

// readyCapabilities lists the dispatch table entries this loop handles,
// advertised on every Ready (initial handshake and post-checkpoint/restore
// resync alike).
var readyCapabilities = []string{"checkpoint", "restore", "cancel", "interrupt"}

// sendReady emits a Ready message signaling resynchronization after a
// checkpoint or restore completes (spec §4.5: both are "followed by ready
// for sync").
func (l *Loop) sendReady() {
	if err := l.t.Send(&protocol.Ready{
		Envelope:     protocol.Envelope{Type: protocol.TypeReady, ID: ids.New(), Timestamp: time.Now()},
		Capabilities: readyCapabilities,
	}); err != nil {
		logger.Error("worker: send ready: %v", err)
	}
}

func (l *Loop) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			l.mu.Lock()
			nsSize := len(l.ns.Snapshot())
			l.mu.Unlock()

			_ = l.t.Send(&protocol.Heartbeat{
				Envelope:      protocol.Envelope{Type: protocol.TypeHeartbeat, ID: ids.New(), Timestamp: time.Now()},
				MemoryBytes:   mem.Alloc,
				NamespaceSize: nsSize,
			})
		}
	}
}
