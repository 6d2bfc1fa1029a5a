package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casepot/sies/internal/bridge"
	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/launcher"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/transport"
	"github.com/casepot/sies/internal/validation"
)

// activeExecution tracks the one execute() call currently in flight, so the
// receive loop knows where to route Output/Input/terminal messages and a
// caller's context cancellation knows what cancel message to send.
type activeExecution struct {
	executionID string
	out         chan protocol.Message
	closeOnce   sync.Once
}

func (a *activeExecution) push(msg protocol.Message) {
	select {
	case a.out <- msg:
	default:
		// The consumer fell behind a bounded queue (spec §5: "pushing to
		// the per-execution inbound queue (bounded)" is a suspension
		// point for the real implementation; this reference session
		// instead drops rather than blocking the single reader, since a
		// blocked reader would stall every other session message).
		logger.Warn("session: execution %s inbound queue full, dropping %T", a.executionID, msg)
	}
}

func (a *activeExecution) close() {
	a.closeOnce.Do(func() { close(a.out) })
}

// Session is the controller-side counterpart to worker.Loop (spec §4.6).
type Session struct {
	id     string
	config Config

	handle     launcher.Handle
	t          *transport.Transport
	execBridge *bridge.Bridge

	interceptors []Interceptor
	recent       *resultBacklog

	mu          sync.Mutex
	state       State
	current     *activeExecution
	callExecIDs map[string]struct{}
	info        Info

	readyOnce sync.Once
	readyCh   chan struct{}

	cancelReceive context.CancelFunc
	receiveDone   chan struct{}
}

// New constructs a Session bound to a not-yet-started launcher handle.
// Start must be called before the session accepts work.
func New(id string, interceptors []Interceptor, config Config) *Session {
	return &Session{
		id:           id,
		config:       config.withDefaults(),
		interceptors: interceptors,
		recent:       newResultBacklog(id, config.withDefaults().RecentResultsSize),
		state:        StateCreating,
		execBridge:   bridge.New(),
		callExecIDs:  make(map[string]struct{}),
		readyCh:      make(chan struct{}),
	}
}

// Start launches the worker process via l, waits for its ready handshake
// (default timeout 5s, spec §4.6), and starts the receive loop.
func (s *Session) Start(ctx context.Context, l launcher.Launcher, cfg launcher.Config, encoding protocol.Encoding) error {
	s.mu.Lock()
	s.state = StateWarming
	s.mu.Unlock()
	metrics.SetSessionState("", string(StateWarming), 1)

	handle, err := l.Launch(ctx, cfg, encoding)
	if err != nil {
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		return fmt.Errorf("session %s: launch: %w", s.id, err)
	}
	s.handle = handle
	s.t = handle.Transport()

	receiveCtx, cancel := context.WithCancel(context.Background())
	s.cancelReceive = cancel
	s.receiveDone = make(chan struct{})
	go s.runReceive(receiveCtx)

	readyCtx, readyCancel := context.WithTimeout(ctx, s.config.ReadyTimeout)
	defer readyCancel()
	select {
	case <-s.readyCh:
	case <-readyCtx.Done():
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()
		return fmt.Errorf("session %s: timed out waiting for ready handshake", s.id)
	}

	s.mu.Lock()
	s.state = StateReady
	s.mu.Unlock()
	metrics.SetSessionState(string(StateWarming), string(StateReady), 1)
	return nil
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the most recent heartbeat snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Execute sends msg to the worker and returns a stream of every message
// belonging to this execution, including the terminal Result/Error. The
// stream closes after the terminal message. Exactly one execution may be
// in flight per session; a concurrent call returns ErrBusy. Cancelling ctx
// sends a cancel to the worker with the session's configured grace.
func (s *Session) Execute(ctx context.Context, msg *protocol.Execute) (<-chan protocol.Message, error) {
	if err := validation.ValidateMessageID(msg.ID); err != nil {
		return nil, fmt.Errorf("session %s: execute: %w", s.id, err)
	}

	s.mu.Lock()
	if s.state == StateTerminated || s.state == StateTerminating {
		s.mu.Unlock()
		return nil, ErrTerminated
	}
	if s.state == StateBusy || s.current != nil {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}

	exec := &activeExecution{executionID: msg.ID, out: make(chan protocol.Message, s.config.ExecuteQueueSize)}
	s.current = exec
	s.state = StateBusy
	s.mu.Unlock()
	metrics.SetSessionState(string(StateReady), string(StateBusy), 1)

	if err := s.t.Send(msg); err != nil {
		s.clearCurrent(exec)
		return nil, fmt.Errorf("session %s: send execute: %w", s.id, err)
	}

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		stillCurrent := s.current == exec
		s.mu.Unlock()
		if stillCurrent {
			_ = s.Cancel(msg.ID, s.config.CancelGrace)
		}
	}()

	return exec.out, nil
}

// Call is a convenience wrapper around Execute for callers that only want
// the terminal message, not the full stream — the bridge-correlated path
// spec §4.8 describes for "higher-level durable workflows".
func (s *Session) Call(ctx context.Context, msg *protocol.Execute, timeout time.Duration) (protocol.Message, error) {
	promiseID := bridge.ExecutePromiseID(msg.ID)
	awaiter, err := s.execBridge.Register(ctx, promiseID, bridge.KindExecute, timeout)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.callExecIDs[msg.ID] = struct{}{}
	s.mu.Unlock()

	stream, err := s.Execute(ctx, msg)
	if err != nil {
		s.mu.Lock()
		delete(s.callExecIDs, msg.ID)
		s.mu.Unlock()
		return nil, err
	}
	for range stream {
		// Drain the stream; the terminal message arrives via the bridge.
	}

	v, err := awaiter()
	if err != nil {
		return nil, err
	}
	return v.(protocol.Message), nil
}

// InputResponse sends a reply to a worker's input request. Not ordered
// with respect to the execution's own output stream.
func (s *Session) InputResponse(inputID, data string) error {
	if err := validation.ValidateMessageID(inputID); err != nil {
		return fmt.Errorf("session %s: input response: %w", s.id, err)
	}
	return s.t.Send(&protocol.InputResponse{
		Envelope: protocol.Envelope{Type: protocol.TypeInputResponse, ID: ids.New(), Timestamp: time.Now()},
		InputID:  inputID,
		Data:     data,
	})
}

// Cancel sends a cooperative cancel for executionID with the given grace.
func (s *Session) Cancel(executionID string, grace time.Duration) error {
	if err := validation.ValidateMessageID(executionID); err != nil {
		return fmt.Errorf("session %s: cancel: %w", s.id, err)
	}
	return s.t.Send(&protocol.Cancel{
		Envelope:    protocol.Envelope{Type: protocol.TypeCancel, ID: ids.New(), Timestamp: time.Now()},
		ExecutionID: executionID,
		GraceMs:     grace,
	})
}

// Interrupt sends a hard interrupt, optionally requesting the worker
// restart its evaluator state afterward.
func (s *Session) Interrupt(forceRestart bool) error {
	return s.t.Send(&protocol.Interrupt{
		Envelope:     protocol.Envelope{Type: protocol.TypeInterrupt, ID: ids.New(), Timestamp: time.Now()},
		ForceRestart: forceRestart,
	})
}

// Shutdown sends a shutdown message, stops the receive loop, and tears
// down the worker process. Idempotent.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminating
	s.mu.Unlock()
	metrics.SetSessionState("", string(StateTerminating), 1)

	_ = s.t.Send(&protocol.Shutdown{
		Envelope: protocol.Envelope{Type: protocol.TypeShutdown, ID: ids.New(), Timestamp: time.Now()},
	})
	if s.cancelReceive != nil {
		s.cancelReceive()
	}
	_ = s.t.Close()
	if s.handle != nil {
		_ = s.handle.Kill()
	}
	s.execBridge.Close()

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()
	metrics.SetSessionState(string(StateTerminating), string(StateTerminated), 1)
	return nil
}

// Restart tears the session down and re-spawns it from scratch, resetting
// any in-flight execution state so new executions are not pre-cancelled.
func (s *Session) Restart(ctx context.Context, l launcher.Launcher, cfg launcher.Config, encoding protocol.Encoding) error {
	_ = s.Shutdown()

	s.mu.Lock()
	s.state = StateCreating
	s.current = nil
	s.callExecIDs = make(map[string]struct{})
	s.execBridge = bridge.New()
	s.readyOnce = sync.Once{}
	s.readyCh = make(chan struct{})
	s.mu.Unlock()

	return s.Start(ctx, l, cfg, encoding)
}

func (s *Session) clearCurrent(exec *activeExecution) {
	s.mu.Lock()
	if s.current == exec {
		s.current = nil
		if s.state == StateBusy {
			s.state = StateReady
		}
	}
	s.mu.Unlock()
	exec.close()
}

// runReceive is the session's sole transport reader (spec §4.6, §5). It
// runs every message through the interceptor list, then dispatches by
// type.
func (s *Session) runReceive(ctx context.Context) {
	defer close(s.receiveDone)

	for {
		msg, err := s.t.Recv(ctx)
		if err != nil {
			s.handleDisconnect(err)
			return
		}

		invokeInterceptors(s.interceptors, msg, s.config.InterceptorBudget)

		switch m := msg.(type) {
		case *protocol.Output:
			s.deliverToCurrent(m.ExecutionID, msg)
		case *protocol.Input:
			s.deliverToCurrent(m.ExecutionID, msg)
		case *protocol.Result:
			s.deliverTerminal(m.ExecutionID, msg)
		case *protocol.Error:
			s.deliverTerminal(m.ExecutionID, msg)
		case *protocol.Heartbeat:
			s.mu.Lock()
			s.info = Info{MemoryBytes: m.MemoryBytes, NamespaceSize: m.NamespaceSize, LastHeartbeat: time.Now()}
			s.mu.Unlock()
		case *protocol.Ready:
			s.readyOnce.Do(func() { close(s.readyCh) })
		default:
			// Interceptor-only message types (Checkpoint/Restore acks etc).
		}
	}
}

func (s *Session) deliverToCurrent(executionID string, msg protocol.Message) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.executionID != executionID {
		logger.Warn("session %s: %T for unknown/stale execution %s", s.id, msg, executionID)
		return
	}
	cur.push(msg)
}

func (s *Session) deliverTerminal(executionID string, msg protocol.Message) {
	s.recent.Append(msg)

	s.mu.Lock()
	_, wasCall := s.callExecIDs[executionID]
	delete(s.callExecIDs, executionID)
	s.mu.Unlock()
	if wasCall {
		s.execBridge.Resolve(bridge.ExecutePromiseID(executionID), msg)
	}

	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil || cur.executionID != executionID {
		logger.Warn("session %s: terminal %T for unknown/stale execution %s", s.id, msg, executionID)
		return
	}
	cur.push(msg)
	s.clearCurrent(cur)
}

func (s *Session) handleDisconnect(err error) {
	logger.Warn("session %s: transport closed: %v", s.id, err)

	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.state = StateTerminated
	s.mu.Unlock()
	metrics.SetSessionState("", string(StateTerminated), 1)

	if cur != nil {
		cur.close()
	}
	s.execBridge.Close()
}
