// Package executor runs a single Execute message against a CodeEvaluator,
// shuttling its output through a pump and its input() calls through a
// bridge, and produces exactly one terminal message (spec §4.4): a Result
// or an Error, never both, never neither, and never before every Output
// chunk it produced has been handed to the sink.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/casepot/sies/internal/evaluator"
	"github.com/casepot/sies/internal/ids"
	"github.com/casepot/sies/internal/logger"
	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/namespace"
	"github.com/casepot/sies/internal/protocol"
	"github.com/casepot/sies/internal/pump"
)

// Config bundles the tunables spec §6.2 exposes per execution.
type Config struct {
	OutputQueueMaxSize int
	Backpressure       pump.Mode
	InputTimeout       time.Duration
	// DrainTimeout bounds how long the final drain-before-terminal-message
	// flush (spec §4.3) may take. Zero means wait indefinitely. A stalled
	// transport send (spec §8.4 S4) trips this instead of hanging the
	// execution forever.
	DrainTimeout time.Duration
	// ChunkSizeBytes is the largest Data payload a single Output message may
	// carry (spec §4.3, boundary tests §8.3). A print() call whose encoded
	// bytes exceed this is split into multiple Output messages, each at
	// most ChunkSizeBytes long, preserving order. Zero/negative means no
	// splitting.
	ChunkSizeBytes int
}

// errDrainTimeout signals that a Flush did not complete within
// Config.DrainTimeout; it never escapes the package as a Go error, only as
// a protocol.Error with ErrorKindOutputDrainTimeout.
var errDrainTimeout = errors.New("executor: output drain timed out")

// Sender is how the executor hands a message to the transport. It is
// called both for Output chunks drained from the pump and for the single
// terminal Result/Error.
type Sender func(msg protocol.Message) error

// RequestInput is how the executor asks its session to round-trip an
// Input/InputResponse pair through the bridge. It returns the user's
// reply, or an error if the request timed out or was cancelled.
type RequestInput func(ctx context.Context, executionID, prompt string, timeout time.Duration) (string, error)

// cancelFlag adapts a context.Context into an evaluator.CancelToken: the
// evaluator polls Cancelled() between statements instead of depending on
// ctx.Err() directly, since a reference evaluator is not required to know
// about context.Context at all (only about the narrower CancelToken
// interface spec §4.4.3 describes).
type cancelFlag struct{ ctx context.Context }

func (c cancelFlag) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Executor runs executions for a single session against one namespace and
// one evaluator.
type Executor struct {
	eval   evaluator.CodeEvaluator
	ns     namespace.Store
	send   Sender
	input  RequestInput
	config Config
}

// New constructs an Executor. send delivers both Output chunks and the
// terminal message; input implements the round trip for evaluator input()
// calls.
func New(eval evaluator.CodeEvaluator, ns namespace.Store, send Sender, input RequestInput, config Config) *Executor {
	if config.OutputQueueMaxSize <= 0 {
		config.OutputQueueMaxSize = 100
	}
	if config.Backpressure == "" {
		config.Backpressure = pump.ModeBlock
	}
	return &Executor{eval: eval, ns: ns, send: send, input: input, config: config}
}

// Run executes msg.Code and returns the terminal message. It never
// returns a Go error: any evaluator failure or cancellation is rendered
// into a *protocol.Error value, matching the wire-level contract that
// every execution ends in exactly one terminal message.
func (e *Executor) Run(ctx context.Context, msg *protocol.Execute) protocol.Message {
	executionID := msg.ID
	ctx = context.WithValue(ctx, logger.ContextKeyExecutionID, executionID)

	p := pump.New(e.config.OutputQueueMaxSize, e.config.Backpressure, func(out *protocol.Output) error {
		return e.send(out)
	})
	abandoned := false
	defer func() {
		if !abandoned {
			p.Close()
		}
	}()

	printFn := func(stream string, data []byte) {
		for _, chunk := range e.chunks(data) {
			_ = p.Push(ctx, &protocol.Output{
				Envelope:    protocol.Envelope{Type: protocol.TypeOutput, ID: ids.New(), Timestamp: time.Now()},
				ExecutionID: executionID,
				Stream:      protocol.Stream(stream),
				Data:        chunk,
			})
		}
	}

	inputFn := func(ctx context.Context, prompt string) (string, error) {
		// The prompt text is pushed through the pump as a stdout chunk and
		// also carried in the session's Input message. Flushing before the
		// Input is sent preserves the output-before-prompt ordering a REPL
		// user expects.
		if prompt != "" {
			printFn(string(protocol.StreamStdout), []byte(prompt))
		}
		if err := p.Flush(); err != nil {
			return "", err
		}
		if e.input == nil {
			return "", fmt.Errorf("executor: no input handler configured")
		}
		return e.input(ctx, executionID, prompt, e.config.InputTimeout)
	}

	start := time.Now()
	result, err := e.eval.Execute(ctx, msg.Code, e.ns.Snapshot(), inputFn, printFn, cancelFlag{ctx: ctx})

	flushErr := e.drainBeforeTerminal(p)
	if flushErr == errDrainTimeout {
		abandoned = true
		p.Abandon()
		logger.WarnContext(ctx, "executor: output drain timed out, abandoning pump", "drain_timeout", e.config.DrainTimeout)
		metrics.RecordExecutionOutcome("OutputDrainTimeout")
		return &protocol.Error{
			Envelope:      protocol.Envelope{Type: protocol.TypeError, ID: ids.New(), Timestamp: time.Now()},
			ExecutionID:   executionID,
			ExceptionType: "OutputDrainTimeoutError",
			Message:       "timed out draining output before the terminal message",
			Kind:          protocol.ErrorKindOutputDrainTimeout,
		}
	}
	if flushErr != nil && err == nil {
		err = flushErr
	}

	if err != nil {
		return e.terminalError(executionID, err)
	}

	if len(result.Bindings) > 0 {
		if updErr := e.ns.Update(result.Bindings); updErr != nil {
			return e.terminalError(executionID, updErr)
		}
	}
	e.ns.RecordExpressionResult(result.Value)

	metrics.RecordExecutionOutcome("result")
	return &protocol.Result{
		Envelope:      protocol.Envelope{Type: protocol.TypeResult, ID: ids.New(), Timestamp: time.Now()},
		ExecutionID:   executionID,
		Value:         result.Value,
		Repr:          result.Repr,
		ExecutionTime: time.Since(start),
	}
}

// chunks splits data into pieces of at most Config.ChunkSizeBytes, in
// order, so no single Output message's Data exceeds the configured bound
// (spec §4.3). An empty print() call still yields one (empty) chunk, to
// preserve the call's order-marker in the output stream.
func (e *Executor) chunks(data []byte) [][]byte {
	if e.config.ChunkSizeBytes <= 0 || len(data) <= e.config.ChunkSizeBytes {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > 0 {
		n := e.config.ChunkSizeBytes
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// drainBeforeTerminal flushes the pump, bounding the wait by
// Config.DrainTimeout when set. It returns errDrainTimeout if the bound is
// exceeded; the underlying Flush call is abandoned in place (its goroutine
// may outlive this call if the sink itself never returns).
func (e *Executor) drainBeforeTerminal(p *pump.Pump) error {
	done := make(chan error, 1)
	go func() { done <- p.Flush() }()

	if e.config.DrainTimeout <= 0 {
		return <-done
	}
	select {
	case err := <-done:
		return err
	case <-time.After(e.config.DrainTimeout):
		return errDrainTimeout
	}
}

func (e *Executor) terminalError(executionID string, err error) *protocol.Error {
	kind := protocol.ErrorKindCompile
	exceptionType := "RuntimeError"

	switch err.(type) {
	case *evaluator.CompileError:
		kind = protocol.ErrorKindCompile
		exceptionType = "CompileError"
	case *evaluator.RuntimeError:
		kind = ""
		exceptionType = "RuntimeError"
	case evaluator.CancelledError:
		kind = protocol.ErrorKindCancelled
		exceptionType = "CancelledError"
	default:
		kind = ""
		exceptionType = "Error"
	}

	metrics.RecordExecutionOutcome(exceptionType)

	return &protocol.Error{
		Envelope:      protocol.Envelope{Type: protocol.TypeError, ID: ids.New(), Timestamp: time.Now()},
		ExecutionID:   executionID,
		ExceptionType: exceptionType,
		Message:       err.Error(),
		Kind:          kind,
	}
}
