// Package evaluator defines the CodeEvaluator contract an executor drives
// (spec §1, §4.7) and ships one reference implementation: a small
// expression/statement scripting language, not a Python interpreter. The
// reference evaluator exists only to drive this module's own tests
// end-to-end; production deployments plug in their own CodeEvaluator.
package evaluator

import (
	"context"
	"fmt"
)

// InputFunc is how the evaluator asks its caller for interactive input. It
// blocks until a line is available, ctx is cancelled, or an error occurs —
// the executor implements this by round-tripping an Input/InputResponse
// pair through the bridge (spec §4.8).
type InputFunc func(ctx context.Context, prompt string) (string, error)

// PrintFunc is how the evaluator emits output. The executor implements
// this by pushing an Output chunk onto the pump (spec §4.3).
type PrintFunc func(stream string, data []byte)

// CancelToken is polled by a CodeEvaluator between statements to honor
// cooperative cancellation (spec §4.4.3's "every-N-instructions" tracer,
// rendered here as an explicit check rather than an interpreter hook since
// this module's evaluator is not a real language runtime with bytecode to
// instrument).
type CancelToken interface {
	// Cancelled reports whether cancellation has been requested.
	Cancelled() bool
}

// Result is what a CodeEvaluator returns from a completed, non-cancelled,
// non-erroring Execute call.
type Result struct {
	// Value is the evaluated value of the last top-level expression, or
	// nil if the code ended in a statement.
	Value any
	// Repr is Value's display representation, precomputed so the executor
	// never needs to know how to format evaluator-internal types.
	Repr string
	// Bindings are the name/value pairs this execution assigned at top
	// level, to be merged into the namespace.Store.
	Bindings map[string]any
}

// CancelledError is returned by Execute when CancelToken.Cancelled() became
// true before the code finished running.
type CancelledError struct{}

func (CancelledError) Error() string { return "evaluator: execution cancelled" }

// CodeEvaluator is the opaque collaborator an executor drives to run one
// Execute message's code (spec §1: "the evaluator is an external,
// swappable collaborator; this module never inspects or transforms the
// code it runs"). Implementations must not retain ctx beyond the call.
type CodeEvaluator interface {
	// Execute runs code against the current namespace snapshot, using
	// input/print for interactive I/O and token to observe cancellation.
	// It returns a non-nil error only for a genuine evaluation failure
	// (compile or runtime); cancellation has its own CancelledError.
	Execute(ctx context.Context, code string, namespace map[string]any, input InputFunc, print PrintFunc, token CancelToken) (Result, error)
}

// CompileError wraps a syntax error from the reference evaluator's parser,
// matching the wire taxonomy's protocol.ErrorKindCompile (spec §6.4).
type CompileError struct {
	Msg string
}

func (e *CompileError) Error() string { return fmt.Sprintf("evaluator: compile error: %s", e.Msg) }

// RuntimeError wraps a runtime failure (e.g. division by zero, undefined
// name) from the reference evaluator.
type RuntimeError struct {
	Msg string
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("evaluator: runtime error: %s", e.Msg) }
