// Package protocol defines the wire message schema (spec §3.1) and the
// frame codec (spec §4.1) used by the transport. Messages are a tagged
// union: every variant embeds Envelope and is identified by its Type.
package protocol

import "time"

// Type is the stable string tag identifying a message variant on the wire.
type Type string

const (
	TypeExecute       Type = "execute"
	TypeOutput        Type = "output"
	TypeInput         Type = "input"
	TypeInputResponse Type = "input_response"
	TypeResult        Type = "result"
	TypeError         Type = "error"
	TypeCancel        Type = "cancel"
	TypeInterrupt     Type = "interrupt"
	TypeCheckpoint    Type = "checkpoint"
	TypeRestore       Type = "restore"
	TypeReady         Type = "ready"
	TypeHeartbeat     Type = "heartbeat"
	TypeShutdown      Type = "shutdown"
)

// Stream identifies which output stream an Output message carries.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// ErrorKind is the stable taxonomy of semantic error classes the core
// introduces on the wire (spec §6.4).
type ErrorKind string

const (
	ErrorKindBusy               ErrorKind = "Busy"
	ErrorKindOutputDrainTimeout ErrorKind = "OutputDrainTimeout"
	ErrorKindShutdownDuringIn   ErrorKind = "ShutdownDuringInput"
	ErrorKindCancelled          ErrorKind = "Cancelled"
	ErrorKindInputTimedOut      ErrorKind = "InputTimedOut"
	ErrorKindTransportClosed    ErrorKind = "TransportClosed"
	ErrorKindCompile            ErrorKind = "CompileError"
)

// Envelope carries the fields common to every message variant (spec §3.1:
// "a stable string tag and these common fields: id, timestamp").
type Envelope struct {
	Type      Type      `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// GetEnvelope returns e itself; it exists so Envelope satisfies Message
// when embedded, and so generic code can fetch the envelope of any Message
// without a type switch.
func (e Envelope) GetEnvelope() Envelope { return e }

// Message is the tagged-union interface every wire message implements.
type Message interface {
	GetEnvelope() Envelope
}

// Execute is a client -> worker request to run code (spec §3.1).
type Execute struct {
	Envelope
	Code              string            `json:"code"`
	CaptureSource     string            `json:"capture_source,omitempty"`
	TransactionPolicy string            `json:"transaction_policy,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Output is a worker -> client stdout/stderr chunk.
type Output struct {
	Envelope
	ExecutionID string `json:"execution_id"`
	Stream      Stream `json:"stream"`
	Data        []byte `json:"data"`
	Flush       bool   `json:"flush,omitempty"`
}

// Input is a worker -> client request for interactive input (the input()
// shim, spec §4.4.1).
type Input struct {
	Envelope
	ExecutionID string        `json:"execution_id"`
	Prompt      string        `json:"prompt"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// InputResponse is a client -> worker reply to an Input message.
type InputResponse struct {
	Envelope
	InputID string `json:"input_id"`
	Data    string `json:"data"`
}

// Result is a worker -> client terminal success message.
type Result struct {
	Envelope
	ExecutionID   string        `json:"execution_id"`
	Value         any           `json:"value"`
	Repr          string        `json:"repr"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Error is a worker -> client terminal failure message.
type Error struct {
	Envelope
	ExecutionID   string    `json:"execution_id"`
	ExceptionType string    `json:"exception_type"`
	Message       string    `json:"message"`
	Traceback     string    `json:"traceback,omitempty"`
	Kind          ErrorKind `json:"kind,omitempty"`
}

// Cancel is a client -> worker cooperative-cancellation request.
type Cancel struct {
	Envelope
	ExecutionID string        `json:"execution_id"`
	GraceMs     time.Duration `json:"grace_ms"`
}

// Interrupt is a client -> worker hard-interrupt request.
type Interrupt struct {
	Envelope
	ForceRestart bool `json:"force_restart,omitempty"`
}

// Checkpoint is a bidirectional namespace snapshot message.
type Checkpoint struct {
	Envelope
	CheckpointID string `json:"checkpoint_id"`
	Data         []byte `json:"data,omitempty"`
	KeyCount     int    `json:"key_count"`
}

// Restore is a bidirectional namespace restore request.
type Restore struct {
	Envelope
	CheckpointID string `json:"checkpoint_id,omitempty"`
	Data         []byte `json:"data,omitempty"`
	Mode         string `json:"mode"` // "merge" | "clear_then_merge"
}

// Ready is the worker -> client handshake/ack message.
type Ready struct {
	Envelope
	Capabilities []string `json:"capabilities,omitempty"`
}

// Heartbeat is a worker -> client liveness/resource-usage message.
type Heartbeat struct {
	Envelope
	MemoryBytes   uint64  `json:"memory_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	NamespaceSize int     `json:"namespace_size"`
}

// Shutdown is a client -> worker graceful-shutdown request.
type Shutdown struct {
	Envelope
	Drain bool `json:"drain,omitempty"`
}

// ExecutionID returns the execution_id correlating field for message types
// that carry one, and ok=false for types that don't (spec §3.1 invariant:
// "execution_id equals the originating execute.id").
func ExecutionID(m Message) (string, bool) {
	switch v := m.(type) {
	case *Execute:
		return v.ID, true
	case *Output:
		return v.ExecutionID, true
	case *Input:
		return v.ExecutionID, true
	case *Result:
		return v.ExecutionID, true
	case *Error:
		return v.ExecutionID, true
	case *Cancel:
		return v.ExecutionID, true
	default:
		return "", false
	}
}

// IsTerminal reports whether m is a result or error message — the only two
// variants allowed to end an execution (spec §3.1 invariant: "exactly one
// of result or error, never both").
func IsTerminal(m Message) bool {
	switch m.(type) {
	case *Result, *Error:
		return true
	default:
		return false
	}
}
