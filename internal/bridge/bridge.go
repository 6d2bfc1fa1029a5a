// Package bridge implements the promise/correlation layer between
// messages sent to a worker and the responses that eventually arrive for
// them (spec §4.8): deterministic promise IDs, a pending map whose mutex
// is never held across a wait or a send, and a timeout task per promise
// that fires independently of the response path.
//
// The pending-map shape is grounded on the teacher's per-key lock registry
// (a sync.Map keyed by an opaque ID) generalized here from guarding
// mutexes to guarding channels, since a promise needs a payload delivered
// exactly once rather than mutual exclusion.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/casepot/sies/internal/metrics"
)

// ErrTimeout is returned by the awaiter from Register when a promise's
// deadline elapses before a response arrives.
var ErrTimeout = errors.New("bridge: promise timed out")

// ErrCancelled settles a promise whose awaiter saw ctx cancelled before a
// response arrived; the awaiter itself returns ctx.Err() in that case.
var ErrCancelled = errors.New("bridge: promise cancelled")

// ErrClosed is returned by Register, and by the awaiter of any promise
// still pending, once the bridge has been closed.
var ErrClosed = errors.New("bridge: closed")

// Kind labels a promise for metrics (spec §4.8: "execute" and "input"
// promises have independent timeout policies).
type Kind string

const (
	KindExecute Kind = "execute"
	KindInput   Kind = "input"
)

// ExecutePromiseID and InputPromiseID format the deterministic correlation
// IDs (spec §4.8: "exec:<execution_id>" and "<execution_id>:input:<input_id>").
func ExecutePromiseID(executionID string) string {
	return fmt.Sprintf("exec:%s", executionID)
}

func InputPromiseID(executionID, inputID string) string {
	return fmt.Sprintf("%s:input:%s", executionID, inputID)
}

type pending struct {
	kind    Kind
	ch      chan any
	once    sync.Once
	timer   *time.Timer
}

func (p *pending) resolve(v any) bool {
	resolved := false
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- v
		close(p.ch)
		resolved = true
	})
	return resolved
}

// Bridge correlates outbound requests with their eventual inbound
// responses. One Bridge instance serves one session.
type Bridge struct {
	mu      sync.Mutex
	pending map[string]*pending
	closed  bool

	highwater int
}

// New returns an empty Bridge.
func New() *Bridge {
	return &Bridge{pending: make(map[string]*pending)}
}

// Register creates a promise under id that will expire after timeout if
// never resolved. It returns an awaiter function; calling it blocks until
// Resolve(id, ...) is called, the timeout fires, ctx is cancelled, or the
// bridge is closed.
func (b *Bridge) Register(ctx context.Context, id string, kind Kind, timeout time.Duration) (func() (any, error), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, exists := b.pending[id]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("bridge: promise %q already registered", id)
	}

	p := &pending{kind: kind, ch: make(chan any, 1)}
	b.pending[id] = p
	if len(b.pending) > b.highwater {
		b.highwater = len(b.pending)
	}
	highwater := b.highwater
	b.mu.Unlock()

	metrics.BridgePendingHighwater.Set(float64(highwater))

	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() {
			if p.resolve(ErrTimeout) {
				metrics.RecordBridgeTimeout(string(kind))
			}
			b.delete(id)
		})
	}

	awaiter := func() (any, error) {
		select {
		case v, ok := <-p.ch:
			if !ok {
				return nil, ErrClosed
			}
			if err, isErr := v.(error); isErr {
				return nil, err
			}
			return v, nil
		case <-ctx.Done():
			if p.resolve(ErrCancelled) {
				b.delete(id)
			}
			return nil, ctx.Err()
		}
	}

	return awaiter, nil
}

// Resolve delivers value to the promise registered under id. It reports
// whether a live promise was found and resolved; resolving an unknown or
// already-settled ID is a late response (spec Open Question 3) and is
// dropped silently aside from a metric.
func (b *Bridge) Resolve(id string, value any) bool {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		metrics.RecordBridgeLateResponse("unknown")
		return false
	}

	if !p.resolve(value) {
		metrics.RecordBridgeLateResponse(string(p.kind))
		return false
	}
	return true
}

// Pending reports the current number of unsettled promises.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close settles every pending promise with ErrClosed and rejects further
// Register calls.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	toSettle := make([]*pending, 0, len(b.pending))
	for _, p := range b.pending {
		toSettle = append(toSettle, p)
	}
	b.pending = make(map[string]*pending)
	b.mu.Unlock()

	for _, p := range toSettle {
		p.resolve(ErrClosed)
	}
}

func (b *Bridge) delete(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
