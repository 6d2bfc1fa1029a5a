// Package pump implements the bounded output queue an executor drains
// before ever sending a terminal result or error (spec §4.3: "drain before
// result"). It follows the teacher's buffered-event-channel-plus-owned-
// goroutine shape (a fixed-capacity channel, a single consumer goroutine,
// explicit done/error signaling) used to stream agent events off an
// interactive subprocess, adapted from one fixed capacity to four
// configurable backpressure behaviors.
package pump

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/casepot/sies/internal/metrics"
	"github.com/casepot/sies/internal/protocol"
)

// Mode selects what happens when Push is called against a full queue
// (spec §4.3, §6.2 output_queue_maxsize/backpressure).
type Mode string

const (
	// ModeBlock blocks the producer until space is available or ctx is done.
	ModeBlock Mode = "block"
	// ModeDropNew discards the item being pushed, keeping the queue as-is.
	ModeDropNew Mode = "drop_new"
	// ModeDropOldest evicts the oldest queued item to make room for the new one.
	ModeDropOldest Mode = "drop_oldest"
	// ModeError returns ErrQueueFull immediately instead of blocking or dropping.
	ModeError Mode = "error"
)

// ErrQueueFull is returned by Push under ModeError when the queue has no
// free capacity.
var ErrQueueFull = errors.New("pump: output queue full")

// ErrClosed is returned by Push once the pump has been closed.
var ErrClosed = errors.New("pump: closed")

// flushFence is pushed internally to mark a point after which every prior
// item is guaranteed to have been handed to the sink — the mechanism
// behind Drain's "output before result" guarantee (spec §4.3).
type flushFence struct{ done chan struct{} }

// item is either a real output chunk or an internal control value (fence,
// stop sentinel); only one of msg/fence/stop is set.
type item struct {
	msg   *protocol.Output
	fence *flushFence
	stop  bool
}

// Sink receives drained output chunks in order. The executor's Sink
// forwards each chunk onto the session's Transport.
type Sink func(msg *protocol.Output) error

// Pump is a single execution's bounded output queue plus the goroutine
// that drains it to a Sink in FIFO order per stream.
type Pump struct {
	mode Mode
	sink Sink

	mu     sync.Mutex
	queue  []item
	capacity int
	notEmpty chan struct{}
	notFull  chan struct{}

	closed bool
	stopped chan struct{}
	sinkErr error
}

// New constructs a Pump with the given capacity and backpressure mode and
// starts its drain goroutine. capacity must be >= 1.
func New(capacity int, mode Mode, sink Sink) *Pump {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pump{
		mode:     mode,
		sink:     sink,
		queue:    make([]item, 0, capacity),
		capacity: capacity,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	go p.drainLoop()
	return p
}

// Push enqueues a chunk according to the pump's mode. Push never blocks
// forever without honoring ctx cancellation under ModeBlock.
func (p *Pump) Push(ctx context.Context, msg *protocol.Output) error {
	return p.enqueue(ctx, item{msg: msg})
}

func (p *Pump) enqueue(ctx context.Context, it item) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}

		if len(p.queue) < p.capacity {
			p.queue = append(p.queue, it)
			metrics.PumpQueueDepth.Set(float64(len(p.queue)))
			p.mu.Unlock()
			p.signalNotEmpty()
			return nil
		}

		// Queue is full.
		switch p.mode {
		case ModeDropNew:
			p.mu.Unlock()
			metrics.RecordPumpDrop(string(ModeDropNew))
			return nil
		case ModeDropOldest:
			p.queue = append(p.queue[1:], it)
			metrics.RecordPumpDrop(string(ModeDropOldest))
			metrics.PumpQueueDepth.Set(float64(len(p.queue)))
			p.mu.Unlock()
			p.signalNotEmpty()
			return nil
		case ModeError:
			p.mu.Unlock()
			return ErrQueueFull
		case ModeBlock:
			p.mu.Unlock()
			select {
			case <-p.notFull:
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopped:
				return ErrClosed
			}
		default:
			p.mu.Unlock()
			return fmt.Errorf("pump: unknown mode %q", p.mode)
		}
	}
}

func (p *Pump) signalNotEmpty() {
	select {
	case p.notEmpty <- struct{}{}:
	default:
	}
}

func (p *Pump) signalNotFull() {
	select {
	case p.notFull <- struct{}{}:
	default:
	}
}

// Flush blocks until every item pushed before this call has been handed to
// the sink, then returns the first sink error encountered so far, if any.
// The executor calls Flush immediately before sending a terminal Result or
// Error message (spec §4.3 drain-before-result invariant).
func (p *Pump) Flush() error {
	fence := &flushFence{done: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.sinkErr
	}
	p.queue = append(p.queue, item{fence: fence})
	p.mu.Unlock()
	p.signalNotEmpty()

	<-fence.done

	p.mu.Lock()
	err := p.sinkErr
	p.mu.Unlock()
	return err
}

// Abandon marks the pump closed without waiting for the drain goroutine to
// reach a stop sentinel. It exists for the case Close cannot handle: the
// sink itself is permanently stuck (e.g. a stalled transport send) so the
// drain goroutine will never drain far enough to see one. Callers that use
// Abandon accept that the drain goroutine may leak for the lifetime of the
// stuck sink call.
func (p *Pump) Abandon() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Close stops the drain goroutine after it finishes the current queue
// (including any chunks already pushed) and prevents further Pushes.
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, item{stop: true})
	p.mu.Unlock()
	p.signalNotEmpty()
	<-p.stopped
}

func (p *Pump) drainLoop() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 {
			p.mu.Unlock()
			<-p.notEmpty
			p.mu.Lock()
		}

		it := p.queue[0]
		p.queue = p.queue[1:]
		metrics.PumpQueueDepth.Set(float64(len(p.queue)))
		p.mu.Unlock()
		p.signalNotFull()

		switch {
		case it.stop:
			p.mu.Lock()
			p.closed = true
			p.mu.Unlock()
			close(p.stopped)
			return
		case it.fence != nil:
			close(it.fence.done)
		case it.msg != nil:
			if err := p.sink(it.msg); err != nil {
				p.mu.Lock()
				if p.sinkErr == nil {
					p.sinkErr = err
				}
				p.mu.Unlock()
			}
		}
	}
}
