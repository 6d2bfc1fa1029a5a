// Package transport owns the bidirectional byte-stream pair between a
// controller and a worker (spec §4.2). It enforces the single-reader
// invariant (only the transport's own read loop ever calls DecodeFrame)
// and serializes writes behind a mutex so interleaved Send calls from
// multiple goroutines never tear a frame. A Transport poisons itself on
// the first read or write failure: every subsequent call returns the same
// terminal error instead of attempting to use a half-broken stream.
//
// The I/O pipe triple (stdin/stdout/stderr, each independently closable)
// follows the interactive-exec abstraction used to drive a container
// process.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/casepot/sies/internal/protocol"
)

// ErrClosed is returned by Send/Recv once the transport has been closed,
// either explicitly via Close or implicitly after a read/write failure.
var ErrClosed = errors.New("transport: closed")

// Transport is a single connected byte-stream pair carrying framed
// protocol.Message values in one direction of reads and one direction of
// writes. It does not itself distinguish controller from worker; both
// sides construct one from their respective io.Reader/io.WriteCloser.
type Transport struct {
	codec *protocol.Codec
	r     io.Reader
	w     io.WriteCloser
	closer io.Closer // optional extra resource (e.g. the underlying conn/process) closed alongside w

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	poison error
}

// New constructs a Transport over r/w using codec for framing. closer, if
// non-nil, is closed in addition to w when the Transport is closed (for
// example, a net.Conn whose Read/Write halves are exposed separately).
func New(r io.Reader, w io.WriteCloser, codec *protocol.Codec, closer io.Closer) *Transport {
	return &Transport{codec: codec, r: r, w: w, closer: closer}
}

// Send encodes and writes msg as a single frame. Concurrent Send calls are
// safe; each frame is written atomically with respect to other Send calls.
func (t *Transport) Send(msg protocol.Message) error {
	if err := t.poisoned(); err != nil {
		return err
	}

	frame, err := t.codec.EncodeFrame(msg)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	t.writeMu.Lock()
	_, err = t.w.Write(frame)
	t.writeMu.Unlock()

	if err != nil {
		t.setPoison(fmt.Errorf("transport: write: %w", err))
		return t.poisoned()
	}
	return nil
}

// Recv reads and decodes exactly one frame. Recv must only ever be called
// by a single goroutine per Transport (spec §4.2, §5: "single reader"); the
// type itself does not enforce this beyond documenting it, since doing so
// with a runtime check would require distinguishing legitimate sequential
// calls from concurrent ones, which a simple guard cannot do reliably.
//
// ctx is honored only for cancellation of the wait for the next frame when
// the underlying reader supports it (e.g. a net.Conn via SetReadDeadline
// wired in by the caller); Recv itself performs a blocking read.
func (t *Transport) Recv(ctx context.Context) (protocol.Message, error) {
	if err := t.poisoned(); err != nil {
		return nil, err
	}

	msg, err := t.codec.DecodeFrame(t.r)
	if err != nil {
		if errors.Is(err, protocol.ErrEOF) {
			t.setPoison(ErrClosed)
			return nil, protocol.ErrEOF
		}
		t.setPoison(fmt.Errorf("transport: read: %w", err))
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return msg, nil
}

// Close closes the underlying writer (and closer, if set) and marks the
// transport as closed. Close is idempotent: calling it more than once, or
// concurrently with Send/Recv, never panics and never returns an error for
// the second and later calls.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.poison == nil {
		t.poison = ErrClosed
	}
	t.mu.Unlock()

	var err error
	if cerr := t.w.Close(); cerr != nil {
		err = cerr
	}
	if t.closer != nil {
		if cerr := t.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// poisoned returns the transport's terminal error, if any, without
// modifying state.
func (t *Transport) poisoned() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.poison
	}
	return nil
}

// setPoison marks the transport as poisoned (closed, with cause err) the
// first time it is called; subsequent calls are no-ops so the first
// failure's error is the one callers observe.
func (t *Transport) setPoison(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.poison = err
}
