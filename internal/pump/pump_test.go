package pump

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casepot/sies/internal/protocol"
)

func collectingSink() (Sink, func() []*protocol.Output) {
	var mu sync.Mutex
	var received []*protocol.Output
	sink := func(msg *protocol.Output) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	}
	get := func() []*protocol.Output {
		mu.Lock()
		defer mu.Unlock()
		out := make([]*protocol.Output, len(received))
		copy(out, received)
		return out
	}
	return sink, get
}

func outputMsg(data string) *protocol.Output {
	return &protocol.Output{Data: []byte(data)}
}

func TestPumpDeliversInOrder(t *testing.T) {
	sink, get := collectingSink()
	p := New(4, ModeBlock, sink)
	defer p.Close()

	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		if err := p.Push(ctx, outputMsg(s)); err != nil {
			t.Fatalf("Push(%q) error = %v", s, err)
		}
	}

	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	got := get()
	if len(got) != 3 {
		t.Fatalf("received %d items, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(got[i].Data) != want {
			t.Errorf("item %d = %q, want %q", i, got[i].Data, want)
		}
	}
}

func TestPumpFlushGuaranteesDrain(t *testing.T) {
	var drained bool
	var mu sync.Mutex
	sink := func(msg *protocol.Output) error {
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		drained = true
		mu.Unlock()
		return nil
	}
	p := New(4, ModeBlock, sink)
	defer p.Close()

	_ = p.Push(context.Background(), outputMsg("x"))
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !drained {
		t.Fatal("Flush() returned before sink processed the pushed item")
	}
}

func TestPumpModeDropNew(t *testing.T) {
	block := make(chan struct{})
	sink := func(msg *protocol.Output) error {
		<-block
		return nil
	}
	p := New(1, ModeDropNew, sink)
	defer func() {
		close(block)
		p.Close()
	}()

	ctx := context.Background()
	// First push is picked up by the drain goroutine immediately and blocks
	// on <-block, so the queue itself is empty; fill it, then overflow it.
	_ = p.Push(ctx, outputMsg("first"))
	time.Sleep(5 * time.Millisecond)
	if err := p.Push(ctx, outputMsg("second")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := p.Push(ctx, outputMsg("third")); err != nil {
		t.Fatalf("Push() under ModeDropNew should not error, got %v", err)
	}
}

func TestPumpModeError(t *testing.T) {
	block := make(chan struct{})
	sink := func(msg *protocol.Output) error {
		<-block
		return nil
	}
	p := New(1, ModeError, sink)
	defer func() {
		close(block)
		p.Close()
	}()

	ctx := context.Background()
	_ = p.Push(ctx, outputMsg("first"))
	time.Sleep(5 * time.Millisecond)
	_ = p.Push(ctx, outputMsg("second"))

	if err := p.Push(ctx, outputMsg("third")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push() error = %v, want ErrQueueFull", err)
	}
}

func TestPumpPushAfterCloseReturnsErrClosed(t *testing.T) {
	sink, _ := collectingSink()
	p := New(2, ModeBlock, sink)
	p.Close()

	if err := p.Push(context.Background(), outputMsg("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push() after Close error = %v, want ErrClosed", err)
	}
}

func TestPumpModeBlockHonorsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	sink := func(msg *protocol.Output) error {
		<-block
		return nil
	}
	p := New(1, ModeBlock, sink)
	defer func() {
		close(block)
		p.Close()
	}()

	_ = p.Push(context.Background(), outputMsg("first"))
	time.Sleep(5 * time.Millisecond)
	_ = p.Push(context.Background(), outputMsg("second")) // fills the one-slot queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Push(ctx, outputMsg("third"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Push() under ModeBlock with exceeded deadline error = %v, want context.DeadlineExceeded", err)
	}
}

func TestPumpSinkErrorSurfacedByFlush(t *testing.T) {
	wantErr := errors.New("sink boom")
	sink := func(msg *protocol.Output) error { return wantErr }
	p := New(4, ModeBlock, sink)
	defer p.Close()

	_ = p.Push(context.Background(), outputMsg("x"))
	if err := p.Flush(); !errors.Is(err, wantErr) {
		t.Fatalf("Flush() error = %v, want %v", err, wantErr)
	}
}
