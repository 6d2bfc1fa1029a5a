package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/casepot/sies/internal/protocol"
)

func pipeTransports(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	a, b := net.Pipe()

	codec, err := protocol.NewCodec(protocol.EncodingBinary, 0)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	ta := New(a, a, codec, nil)
	tb := New(b, b, codec, nil)
	return ta, tb
}

func TestTransportSendRecvRoundTrip(t *testing.T) {
	ta, tb := pipeTransports(t)
	defer ta.Close()
	defer tb.Close()

	msg := &protocol.Ready{
		Envelope:     protocol.Envelope{Type: protocol.TypeReady, ID: "r1", Timestamp: time.Now()},
		Capabilities: []string{"checkpoint", "cancel"},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- ta.Send(msg) }()

	ctx := context.Background()
	got, err := tb.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ready, ok := got.(*protocol.Ready)
	if !ok {
		t.Fatalf("Recv() type = %T, want *protocol.Ready", got)
	}
	if len(ready.Capabilities) != 2 {
		t.Fatalf("Capabilities = %v, want 2 entries", ready.Capabilities)
	}
}

func TestTransportCloseIsIdempotent(t *testing.T) {
	ta, tb := pipeTransports(t)
	defer tb.Close()

	if err := ta.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := ta.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestTransportSendAfterCloseReturnsErrClosed(t *testing.T) {
	ta, tb := pipeTransports(t)
	defer tb.Close()

	if err := ta.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msg := &protocol.Shutdown{Envelope: protocol.Envelope{Type: protocol.TypeShutdown, ID: "s1", Timestamp: time.Now()}}
	err := ta.Send(msg)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestTransportRecvAfterPeerCloseReturnsErrEOF(t *testing.T) {
	ta, tb := pipeTransports(t)
	defer ta.Close()

	if err := tb.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err := ta.Recv(context.Background())
	if !errors.Is(err, protocol.ErrEOF) {
		t.Fatalf("Recv() after peer close error = %v, want protocol.ErrEOF", err)
	}
}
