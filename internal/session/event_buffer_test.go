package session

import (
	"testing"

	"github.com/casepot/sies/internal/protocol"
)

func resultMsg(id string) protocol.Message {
	return &protocol.Result{Envelope: protocol.Envelope{Type: protocol.TypeResult, ID: id}, ExecutionID: id}
}

func TestResultBacklogAppendAndAfter(t *testing.T) {
	b := newResultBacklog("s1", 3)
	for i := 0; i < 3; i++ {
		b.Append(resultMsg("m"))
	}

	all, err := b.After(-1)
	if err != nil {
		t.Fatalf("After(-1) error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	some, err := b.After(0)
	if err != nil {
		t.Fatalf("After(0) error = %v", err)
	}
	if len(some) != 2 {
		t.Fatalf("len(some) = %d, want 2", len(some))
	}
}

func TestResultBacklogDropsOldestOnOverflow(t *testing.T) {
	b := newResultBacklog("s1", 2)
	for i := 0; i < 5; i++ {
		b.Append(resultMsg("m"))
	}

	if got := b.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	if got := b.Dropped(); got != 3 {
		t.Fatalf("Dropped() = %d, want 3", got)
	}
}

func TestResultBacklogAfterPurgedIndexErrors(t *testing.T) {
	b := newResultBacklog("s1", 2)
	for i := 0; i < 5; i++ {
		b.Append(resultMsg("m"))
	}

	if _, err := b.After(0); err == nil {
		t.Fatal("After(0) after purge should error")
	}
}
