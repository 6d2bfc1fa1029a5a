package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/casepot/sies/internal/protocol"
)

/*
RESULT BACKLOG - RING BUFFER OF RECENT TERMINAL MESSAGES

resultBacklog keeps the last N terminal messages (Result or Error) a
session has produced, independent of whichever Execute() stream consumed
them live. It exists for observers that attach after the fact — a
diagnostics endpoint, a late-joining test assertion — without needing to
have been subscribed to the execution when it happened.

Ported from the teacher's EventBuffer ring-buffer/resumption design: a
logically-growing index space backed by a slice that drops its oldest
entry once full, tracking how many entries were dropped so a caller that
asks for more history than was kept gets a clear error instead of silent
gaps.
*/

// DefaultRecentResultsSize is used when Config.RecentResultsSize is unset.
const DefaultRecentResultsSize = 20

// bufferedResult wraps a terminal message with its logical backlog index.
type bufferedResult struct {
	Index     int
	Timestamp time.Time
	Message   protocol.Message
}

// resultBacklog is a bounded ring buffer of a session's most recent
// terminal messages.
type resultBacklog struct {
	sessionID string
	entries   []*bufferedResult
	maxSize   int
	startIdx  int
	dropped   int64
	mu        sync.RWMutex
}

func newResultBacklog(sessionID string, maxSize int) *resultBacklog {
	if maxSize <= 0 {
		maxSize = DefaultRecentResultsSize
	}
	return &resultBacklog{
		sessionID: sessionID,
		entries:   make([]*bufferedResult, 0, maxSize),
		maxSize:   maxSize,
	}
}

// Append records a terminal message and returns its logical index.
func (b *resultBacklog) Append(msg protocol.Message) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := b.startIdx + len(b.entries)
	entry := &bufferedResult{Index: index, Timestamp: time.Now(), Message: msg}

	if len(b.entries) >= b.maxSize {
		b.entries = b.entries[1:]
		b.startIdx++
		b.dropped++
	}
	b.entries = append(b.entries, entry)
	return index
}

// After returns entries with index strictly greater than since. since=-1
// returns the full backlog currently held.
func (b *resultBacklog) After(since int) ([]*bufferedResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if since == -1 {
		out := make([]*bufferedResult, len(b.entries))
		copy(out, b.entries)
		return out, nil
	}

	if since < b.startIdx-1 {
		return nil, fmt.Errorf("session: results before index %d were dropped (oldest kept: %d)", since, b.startIdx)
	}

	start := since - b.startIdx + 1
	if start < 0 {
		start = 0
	}
	if start >= len(b.entries) {
		return []*bufferedResult{}, nil
	}

	out := make([]*bufferedResult, len(b.entries)-start)
	copy(out, b.entries[start:])
	return out, nil
}

// Len reports how many entries the backlog currently holds.
func (b *resultBacklog) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Dropped reports how many entries have been evicted since creation.
func (b *resultBacklog) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
