// Package ids generates the opaque string identifiers used throughout the
// protocol: message IDs, execution IDs, input IDs, and checkpoint IDs.
//
// The wire protocol (spec §6.1) only requires that IDs be opaque strings and
// recommends a UUID-shaped generator; this package wraps google/uuid so every
// component in this module gets the same ID shape without rolling its own
// randomness.
package ids

import "github.com/google/uuid"

// New returns a fresh 128-bit identifier, formatted as a canonical UUID
// string. It is the generator used for Message.ID and every correlation
// field derived from it (execution_id, input_id, checkpoint_id).
func New() string {
	return uuid.NewString()
}

// NewSessionID returns a fresh session identifier. Sessions use the same
// shape as message IDs today; this is a distinct function so the session
// package can evolve its ID format independently without callers caring.
func NewSessionID() string {
	return uuid.NewString()
}
