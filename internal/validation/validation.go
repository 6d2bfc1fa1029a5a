// Package validation holds the small set of format checks the core needs on
// values that cross the wire: message/execution/input/checkpoint IDs and
// session IDs. It has no dependency on the rest of the module so any
// component can validate inputs before acting on them.
package validation

import (
	"fmt"
	"regexp"
)

// uuidRegex matches the canonical UUID string shape emitted by internal/ids.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ValidateUUID checks that id is a canonical UUID string.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !uuidRegex.MatchString(id) {
		return fmt.Errorf("invalid id format: %s", id)
	}
	return nil
}

// ValidateMessageID validates a Message.ID / execution_id / input_id /
// checkpoint_id. All four share the same shape (internal/ids.New).
func ValidateMessageID(id string) error {
	return ValidateUUID(id)
}

// ValidateSessionID validates a session_id produced by internal/ids.NewSessionID.
func ValidateSessionID(id string) error {
	return ValidateUUID(id)
}

// ValidatePromiseID checks that a bridge promise_id matches one of the two
// deterministic shapes from spec §4.8: "exec:<id>" or "<id>:input:<id>".
func ValidatePromiseID(id string) error {
	if id == "" {
		return fmt.Errorf("promise id cannot be empty")
	}
	if !promiseIDRegex.MatchString(id) {
		return fmt.Errorf("promise id does not match exec:<id> or <id>:input:<id>: %s", id)
	}
	return nil
}

var promiseIDRegex = regexp.MustCompile(`^(exec:.+|.+:input:.+)$`)
