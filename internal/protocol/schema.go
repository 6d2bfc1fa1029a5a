// Schema description for the JSON encoding, for operator tooling that wants
// to validate a raw JSON frame by hand before sending it; nothing in this
// module's binaries calls it. This mirrors the schema-descriptor
// pattern the client CLI uses for its tool definitions: a *jsonschema.Schema
// built from a plain Go literal and round-tripped through encoding/json
// rather than hand-maintained as a separate .json file.
package protocol

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// EnvelopeSchema describes the fields common to every JSON-encoded message
// (spec §3.1). It does not describe variant-specific fields: those differ
// per Type and are documented per struct in message.go.
func EnvelopeSchema() *jsonschema.Schema {
	schema := &jsonschema.Schema{Type: "object"}
	raw := []byte(`{
		"type": "object",
		"properties": {
			"type": {"type": "string"},
			"id": {"type": "string"},
			"timestamp": {"type": "string", "format": "date-time"}
		},
		"required": ["type", "id", "timestamp"]
	}`)
	// Errors here would indicate a literal programming mistake in the raw
	// schema document above, not a runtime condition; EnvelopeSchema is only
	// ever called with this fixed literal, so a failure is unreachable.
	if err := json.Unmarshal(raw, schema); err != nil {
		panic("protocol: invalid embedded envelope schema: " + err.Error())
	}
	return schema
}
