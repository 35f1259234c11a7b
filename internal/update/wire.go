package update

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// batchSchema describes the JSON shape a remote client must send for a
// batch of mutations: an array of tagged records whose fields mirror the
// internal Mutation fields. This package only validates that shape; it has
// no decoder from it into a Batch.
const batchSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["kind"],
		"properties": {
			"kind": {
				"type": "string",
				"enum": ["putModule", "deleteModule", "putDataFile", "deleteDataFile",
					"setDynamicOptions", "setCodeGen", "setEnvOverlay"]
			},
			"module": {"type": "string"},
			"source": {"type": "string"},
			"path": {"type": "string"},
			"data": {"type": "string"},
			"options": {"type": "array", "items": {"type": "string"}},
			"codeGen": {"type": "boolean"},
			"env": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["name"],
					"properties": {
						"name": {"type": "string"},
						"value": {"type": ["string", "null"]}
					}
				}
			}
		}
	}
}`

var (
	schemaOnce    sync.Once
	compiled      *jsonschema.Schema
	compileErrVal error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiled, compileErrVal = jsonschema.CompileString("update_batch", batchSchema)
	})
	return compiled, compileErrVal
}

// ValidateWire checks that raw, a JSON-encoded array of mutation records
// arriving over a wire boundary, matches the expected batch shape before
// it is decoded and applied. This guards the same failure mode the
// teacher's websocket request validator guards: a malformed remote
// payload should fail fast with a schema error, not partially decode.
func ValidateWire(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("update: compile batch schema: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("update: invalid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("update: batch failed validation: %w", err)
	}
	return nil
}
