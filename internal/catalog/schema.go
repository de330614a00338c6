package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaFor derives a JSON Schema from a typed input struct. Tools declare
// inputs as Go structs with json/jsonschema tags instead of hand-written
// schema literals.
func SchemaFor(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""

	b, err := json.Marshal(schema)
	if err != nil {
		// Reflection output always marshals; keep the model usable anyway.
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

var (
	compiledMu sync.Mutex
	compiled   = map[string]*schemavalidate.Schema{}
)

// ValidateInput checks a tool call's input against the tool's declared
// schema. A validation failure is an input error, not a transport error.
func ValidateInput(tool Tool, input json.RawMessage) error {
	schema, err := compileSchema(tool.Schema())
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool input invalid: %w", err)
	}
	return nil
}

func compileSchema(raw json.RawMessage) (*schemavalidate.Schema, error) {
	key := string(raw)

	compiledMu.Lock()
	defer compiledMu.Unlock()
	if schema, ok := compiled[key]; ok {
		return schema, nil
	}

	schema, err := schemavalidate.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	compiled[key] = schema
	return schema, nil
}
