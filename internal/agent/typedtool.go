package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a Go struct type into the JSON Schema its
// Execute method expects, using its json/jsonschema struct tags, so a
// tool's Schema() never drifts from the struct its Execute actually
// decodes into.
func GenerateSchema[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	out, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return json.RawMessage(out)
}
