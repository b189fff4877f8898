package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// validateToolArguments checks rawArgs against schema (a tool's
// Schema()) using the draft the schema itself declares via "$schema",
// defaulting to whatever jsonschema.Compile assumes when absent.
// Compiled schemas are cached by their source text so a tool invoked
// repeatedly in a single process only pays the compile cost once.
func validateToolArguments(schema, rawArgs json.RawMessage) error {
	compiled, err := compileToolSchema(schema)
	if err != nil {
		return fmt.Errorf("compile tool schema: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(rawArgs, &decoded); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("arguments do not match tool schema: %w", err)
	}
	return nil
}

var toolSchemaCache sync.Map

func compileToolSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := toolSchemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	toolSchemaCache.Store(key, compiled)
	return compiled, nil
}
