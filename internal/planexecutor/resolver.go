package planexecutor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches a $ref token as it appears inside a JSON string
// value: $ref:stepId or $ref:stepId.a.b.c.
var refPattern = regexp.MustCompile(`^\$ref:([A-Za-z0-9_]+)((?:\.[A-Za-z0-9_]+)*)$`)

// extractRefs scans a step's raw arguments for every $ref token and
// returns the distinct set of stepIds it depends on.
func extractRefs(argumentsJSON string) ([]string, error) {
	var node any
	if err := json.Unmarshal([]byte(argumentsJSON), &node); err != nil {
		return nil, fmt.Errorf("arguments is not valid JSON: %w", err)
	}

	seen := make(map[string]bool)
	var walk func(n any)
	walk = func(n any) {
		switch v := n.(type) {
		case string:
			if m := refPattern.FindStringSubmatch(v); m != nil {
				seen[m[1]] = true
			}
		case map[string]any:
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(node)

	refs := make([]string, 0, len(seen))
	for id := range seen {
		refs = append(refs, id)
	}
	return refs, nil
}

// resolveRefs substitutes every $ref token in argumentsJSON with the
// corresponding entry from outputs, keyed by stepId. A plain
// "$ref:stepId" is replaced by that step's output, inlined unquoted if
// it parses as JSON and as a JSON string otherwise. "$ref:stepId.a.b.c"
// parses the referenced output as JSON and extracts /a/b/c, yielding
// null for a missing field and an error if the output isn't JSON.
func resolveRefs(argumentsJSON string, outputs map[string]string) (string, error) {
	var node any
	if err := json.Unmarshal([]byte(argumentsJSON), &node); err != nil {
		return "", fmt.Errorf("arguments is not valid JSON: %w", err)
	}

	resolved, err := resolveNode(node, outputs)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode resolved arguments: %w", err)
	}
	return string(data), nil
}

func resolveNode(n any, outputs map[string]string) (any, error) {
	switch v := n.(type) {
	case string:
		m := refPattern.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		stepID, path := m[1], m[2]
		output, ok := outputs[stepID]
		if !ok {
			return nil, fmt.Errorf("reference to unknown or not-yet-resolved step %q", stepID)
		}
		if path == "" {
			return inlineOutput(output), nil
		}
		return resolvePath(stepID, output, path)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			resolvedChild, err := resolveNode(child, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolvedChild, err := resolveNode(child, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	default:
		return v, nil
	}
}

// inlineOutput inlines a step's raw text output unquoted when it parses
// as JSON, and as a JSON string otherwise.
func inlineOutput(output string) any {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err == nil {
		return parsed
	}
	return output
}

// resolvePath parses output as JSON and walks the dot-separated path,
// yielding nil for a missing field. A non-JSON output is an error
// attributed to the referring step by the caller.
func resolvePath(stepID, output, path string) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, fmt.Errorf("step %q output is not JSON, cannot resolve field path %q", stepID, strings.TrimPrefix(path, "."))
	}

	fields := strings.Split(strings.TrimPrefix(path, "."), ".")
	current := parsed
	for _, field := range fields {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, nil
		}
		current, ok = m[field]
		if !ok {
			return nil, nil
		}
	}
	return current, nil
}
