package artifactstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/fendari/agentrt/internal/agent"
)

// Externalize inspects each of a ToolResult's artifacts and, for any
// whose Data exceeds MaxInlineDataBytes, pushes the data into store and
// replaces Data with a reference URL. Artifacts at or under the
// threshold are left untouched. The input slice is not mutated; a new
// slice is returned.
func Externalize(ctx context.Context, store Store, artifacts []agent.Artifact) ([]agent.Artifact, error) {
	if len(artifacts) == 0 {
		return artifacts, nil
	}

	out := make([]agent.Artifact, len(artifacts))
	for i, a := range artifacts {
		if len(a.Data) <= MaxInlineDataBytes || a.URL != "" {
			out[i] = a
			continue
		}

		url, err := store.Put(ctx, a.ID, bytes.NewReader(a.Data), PutOptions{MimeType: a.MimeType})
		if err != nil {
			return nil, fmt.Errorf("externalize artifact %s: %w", a.ID, err)
		}

		externalized := a
		externalized.Data = nil
		externalized.URL = url
		out[i] = externalized
	}
	return out, nil
}

// Inline resolves an externalized artifact's URL back to inline Data by
// reading it from store. Artifacts that already carry Data, or that
// carry no URL, are returned unchanged.
func Inline(ctx context.Context, store Store, a agent.Artifact) (agent.Artifact, error) {
	if len(a.Data) > 0 || a.URL == "" {
		return a, nil
	}

	rc, err := store.Get(ctx, a.ID)
	if err != nil {
		return a, fmt.Errorf("inline artifact %s: %w", a.ID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return a, fmt.Errorf("inline artifact %s: %w", a.ID, err)
	}

	resolved := a
	resolved.Data = data
	resolved.URL = ""
	return resolved, nil
}
