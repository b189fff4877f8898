package context

import (
	"context"

	"github.com/fendari/agentrt/internal/agent"
)

// SlidingWindow implements agent.WindowStrategy (§4.3): it never mutates
// the Context it is handed, only returns a transient, token-budgeted
// view of it for a single Responder call.
type SlidingWindow struct {
	// PreserveDeveloperMessages keeps the leading run of consecutive
	// developer-role messages outside the budget walk, so system/
	// instruction prompts are never evicted before turn history is.
	PreserveDeveloperMessages bool
}

var _ agent.WindowStrategy = SlidingWindow{}

// Reduce returns history unchanged if it already fits maxTokens.
// Otherwise it reserves tokens for the preserved developer-message
// prefix, then walks the remaining suffix from newest to oldest,
// prepending items while the running total still fits, stopping at the
// first item that would not. Relative order is preserved throughout.
func (s SlidingWindow) Reduce(ctx context.Context, items []agent.InputItem, maxTokens int, counter agent.TokenCounter) ([]agent.InputItem, error) {
	total := 0
	for _, it := range items {
		total += counter.CountItem(it)
	}
	if total <= maxTokens {
		return items, nil
	}

	prefixEnd := 0
	if s.PreserveDeveloperMessages {
		for prefixEnd < len(items) {
			msg, ok := items[prefixEnd].(agent.Message)
			if !ok || msg.Role != agent.RoleDeveloper {
				break
			}
			prefixEnd++
		}
	}
	prefix := items[:prefixEnd]
	suffix := items[prefixEnd:]

	budget := maxTokens
	for _, it := range prefix {
		budget -= counter.CountItem(it)
	}
	if budget < 0 {
		budget = 0
	}

	kept := make([]agent.InputItem, 0, len(suffix))
	running := 0
	for i := len(suffix) - 1; i >= 0; i-- {
		cost := counter.CountItem(suffix[i])
		if running+cost > budget {
			break
		}
		running += cost
		kept = append([]agent.InputItem{suffix[i]}, kept...)
	}

	out := make([]agent.InputItem, 0, len(prefix)+len(kept))
	out = append(out, prefix...)
	out = append(out, kept...)
	return out, nil
}
