package multiagent

import "context"

// DefaultMaxHandoffDepth bounds how many return-expected handoffs may be
// stacked before HandoffTool refuses further delegation, preventing
// agents from looping control back and forth indefinitely.
const DefaultMaxHandoffDepth = 10

// DefaultHandoffBudget is the starting value of the per-run handoff
// counter. Unlike the return-stack, which only grows for
// return-expected handoffs, the budget is decremented on every handoff
// regardless of target, so a cycle of one-way handoffs can't run forever
// the way unbounded recursion through a cyclic handoff graph would.
const DefaultHandoffBudget = 25

type currentAgentKey struct{}
type handoffStackKey struct{}
type handoffBudgetKey struct{}

// WithCurrentAgent adds the active agent's ID to the context.
func WithCurrentAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, currentAgentKey{}, agentID)
}

// CurrentAgentFromContext retrieves the active agent's ID from context.
func CurrentAgentFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(currentAgentKey{}).(string)
	return v, ok
}

// CurrentAgentFromContextString is a helper that returns the agent ID
// or the empty string when none is set.
func CurrentAgentFromContextString(ctx context.Context) string {
	id, _ := CurrentAgentFromContext(ctx)
	return id
}

// WithHandoffStack adds the handoff return-stack to the context. Each
// entry is the ID of an agent expecting control back once the agent at
// the top of the stack finishes or calls ReturnTool.
func WithHandoffStack(ctx context.Context, stack []string) context.Context {
	return context.WithValue(ctx, handoffStackKey{}, stack)
}

// HandoffStackFromContext retrieves the handoff return-stack from context.
func HandoffStackFromContext(ctx context.Context) []string {
	v, ok := ctx.Value(handoffStackKey{}).([]string)
	if !ok {
		return nil
	}
	return v
}

// WithHandoffBudget sets the number of handoffs still permitted for the
// rest of this run.
func WithHandoffBudget(ctx context.Context, budget int) context.Context {
	return context.WithValue(ctx, handoffBudgetKey{}, budget)
}

// HandoffBudgetFromContext retrieves the remaining handoff budget from
// context, defaulting to DefaultHandoffBudget when none has been set.
func HandoffBudgetFromContext(ctx context.Context) int {
	v, ok := ctx.Value(handoffBudgetKey{}).(int)
	if !ok {
		return DefaultHandoffBudget
	}
	return v
}
