package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fendari/agentrt/internal/agent"
)

// SubAgentTool exposes a registered agent as a callable tool: the caller
// runs it to completion in a fresh Context and gets back its final text,
// without ever giving up control the way HandoffTool does. Grounded on
// the supervisor/delegate pattern, reshaped as a single generic tool
// bound to one target agent rather than a bespoke delegation protocol.
type SubAgentTool struct {
	registry *Registry
	loop     *agent.AgenticLoop
	targetID string
	timeout  time.Duration
	runs     *SubagentRegistry
}

// NewSubAgentTool creates a tool that runs the target agent as a
// sub-agent. timeout bounds the sub-agent's run; zero means no bound
// beyond the caller's own context. runs may be nil, in which case the
// tool runs the sub-agent without recording its lifecycle.
func NewSubAgentTool(registry *Registry, loop *agent.AgenticLoop, targetID string, timeout time.Duration, runs *SubagentRegistry) (*SubAgentTool, error) {
	entry, ok := registry.Get(targetID)
	if !ok {
		return nil, fmt.Errorf("sub-agent not registered: %s", targetID)
	}
	if !entry.Definition.CanBeSubAgent {
		return nil, fmt.Errorf("agent %s has not opted into sub-agent invocation", targetID)
	}
	return &SubAgentTool{registry: registry, loop: loop, targetID: targetID, timeout: timeout, runs: runs}, nil
}

// Name returns the tool name, scoped to the target agent's ID.
func (t *SubAgentTool) Name() string {
	return "delegate_to_" + t.targetID
}

// Description returns a description of the tool for LLMs.
func (t *SubAgentTool) Description() string {
	entry, ok := t.registry.Get(t.targetID)
	if !ok {
		return "Delegate a task to a sub-agent and receive its final answer."
	}
	return fmt.Sprintf("Delegate a task to the %q agent and receive its final answer. %s",
		entry.Definition.Name, entry.Definition.Description)
}

// Schema returns the JSON schema for the tool's input, reflected from
// SubAgentToolInput so it can never drift from what Execute decodes.
func (t *SubAgentTool) Schema() json.RawMessage {
	return agent.GenerateSchema[SubAgentToolInput]()
}

// Strict reports whether this tool requires well-formed JSON arguments.
func (t *SubAgentTool) Strict() bool { return true }

// NeedsConfirmation reports whether invoking this tool requires approval.
func (t *SubAgentTool) NeedsConfirmation() bool { return false }

// SubAgentToolInput is the input for a sub-agent delegation call.
type SubAgentToolInput struct {
	Task string `json:"task" jsonschema:"required,description=The task or question to delegate to the sub-agent"`
}

// Execute runs the target agent to completion against a fresh Context
// seeded with the delegated task, and returns its final text.
func (t *SubAgentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input SubAgentToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid sub-agent input: %v", err), IsError: true}, nil
	}

	entry, ok := t.registry.Get(t.targetID)
	if !ok {
		return &agent.ToolResult{Content: fmt.Sprintf("sub-agent not found: %s", t.targetID), IsError: true}, nil
	}

	runCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	runID := uuid.New().String()
	requesterID := CurrentAgentFromContextString(ctx)
	if t.runs != nil {
		t.runs.Register(RegisterSubagentParams{
			RunID:               runID,
			ChildSessionKey:     t.targetID,
			RequesterSessionKey: requesterID,
			Task:                input.Task,
			Cleanup:             "delete",
			TimeoutMs:           t.timeout.Milliseconds(),
		})
		_ = t.runs.Start(runID)
	}

	subCtxt := agent.NewContext()
	subCtxt.Append(agent.Message{
		Role:    agent.RoleUser,
		Content: []agent.ContentPart{agent.TextPart{Text: input.Task}},
	})

	_, results, err := t.loop.Run(WithCurrentAgent(runCtx, entry.Definition.ID), entry.Agent, subCtxt)
	if err != nil {
		t.completeRun(runID, &SubagentOutcome{Status: SubagentStatusError, Error: err.Error(), EndedAt: time.Now()})
		return &agent.ToolResult{Content: fmt.Sprintf("sub-agent run failed: %v", err), IsError: true}, nil
	}

	result := <-results
	if result == nil {
		t.completeRun(runID, &SubagentOutcome{Status: SubagentStatusError, Error: "no result produced", EndedAt: time.Now()})
		return &agent.ToolResult{Content: "sub-agent produced no result", IsError: true}, nil
	}
	if result.TerminalReason != agent.TerminalCompleted {
		t.completeRun(runID, &SubagentOutcome{
			Status:  terminalReasonToStatus(result.TerminalReason),
			Error:   string(result.TerminalReason),
			EndedAt: time.Now(),
		})
		return &agent.ToolResult{
			Content: fmt.Sprintf("sub-agent %s did not complete: %s", t.targetID, result.TerminalReason),
			IsError: true,
		}, nil
	}

	t.completeRun(runID, &SubagentOutcome{Status: SubagentStatusCompleted, Result: result.FinalText, EndedAt: time.Now()})
	return &agent.ToolResult{Content: result.FinalText}, nil
}

func (t *SubAgentTool) completeRun(runID string, outcome *SubagentOutcome) {
	if t.runs == nil {
		return
	}
	_ = t.runs.Complete(runID, outcome)
}

func terminalReasonToStatus(reason agent.TerminalReason) SubagentRunStatus {
	if reason == agent.TerminalTurnBudgetExceeded {
		return SubagentStatusTimeout
	}
	return SubagentStatusError
}
