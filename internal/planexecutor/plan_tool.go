package planexecutor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fendari/agentrt/internal/agent"
)

// PlanTool exposes an Executor as the execute_tool_plan Tool: the LLM
// hands it a declarative DAG of tool calls in one shot instead of
// issuing them turn by turn, and gets back a compact summary plus the
// full per-step results.
type PlanTool struct {
	executor *Executor
}

// NewPlanTool wraps an Executor behind the agent.Tool interface.
func NewPlanTool(executor *Executor) *PlanTool {
	return &PlanTool{executor: executor}
}

// Name returns the tool name.
func (p *PlanTool) Name() string { return PlanToolName }

// Description returns a description of the tool for LLMs.
func (p *PlanTool) Description() string {
	return `Execute a declarative plan of tool calls as a DAG, running independent steps in parallel.

Each step has a unique id, a tool name, and a JSON-string of arguments. A step's arguments may
reference another step's output with "$ref:stepId" (the full output, inlined as JSON if possible)
or "$ref:stepId.field.path" (a field extracted from that step's JSON output).

Use this instead of calling tools one at a time when several independent operations can run
concurrently, or when one tool's output must feed directly into another's input.`
}

// Schema returns the JSON schema for the tool's input.
func (p *PlanTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":        map[string]any{"type": "string", "description": "unique step id, [A-Za-z0-9_]"},
						"tool":      map[string]any{"type": "string", "description": "the tool to invoke"},
						"arguments": map[string]any{"type": "string", "description": "JSON-encoded arguments for the tool, may contain $ref tokens"},
					},
					"required": []string{"id", "tool", "arguments"},
				},
			},
			"output_steps": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "optional: step ids to include in the result; all steps are included if omitted",
			},
		},
		"required": []string{"steps"},
	}
	data, _ := json.Marshal(schema)
	return data
}

// Strict reports whether this tool requires well-formed JSON arguments.
func (p *PlanTool) Strict() bool { return true }

// NeedsConfirmation reports whether invoking this tool requires approval.
func (p *PlanTool) NeedsConfirmation() bool { return false }

// planToolInput is the input schema for the execute_tool_plan tool.
type planToolInput struct {
	Steps       []Step   `json:"steps"`
	OutputSteps []string `json:"output_steps,omitempty"`
}

// Execute parses the plan, runs it, and returns the plan's summary as
// the tool's content with the full structured result attached as JSON.
func (p *PlanTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input planToolInput
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid plan: %v", err), IsError: true}, nil
	}

	plan := &Plan{Steps: input.Steps, OutputSteps: input.OutputSteps}
	result, err := p.executor.Run(ctx, plan)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("plan rejected: %v", err), IsError: true}, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to serialize plan result: %v", err), IsError: true}, nil
	}

	allFailed := len(result.StepResults) > 0 && len(result.Errors) == len(result.StepResults)
	return &agent.ToolResult{Content: string(data), IsError: allFailed}, nil
}
