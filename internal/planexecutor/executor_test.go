package planexecutor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/fendari/agentrt/internal/agent"
)

// echoPlanTool returns its "message" argument verbatim as its output.
type echoPlanTool struct{}

func (echoPlanTool) Name() string            { return "echo" }
func (echoPlanTool) Description() string     { return "echoes a message" }
func (echoPlanTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoPlanTool) Strict() bool            { return false }
func (echoPlanTool) NeedsConfirmation() bool { return false }
func (echoPlanTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: input.Message}, nil
}

// concatPlanTool joins its "a" and "b" arguments with " + ".
type concatPlanTool struct{}

func (concatPlanTool) Name() string            { return "concat" }
func (concatPlanTool) Description() string     { return "concatenates two strings" }
func (concatPlanTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (concatPlanTool) Strict() bool            { return false }
func (concatPlanTool) NeedsConfirmation() bool { return false }
func (concatPlanTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		A string `json:"a"`
		B string `json:"b"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	return &agent.ToolResult{Content: fmt.Sprintf("%s + %s", input.A, input.B)}, nil
}

// failingPlanTool always returns an error result.
type failingPlanTool struct{}

func (failingPlanTool) Name() string            { return "fail" }
func (failingPlanTool) Description() string     { return "always fails" }
func (failingPlanTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (failingPlanTool) Strict() bool            { return false }
func (failingPlanTool) NeedsConfirmation() bool { return false }
func (failingPlanTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "boom", IsError: true}, nil
}

func newPlanTestStore(t *testing.T) *agent.ToolRegistry {
	t.Helper()
	reg := agent.NewToolRegistry()
	for _, tool := range []agent.Tool{echoPlanTool{}, concatPlanTool{}, failingPlanTool{}} {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s) error = %v", tool.Name(), err)
		}
	}
	return reg
}

func TestExecutor_Run_SingleStep(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "echo", ArgumentsJSON: `{"message":"hello"}`},
		},
	}

	result, err := executor.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.StepResults) != 1 || !result.StepResults[0].Success {
		t.Fatalf("StepResults = %+v, want one successful step", result.StepResults)
	}
	if result.StepResults[0].Output != "hello" {
		t.Errorf("Output = %q, want %q", result.StepResults[0].Output, "hello")
	}
}

func TestExecutor_Run_ChainedRef(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "echo", ArgumentsJSON: `{"message":"hello"}`},
			{ID: "s2", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s1","b":"world"}`},
		},
	}

	result, err := executor.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	byID := map[string]StepResult{}
	for _, r := range result.StepResults {
		byID[r.ID] = r
	}
	if byID["s2"].Output != "hello + world" {
		t.Errorf("s2 output = %q, want %q", byID["s2"].Output, "hello + world")
	}
}

func TestExecutor_Run_Diamond(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "a", ToolName: "echo", ArgumentsJSON: `{"message":"alpha"}`},
			{ID: "b", ToolName: "echo", ArgumentsJSON: `{"message":"beta"}`},
			{ID: "c", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:a","b":"$ref:b"}`},
		},
		OutputSteps: []string{"c"},
	}

	result, err := executor.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.OutputResults) != 1 {
		t.Fatalf("OutputResults length = %d, want 1", len(result.OutputResults))
	}
	if result.OutputResults[0].Output != "alpha + beta" {
		t.Errorf("c output = %q, want %q", result.OutputResults[0].Output, "alpha + beta")
	}
}

func TestExecutor_Run_FieldPathRef(t *testing.T) {
	store := agent.NewToolRegistry()
	jsonTool := &mockJSONOutputTool{output: `{"user":{"name":"ada"}}`}
	if err := store.Register(jsonTool); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := store.Register(concatPlanTool{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "json_out", ArgumentsJSON: `{}`},
			{ID: "s2", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s1.user.name","b":"lovelace"}`},
		},
	}

	result, err := executor.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	byID := map[string]StepResult{}
	for _, r := range result.StepResults {
		byID[r.ID] = r
	}
	if byID["s2"].Output != "ada + lovelace" {
		t.Errorf("s2 output = %q, want %q", byID["s2"].Output, "ada + lovelace")
	}
}

type mockJSONOutputTool struct{ output string }

func (m *mockJSONOutputTool) Name() string            { return "json_out" }
func (m *mockJSONOutputTool) Description() string     { return "returns fixed JSON" }
func (m *mockJSONOutputTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (m *mockJSONOutputTool) Strict() bool            { return false }
func (m *mockJSONOutputTool) NeedsConfirmation() bool { return false }
func (m *mockJSONOutputTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: m.output}, nil
}

func TestExecutor_Run_FailForward(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "fail", ArgumentsJSON: `{}`},
			{ID: "s2", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s1","b":"world"}`},
			{ID: "s3", ToolName: "echo", ArgumentsJSON: `{"message":"independent"}`},
		},
	}

	result, err := executor.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	byID := map[string]StepResult{}
	for _, r := range result.StepResults {
		byID[r.ID] = r
	}
	if byID["s1"].Success {
		t.Error("s1 should have failed")
	}
	if byID["s2"].Success {
		t.Error("s2 should be skipped as a forwarded failure")
	}
	if !byID["s3"].Success {
		t.Error("s3 is independent of s1/s2 and should still succeed")
	}
	if len(result.Errors) != 2 {
		t.Errorf("Errors length = %d, want 2", len(result.Errors))
	}
}

func TestExecutor_Run_Cycle(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s2","b":"x"}`},
			{ID: "s2", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s1","b":"y"}`},
		},
	}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with a cyclic plan should return an error")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if ve.Kind != ValidationCycle {
		t.Errorf("Kind = %v, want %v", ve.Kind, ValidationCycle)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if !ok {
		return false
	}
	*target = ve
	return true
}

func TestExecutor_Run_EmptyPlan(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	if _, err := executor.Run(context.Background(), &Plan{}); err == nil {
		t.Error("Run() with no steps should return an error")
	}
}

func TestExecutor_Run_DuplicateID(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{
		Steps: []Step{
			{ID: "s1", ToolName: "echo", ArgumentsJSON: `{"message":"a"}`},
			{ID: "s1", ToolName: "echo", ArgumentsJSON: `{"message":"b"}`},
		},
	}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with duplicate step ids should return an error")
	}
}

func TestExecutor_Run_UnknownTool(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{Steps: []Step{{ID: "s1", ToolName: "does_not_exist", ArgumentsJSON: `{}`}}}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with an unknown tool should return an error")
	}
}

func TestExecutor_Run_RecursivePlanToolForbidden(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{Steps: []Step{{ID: "s1", ToolName: PlanToolName, ArgumentsJSON: `{}`}}}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with a step invoking the plan tool itself should return an error")
	}
}

func TestExecutor_Run_SelfReference(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{Steps: []Step{{ID: "s1", ToolName: "concat", ArgumentsJSON: `{"a":"$ref:s1","b":"x"}`}}}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with a self-referencing step should return an error")
	}
}

func TestExecutor_Run_InvalidID(t *testing.T) {
	store := newPlanTestStore(t)
	executor := NewExecutor(store)

	plan := &Plan{Steps: []Step{{ID: "bad id!", ToolName: "echo", ArgumentsJSON: `{}`}}}

	_, err := executor.Run(context.Background(), plan)
	if err == nil {
		t.Fatal("Run() with an invalid step id should return an error")
	}
}
