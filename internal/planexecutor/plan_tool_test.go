package planexecutor

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPlanTool_Execute(t *testing.T) {
	store := newPlanTestStore(t)
	tool := NewPlanTool(NewExecutor(store))

	input := planToolInput{
		Steps: []Step{
			{ID: "s1", ToolName: "echo", ArgumentsJSON: `{"message":"hi"}`},
		},
	}
	params, _ := json.Marshal(input)

	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("Execute() returned an error result: %s", result.Content)
	}

	var decoded Result
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("result content is not valid JSON: %v", err)
	}
	if len(decoded.StepResults) != 1 || !decoded.StepResults[0].Success {
		t.Errorf("decoded StepResults = %+v, want one successful step", decoded.StepResults)
	}
}

func TestPlanTool_Execute_InvalidJSON(t *testing.T) {
	store := newPlanTestStore(t)
	tool := NewPlanTool(NewExecutor(store))

	result, err := tool.Execute(context.Background(), json.RawMessage(`not json`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Error("Execute() with invalid JSON should return an error result")
	}
}

func TestPlanTool_Execute_ValidationRejected(t *testing.T) {
	store := newPlanTestStore(t)
	tool := NewPlanTool(NewExecutor(store))

	params, _ := json.Marshal(planToolInput{Steps: nil})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.IsError {
		t.Error("Execute() with an empty plan should return an error result")
	}
}

func TestPlanTool_Name(t *testing.T) {
	tool := NewPlanTool(NewExecutor(newPlanTestStore(t)))
	if tool.Name() != PlanToolName {
		t.Errorf("Name() = %q, want %q", tool.Name(), PlanToolName)
	}
}
