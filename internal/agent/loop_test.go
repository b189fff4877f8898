package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type scriptedProvider struct {
	turns [][]*CompletionChunk
	calls int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("scripted provider exhausted")
	}
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan *CompletionChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

func textTurn(text string) []*CompletionChunk {
	return []*CompletionChunk{{Text: text, Done: true}}
}

type echoTool struct {
	needsConfirm bool
}

func (t *echoTool) Name() string           { return "echo" }
func (t *echoTool) Description() string    { return "echoes its input" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Strict() bool            { return false }
func (t *echoTool) NeedsConfirmation() bool { return t.needsConfirm }
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: string(params)}, nil
}

func newTestAgent(provider LLMProvider) *Agent {
	registry := NewToolRegistry()
	registry.Register(&echoTool{})
	return &Agent{
		Name:     "test-agent",
		Tools:    registry,
		Provider: provider,
		MaxTurns: 10,
	}
}

func runAndCollect(t *testing.T, loop *AgenticLoop, agent *Agent, ctxt *Context) *RunResult {
	t.Helper()
	chunks, results, err := loop.Run(context.Background(), agent, ctxt)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for range chunks {
	}
	return <-results
}

func TestAgenticLoop_CompletesOnFinalText(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("hello there")}}
	agent := newTestAgent(provider)
	ctxt := NewContext()
	ctxt.Append(Message{Role: RoleUser, Content: []ContentPart{TextPart{Text: "hi"}}})

	loop := NewAgenticLoop(nil)
	result := runAndCollect(t, loop, agent, ctxt)

	if result.TerminalReason != TerminalCompleted {
		t.Fatalf("TerminalReason = %v, want %v", result.TerminalReason, TerminalCompleted)
	}
	if result.FinalText != "hello there" {
		t.Errorf("FinalText = %q, want %q", result.FinalText, "hello there")
	}
	if result.TurnsUsed != 1 {
		t.Errorf("TurnsUsed = %d, want 1", result.TurnsUsed)
	}
}

type denyAllGuardrail struct{}

func (denyAllGuardrail) Name() string { return "deny-all" }
func (denyAllGuardrail) Check(ctx context.Context, text string) error {
	return ErrGuardrailFailed
}

func TestAgenticLoop_GuardrailFailsBeforeFirstCall(t *testing.T) {
	provider := &scriptedProvider{turns: [][]*CompletionChunk{textTurn("unreachable")}}
	agent := newTestAgent(provider)
	agent.Guardrails = []Guardrail{denyAllGuardrail{}}
	ctxt := NewContext()
	ctxt.Append(Message{Role: RoleUser, Content: []ContentPart{TextPart{Text: "bad input"}}})

	loop := NewAgenticLoop(nil)
	result := runAndCollect(t, loop, agent, ctxt)

	if result.TerminalReason != TerminalGuardrailFailed {
		t.Fatalf("TerminalReason = %v, want %v", result.TerminalReason, TerminalGuardrailFailed)
	}
	if provider.calls != 0 {
		t.Errorf("provider was called %d times, want 0 — no LLM call should happen on input guardrail failure", provider.calls)
	}
}

func TestAgenticLoop_TurnBudgetExceeded(t *testing.T) {
	toolCallTurn := []*CompletionChunk{
		{ToolCall: &ToolCall{CallID: "c1", ToolName: "echo", RawArgumentsJSON: json.RawMessage(`{}`)}, Done: true},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{toolCallTurn, toolCallTurn, toolCallTurn}}
	agent := newTestAgent(provider)
	agent.MaxTurns = 2
	ctxt := NewContext()
	ctxt.Append(Message{Role: RoleUser, Content: []ContentPart{TextPart{Text: "loop forever"}}})

	loop := NewAgenticLoop(nil)
	result := runAndCollect(t, loop, agent, ctxt)

	if result.TerminalReason != TerminalTurnBudgetExceeded {
		t.Fatalf("TerminalReason = %v, want %v", result.TerminalReason, TerminalTurnBudgetExceeded)
	}
}

func TestAgenticLoop_PausesForApprovalAndResumes(t *testing.T) {
	toolCallTurn := []*CompletionChunk{
		{ToolCall: &ToolCall{CallID: "c1", ToolName: "echo", RawArgumentsJSON: json.RawMessage(`{"x":1}`)}, Done: true},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{toolCallTurn, textTurn("done")}}
	agent := newTestAgent(provider)
	agent.Tools = NewToolRegistry()
	agent.Tools.Register(&echoTool{needsConfirm: true})

	ctxt := NewContext()
	ctxt.Append(Message{Role: RoleUser, Content: []ContentPart{TextPart{Text: "do the thing"}}})

	loop := NewAgenticLoop(nil)
	result := runAndCollect(t, loop, agent, ctxt)

	if result.TerminalReason != TerminalPausedForApproval {
		t.Fatalf("TerminalReason = %v, want %v", result.TerminalReason, TerminalPausedForApproval)
	}
	if result.PausedState == nil {
		t.Fatalf("PausedState is nil, want a snapshot")
	}

	chunks, results, err := loop.Resume(context.Background(), agent, result.PausedState, ApprovalOutcome{Approved: true})
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	for range chunks {
	}
	resumed := <-results
	if resumed.TerminalReason != TerminalCompleted {
		t.Fatalf("resumed TerminalReason = %v, want %v", resumed.TerminalReason, TerminalCompleted)
	}

	if _, _, err := loop.Resume(context.Background(), agent, result.PausedState, ApprovalOutcome{Approved: true}); err == nil {
		t.Fatalf("expected re-resuming the same state to fail")
	}
}

func TestAgenticLoop_UnknownToolFailsForward(t *testing.T) {
	toolCallTurn := []*CompletionChunk{
		{ToolCall: &ToolCall{CallID: "c1", ToolName: "nonexistent", RawArgumentsJSON: json.RawMessage(`{}`)}, Done: true},
	}
	provider := &scriptedProvider{turns: [][]*CompletionChunk{toolCallTurn, textTurn("recovered")}}
	agent := newTestAgent(provider)
	ctxt := NewContext()
	ctxt.Append(Message{Role: RoleUser, Content: []ContentPart{TextPart{Text: "call bad tool"}}})

	loop := NewAgenticLoop(nil)
	result := runAndCollect(t, loop, agent, ctxt)

	if result.TerminalReason != TerminalCompleted {
		t.Fatalf("TerminalReason = %v, want %v", result.TerminalReason, TerminalCompleted)
	}
	if len(result.Executions) != 1 {
		t.Fatalf("Executions = %d, want 1", len(result.Executions))
	}
	if !result.Executions[0].Output.IsError {
		t.Errorf("expected unknown-tool execution to be an error output")
	}
}
