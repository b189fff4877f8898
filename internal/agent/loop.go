package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fendari/agentrt/internal/observability"
)

// TokenCounter estimates the token cost of context items for a
// WindowStrategy. Implementations must be stateless, non-negative, and
// additive over items — the loop never inspects the estimate itself.
type TokenCounter interface {
	CountText(text string) int
	CountImage(detail ImageDetail) int
	CountItem(item InputItem) int
}

// WindowStrategy produces a transient, token-budgeted view of a Context
// for a single Responder call without mutating the Context itself.
type WindowStrategy interface {
	Reduce(ctx context.Context, items []InputItem, maxTokens int, counter TokenCounter) ([]InputItem, error)
}

// Guardrail inspects either the latest user input (first turn) or the
// final assistant text (last turn) and may veto the interaction.
type Guardrail interface {
	Name() string
	Check(ctx context.Context, text string) error
}

// ErrGuardrailFailed is wrapped by a Guardrail's Check to signal a veto.
var ErrGuardrailFailed = errors.New("guardrail failed")

// Handoff resolves a target agent name emitted by the LLM to the Agent
// that should continue the interaction.
type Handoff interface {
	Resolve(name string) (*Agent, bool)
}

// Agent bundles everything the loop needs for one interaction: its tool
// store, instructions, optional handoff targets, guardrails, turn
// budget, window strategy, and Responder.
type Agent struct {
	Name         string
	Instructions string
	Tools        *ToolRegistry
	Handoffs     Handoff
	Guardrails   []Guardrail
	MaxTurns     int
	Window       WindowStrategy
	Counter      TokenCounter
	Provider     LLMProvider
	Model        string
	MaxTokens    int

	// Telemetry, when set, receives a ResponseStarted/ResponseCompleted
	// (or ResponseFailed/AgentFailed) pair around the interaction as a
	// whole and around each LLM call and tool call within it (§4.5).
	Telemetry *observability.TelemetryBus

	// StructuredOutputSchema, when set, is parsed out of the final
	// assistant text on a Completed terminal turn.
	StructuredOutputSchema json.RawMessage
	ParseStructuredOutput  func(text string) (any, error)
}

// LoopConfig configures the agentic loop's tool-execution behavior.
type LoopConfig struct {
	// ExecutorConfig configures the parallel tool executor used for
	// within-turn tool dispatch.
	ExecutorConfig *ExecutorConfig

	// DisableToolEvents suppresses streaming ToolEvent chunks.
	DisableToolEvents bool

	// ApprovalChecker evaluates approval policy for tool calls when set;
	// combined with each Tool's own NeedsConfirmation flag.
	ApprovalChecker *ApprovalChecker
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		ExecutorConfig: DefaultExecutorConfig(),
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	if cfg.ExecutorConfig == nil {
		cfg.ExecutorConfig = DefaultExecutorConfig()
	}
	return &cfg
}

// AgenticLoop executes turns against an Agent until a terminal condition
// holds: a guardrail failure, an output parse error, turn-budget
// exhaustion, a pause for tool-call approval, or completion.
type AgenticLoop struct {
	config *LoopConfig
}

// NewAgenticLoop creates a new agentic loop. If config is nil,
// DefaultLoopConfig is used.
func NewAgenticLoop(config *LoopConfig) *AgenticLoop {
	return &AgenticLoop{config: sanitizeLoopConfig(config)}
}

// Run drives agent through turns over ctxt (the caller-owned Context)
// and streams chunks as they are produced. The returned channel is
// closed once a terminal RunResult has been delivered.
func (l *AgenticLoop) Run(ctx context.Context, agent *Agent, ctxt *Context) (<-chan *ResponseChunk, <-chan *RunResult, error) {
	if agent == nil {
		return nil, nil, errors.New("agent must not be nil")
	}
	if agent.Provider == nil {
		return nil, nil, ErrNoProvider
	}
	if ctxt == nil {
		return nil, nil, errors.New("context must not be nil")
	}

	chunks := make(chan *ResponseChunk, 16)
	results := make(chan *RunResult, 1)

	go func() {
		defer close(chunks)
		defer close(results)
		results <- l.runLoop(ctx, agent, ctxt, nil, chunks)
	}()

	return chunks, results, nil
}

// Resume continues an interaction previously paused with
// TerminalPausedForApproval. Resuming the same state a second time is a
// fatal error.
func (l *AgenticLoop) Resume(ctx context.Context, agent *Agent, state *AgentRunState, decision ApprovalOutcome) (<-chan *ResponseChunk, <-chan *RunResult, error) {
	if state == nil {
		return nil, nil, errors.New("state must not be nil")
	}
	if state.resumed {
		return nil, nil, fmt.Errorf("agent run state already resumed")
	}
	state.resumed = true

	ctxt := &Context{Items: append([]InputItem(nil), state.ContextItems...), State: map[string]any{}, SessionID: state.SessionID}

	chunks := make(chan *ResponseChunk, 16)
	results := make(chan *RunResult, 1)

	go func() {
		defer close(chunks)
		defer close(results)

		call := state.PendingCall
		var output ToolOutput
		if decision.Approved {
			output = l.executeTool(ctx, agent, call, chunks, ctxt.SessionID)
		} else {
			output = ToolOutput{Payload: TextPayload{Text: "tool call denied by approver"}, IsError: true}
		}
		ctxt.Append(ToolCallOutput{CallID: call.CallID, Payload: output.Payload, IsError: output.IsError})

		resumed := &resumeState{executions: state.Executions, turnIndex: state.TurnIndex}
		resumed.executions = append(resumed.executions, Execution{Call: call, Output: output, Finished: time.Now()})

		results <- l.runLoop(ctx, agent, ctxt, resumed, chunks)
	}()

	return chunks, results, nil
}

type resumeState struct {
	executions []Execution
	turnIndex  int
}

// runLoop wraps runTurns with the interaction's root span: one
// ResponseStarted/ResponseCompleted (or AgentFailed) pair spanning
// loop-start to loop-end, published to agent.Telemetry when set.
func (l *AgenticLoop) runLoop(ctx context.Context, agent *Agent, ctxt *Context, resumed *resumeState, chunks chan<- *ResponseChunk) *RunResult {
	rootCtx, root := observability.StartRootSpan(ctx)
	l.publishTelemetry(agent, ctxt.SessionID, observability.EventResponseStarted, root, map[string]any{"agent": agent.Name})

	result := l.runTurns(rootCtx, agent, ctxt, resumed, chunks)

	kind := observability.EventResponseCompleted
	attrs := map[string]any{"terminal_reason": string(result.TerminalReason), "turns_used": result.TurnsUsed}
	switch result.TerminalReason {
	case TerminalGuardrailFailed, TerminalOutputParseError:
		kind = observability.EventAgentFailed
	}
	l.publishTelemetry(agent, ctxt.SessionID, kind, root, attrs)

	return result
}

// publishTelemetry is a no-op when agent.Telemetry is nil, so call sites
// never need to guard it themselves.
func (l *AgenticLoop) publishTelemetry(agent *Agent, sessionID string, kind observability.TelemetryEventKind, sc *observability.SpanContext, attrs map[string]any) {
	if agent == nil || agent.Telemetry == nil {
		return
	}
	agent.Telemetry.Publish(observability.NewTelemetryEvent(kind, sessionID, sc, time.Now(), attrs))
}

// runTurns is the turn loop proper: guardrails, window reduction,
// responder call, append, dispatch, turn budget.
func (l *AgenticLoop) runTurns(ctx context.Context, agent *Agent, ctxt *Context, resumed *resumeState, chunks chan<- *ResponseChunk) *RunResult {
	maxTurns := agent.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	var executions []Execution
	var handoffsTaken []string
	var usage Usage
	turnIndex := 0
	firstTurn := true

	if resumed != nil {
		executions = resumed.executions
		turnIndex = resumed.turnIndex
		firstTurn = false
	}

	currentAgent := agent
	lastText := ""

	for {
		if firstTurn {
			if text, ok := latestUserText(ctxt); ok {
				for _, g := range currentAgent.Guardrails {
					if err := g.Check(ctx, text); err != nil {
						return &RunResult{
							TerminalReason: TerminalGuardrailFailed,
							Executions:     executions,
							HandoffsTaken:  handoffsTaken,
							TurnsUsed:      turnIndex,
							Usage:          usage,
						}
					}
				}
			}
			firstTurn = false
		}

		if turnIndex >= maxTurns {
			return &RunResult{
				FinalText:      lastText,
				TerminalReason: TerminalTurnBudgetExceeded,
				Executions:     executions,
				HandoffsTaken:  handoffsTaken,
				TurnsUsed:      turnIndex,
				Usage:          usage,
			}
		}

		view, err := reduceWindow(ctx, currentAgent, ctxt.Snapshot())
		if err != nil {
			view = ctxt.Snapshot()
		}

		llmCtx, llmSpan := observability.StartChildSpan(ctx)
		l.publishTelemetry(currentAgent, ctxt.SessionID, observability.EventResponseStarted, llmSpan, map[string]any{"model": currentAgent.Model})

		req := buildCompletionRequest(currentAgent, view)
		req.TraceID = llmSpan.TraceID
		stream, err := currentAgent.Provider.Complete(llmCtx, req)
		if err != nil {
			l.publishTelemetry(currentAgent, ctxt.SessionID, observability.EventResponseFailed, llmSpan, map[string]any{"error": err.Error()})
			chunks <- &ResponseChunk{Error: err}
			return &RunResult{
				TerminalReason: TerminalOutputParseError,
				Executions:     executions,
				HandoffsTaken:  handoffsTaken,
				TurnsUsed:      turnIndex,
				Usage:          usage,
			}
		}

		var text string
		var toolCalls []ToolCall
		var handoffTarget string
		var streamErr error

		for chunk := range stream {
			if chunk.Error != nil {
				streamErr = chunk.Error
				chunks <- &ResponseChunk{Error: chunk.Error}
				continue
			}
			if chunk.Text != "" {
				text += chunk.Text
				chunks <- &ResponseChunk{Text: chunk.Text}
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Handoff != "" {
				handoffTarget = chunk.Handoff
			}
			if chunk.Done {
				usage.InputTokens += chunk.InputTokens
				usage.OutputTokens += chunk.OutputTokens
			}
		}

		if streamErr != nil {
			l.publishTelemetry(currentAgent, ctxt.SessionID, observability.EventResponseFailed, llmSpan, map[string]any{"error": streamErr.Error()})
		} else {
			l.publishTelemetry(currentAgent, ctxt.SessionID, observability.EventResponseCompleted, llmSpan, map[string]any{
				"input_tokens":  usage.InputTokens,
				"output_tokens": usage.OutputTokens,
			})
		}

		lastText = text
		turnIndex++

		if text != "" {
			ctxt.Append(Message{Role: RoleAssistant, Content: []ContentPart{TextPart{Text: text}}})
		}

		if handoffTarget != "" {
			if currentAgent.Handoffs == nil {
				continue
			}
			next, ok := currentAgent.Handoffs.Resolve(handoffTarget)
			if !ok {
				continue
			}
			handoffsTaken = append(handoffsTaken, handoffTarget)
			currentAgent = next
			continue
		}

		if len(toolCalls) > 0 {
			if pending, call := l.firstUnresolvedApproval(currentAgent, toolCalls); pending {
				return &RunResult{
					TerminalReason: TerminalPausedForApproval,
					Executions:     executions,
					HandoffsTaken:  handoffsTaken,
					TurnsUsed:      turnIndex,
					Usage:          usage,
					PausedState: &AgentRunState{
						ContextItems: ctxt.Snapshot(),
						TurnIndex:    turnIndex,
						PendingCall:  call,
						Executions:   executions,
						SessionID:    ctxt.SessionID,
					},
				}
			}

			for _, call := range toolCalls {
				start := time.Now()
				var output ToolOutput
				if l.isDenied(ctx, currentAgent, call) {
					l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventDenied})
					output = ToolOutput{Payload: TextPayload{Text: "tool call denied by policy"}, IsError: true}
				} else {
					output = l.executeTool(ctx, currentAgent, call, chunks, ctxt.SessionID)
				}
				executions = append(executions, Execution{Call: call, Output: output, Started: start, Finished: time.Now()})
				ctxt.Append(ToolCallOutput{CallID: call.CallID, Payload: output.Payload, IsError: output.IsError})
			}
			continue
		}

		for _, g := range currentAgent.Guardrails {
			if err := g.Check(ctx, text); err != nil {
				return &RunResult{
					FinalText:      text,
					TerminalReason: TerminalGuardrailFailed,
					Executions:     executions,
					HandoffsTaken:  handoffsTaken,
					TurnsUsed:      turnIndex,
					Usage:          usage,
				}
			}
		}

		if currentAgent.ParseStructuredOutput != nil {
			parsed, err := currentAgent.ParseStructuredOutput(text)
			if err != nil {
				return &RunResult{
					FinalText:      text,
					TerminalReason: TerminalOutputParseError,
					Executions:     executions,
					HandoffsTaken:  handoffsTaken,
					TurnsUsed:      turnIndex,
					Usage:          usage,
				}
			}
			return &RunResult{
				FinalText:      text,
				FinalParsed:    parsed,
				TerminalReason: TerminalCompleted,
				Executions:     executions,
				HandoffsTaken:  handoffsTaken,
				TurnsUsed:      turnIndex,
				Usage:          usage,
			}
		}

		return &RunResult{
			FinalText:      text,
			TerminalReason: TerminalCompleted,
			Executions:     executions,
			HandoffsTaken:  handoffsTaken,
			TurnsUsed:      turnIndex,
			Usage:          usage,
		}
	}
}

// executeTool runs a single tool call (§4.1.1) inside its own child
// span, publishing a ResponseStarted/ResponseCompleted|ResponseFailed
// pair to agent.Telemetry around it.
func (l *AgenticLoop) executeTool(ctx context.Context, agent *Agent, call ToolCall, chunks chan<- *ResponseChunk, sessionID string) ToolOutput {
	toolCtx, span := observability.StartChildSpan(ctx)
	l.publishTelemetry(agent, sessionID, observability.EventResponseStarted, span, map[string]any{"tool": call.ToolName})

	output := l.runTool(toolCtx, agent, call, chunks)

	kind := observability.EventResponseCompleted
	if output.IsError {
		kind = observability.EventResponseFailed
	}
	l.publishTelemetry(agent, sessionID, kind, span, map[string]any{"tool": call.ToolName, "is_error": output.IsError})

	return output
}

// runTool does the actual dispatch: missing tools and deserialization
// errors fail forward as error ToolCallOutputs rather than aborting the
// turn.
func (l *AgenticLoop) runTool(ctx context.Context, agent *Agent, call ToolCall, chunks chan<- *ResponseChunk) ToolOutput {
	l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventStarted})

	tool, ok := agent.Tools.Get(call.ToolName)
	if !ok {
		l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventFailed})
		return ToolOutput{Payload: TextPayload{Text: "Unknown tool: " + call.ToolName}, IsError: true}
	}

	if tool.Strict() {
		if schema := tool.Schema(); len(schema) > 0 {
			if err := validateToolArguments(schema, call.RawArgumentsJSON); err != nil {
				l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventFailed})
				return ToolOutput{Payload: TextPayload{Text: "invalid arguments: " + err.Error()}, IsError: true}
			}
		} else {
			var probe json.RawMessage
			if err := json.Unmarshal(call.RawArgumentsJSON, &probe); err != nil {
				l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventFailed})
				return ToolOutput{Payload: TextPayload{Text: "invalid arguments: " + err.Error()}, IsError: true}
			}
		}
	}

	result, err := agent.Tools.Execute(ctx, call.ToolName, call.RawArgumentsJSON)
	if err != nil {
		l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: ToolEventFailed})
		return ToolOutput{Payload: TextPayload{Text: err.Error()}, IsError: true}
	}

	stage := ToolEventSucceeded
	if result.IsError {
		stage = ToolEventFailed
	}
	l.emitToolEvent(chunks, &ToolEvent{ToolCallID: call.CallID, ToolName: call.ToolName, Stage: stage})

	return ToolOutput{Payload: TextPayload{Text: result.Content}, IsError: result.IsError}
}

func (l *AgenticLoop) isDenied(ctx context.Context, agent *Agent, call ToolCall) bool {
	if l.config.ApprovalChecker == nil {
		return false
	}
	decision, _ := l.config.ApprovalChecker.Check(ctx, agent.Name, call)
	return decision == ApprovalDenied
}

func (l *AgenticLoop) emitToolEvent(chunks chan<- *ResponseChunk, event *ToolEvent) {
	if l.config.DisableToolEvents || event == nil {
		return
	}
	chunks <- &ResponseChunk{ToolEvent: event}
}

// firstUnresolvedApproval returns the first tool call whose tool
// requires confirmation, honoring an ApprovalChecker when configured.
func (l *AgenticLoop) firstUnresolvedApproval(agent *Agent, calls []ToolCall) (bool, ToolCall) {
	for _, call := range calls {
		tool, ok := agent.Tools.Get(call.ToolName)
		if !ok {
			continue
		}
		if !tool.NeedsConfirmation() {
			continue
		}
		if l.config.ApprovalChecker == nil {
			return true, call
		}
		decision, _ := l.config.ApprovalChecker.Check(context.Background(), agent.Name, call)
		if decision == ApprovalPending {
			return true, call
		}
	}
	return false, ToolCall{}
}

func reduceWindow(ctx context.Context, agent *Agent, items []InputItem) ([]InputItem, error) {
	if agent.Window == nil {
		return items, nil
	}
	return agent.Window.Reduce(ctx, items, defaultWindowBudget(agent), agent.Counter)
}

func defaultWindowBudget(agent *Agent) int {
	if agent.MaxTokens > 0 {
		return agent.MaxTokens
	}
	return 128_000
}

func buildCompletionRequest(agent *Agent, view []InputItem) *CompletionRequest {
	req := &CompletionRequest{
		Model:     agent.Model,
		System:    agent.Instructions,
		MaxTokens: agent.MaxTokens,
	}
	if agent.Tools != nil {
		req.Tools = agent.Tools.Snapshot()
	}
	if agent.StructuredOutputSchema != nil {
		req.StructuredOutputSchema = agent.StructuredOutputSchema
	}
	for _, item := range view {
		req.Messages = append(req.Messages, toCompletionMessage(item))
	}
	return req
}

func toCompletionMessage(item InputItem) CompletionMessage {
	switch v := item.(type) {
	case Message:
		msg := CompletionMessage{Role: string(v.Role)}
		for _, part := range v.Content {
			switch p := part.(type) {
			case TextPart:
				msg.Content += p.Text
			case ImagePart:
				msg.Images = append(msg.Images, p)
			}
		}
		return msg
	case ToolCallOutput:
		content := ""
		if tp, ok := v.Payload.(TextPayload); ok {
			content = tp.Text
		}
		return CompletionMessage{
			Role: "tool",
			ToolResults: []ToolResult{{
				Content: content,
				IsError: v.IsError,
			}},
		}
	default:
		return CompletionMessage{}
	}
}

func latestUserText(ctxt *Context) (string, bool) {
	for i := len(ctxt.Items) - 1; i >= 0; i-- {
		msg, ok := ctxt.Items[i].(Message)
		if !ok || msg.Role != RoleUser {
			continue
		}
		for _, part := range msg.Content {
			if tp, ok := part.(TextPart); ok {
				return tp.Text, true
			}
		}
	}
	return "", false
}
