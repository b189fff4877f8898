package agent

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a Message item in a Context.
type Role string

const (
	RoleDeveloper Role = "developer"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// InputItem is a tagged union: a Message or a ToolCallOutput. Items are
// ordered by insertion time inside a Context and the loop never removes
// or rewrites one once appended.
type InputItem interface {
	isInputItem()
}

// Message is a developer, user, assistant, or system turn made up of one
// or more content parts.
type Message struct {
	Role    Role
	Content []ContentPart
}

func (Message) isInputItem() {}

// ToolCallOutput carries the result of one tool invocation back into the
// Context so the next Responder call can see it.
type ToolCallOutput struct {
	CallID  string
	Payload Payload
	IsError bool
}

func (ToolCallOutput) isInputItem() {}

// ContentPart is a tagged union: Text or Image.
type ContentPart interface {
	isContentPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

func (TextPart) isContentPart() {}

// ImageDetail controls how much of an image's resolution the Responder
// is asked to attend to, which in turn affects its token cost.
type ImageDetail string

const (
	ImageDetailAuto ImageDetail = "auto"
	ImageDetailLow  ImageDetail = "low"
	ImageDetailHigh ImageDetail = "high"
)

// ImagePart is either a URL or inline base64-encoded image content.
type ImagePart struct {
	URL    string
	Base64 string
	Detail ImageDetail
}

func (ImagePart) isContentPart() {}

// Payload is a tagged union: Text, Image, or StructuredJson. Both
// ToolOutput and ToolCallOutput carry one.
type Payload interface {
	isPayload()
}

// TextPayload is plain text tool output.
type TextPayload struct {
	Text string
}

func (TextPayload) isPayload() {}

// ImagePayload is image tool output.
type ImagePayload struct {
	URL    string
	Base64 string
}

func (ImagePayload) isPayload() {}

// StructuredPayload is a JSON value produced by a tool.
type StructuredPayload struct {
	JSON json.RawMessage
}

func (StructuredPayload) isPayload() {}

// ToolOutput is what a Tool's Invoke returns.
type ToolOutput struct {
	Payload Payload
	IsError bool
}

// ToolCall is emitted by the LLM when it wants a tool invoked.
type ToolCall struct {
	CallID          string
	ToolName        string
	RawArgumentsJSON json.RawMessage
}

// Context is the caller-owned conversation the loop borrows and mutates
// for the duration of one interaction. The loop never removes or
// rewrites an Item once it has been appended; a WindowStrategy produces
// a transient reduced view per Responder call without mutating this.
type Context struct {
	Items []InputItem

	// State is custom caller state keyed by string; it survives the loop
	// lifetime and may be propagated to sub-agents per explicit config.
	State map[string]any

	// SessionID identifies the interaction for telemetry events published
	// to Agent.Telemetry; it is carried through but never interpreted by
	// the loop itself.
	SessionID string
}

// NewContext returns an empty Context ready to receive a first user Message.
func NewContext() *Context {
	return &Context{State: make(map[string]any)}
}

// Append adds an item to the end of the Context, preserving insertion order.
func (c *Context) Append(item InputItem) {
	c.Items = append(c.Items, item)
}

// Snapshot returns a shallow copy of the current item slice, safe for a
// WindowStrategy to slice and reorder without affecting the Context.
func (c *Context) Snapshot() []InputItem {
	out := make([]InputItem, len(c.Items))
	copy(out, c.Items)
	return out
}

// ApprovalOutcome is the resolution of a pending tool-call confirmation.
type ApprovalOutcome struct {
	Approved bool
	Output   ToolOutput
}

// AgentRunState is a paused-for-approval snapshot of an in-flight
// interaction. It is a plain value with no references to tool instances
// or Responders so that it can be persisted by the caller; on resume,
// the caller supplies the Agent again and the loop looks tools up by
// name from the (current) Agent's store.
type AgentRunState struct {
	ContextItems []InputItem
	LastResponse *CompletionChunk
	Executions   []Execution
	TurnIndex    int
	PendingCall  ToolCall
	SessionID    string
	resumed      bool
}

// Execution records one completed tool invocation within a Run result.
type Execution struct {
	Call     ToolCall
	Output   ToolOutput
	Started  time.Time
	Finished time.Time
}

// TerminalReason explains why AgenticLoop.Run (or Resume) stopped.
type TerminalReason string

const (
	TerminalCompleted         TerminalReason = "Completed"
	TerminalGuardrailFailed   TerminalReason = "GuardrailFailed"
	TerminalOutputParseError  TerminalReason = "OutputParseError"
	TerminalTurnBudgetExceeded TerminalReason = "TurnBudgetExceeded"
	TerminalPausedForApproval TerminalReason = "PausedForApproval"
)

// RunResult is returned by a completed or paused interaction.
type RunResult struct {
	FinalText      string
	FinalParsed    any
	Executions     []Execution
	HandoffsTaken  []string
	TurnsUsed      int
	Usage          Usage
	TerminalReason TerminalReason
	PausedState    *AgentRunState
}

// Usage aggregates token accounting across every Responder call in one Run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
