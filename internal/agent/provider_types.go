package agent

import (
	"context"
	"encoding/json"
)

// LLMProvider is the Responder: implementations handle the specifics of
// communicating with a concrete LLM API (Anthropic, OpenAI, Bedrock,
// Gemini) while presenting a unified streaming interface to the loop.
//
// Implementations must be safe for concurrent use; multiple goroutines
// may call Complete simultaneously for different requests.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request:
// the conversation history (already reduced by a WindowStrategy), the
// merged system prompt, the available tool schemas, and generation
// parameters.
type CompletionRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`

	Messages []CompletionMessage `json:"messages"`
	Tools    []Tool               `json:"tools,omitempty"`

	MaxTokens int `json:"max_tokens,omitempty"`

	EnableThinking       bool `json:"enable_thinking,omitempty"`
	ThinkingBudgetTokens int  `json:"thinking_budget_tokens,omitempty"`

	// StructuredOutputSchema, when non-nil, asks the Responder to produce
	// JSON matching this schema as its final text.
	StructuredOutputSchema json.RawMessage `json:"structured_output_schema,omitempty"`

	// TraceID correlates this call's telemetry span with the owning
	// interaction's root span.
	TraceID string `json:"trace_id,omitempty"`
}

// CompletionMessage represents a single message in a conversation sent to
// a Responder. Role values: "developer", "user", "assistant", "tool".
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`

	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Images      []ImagePart  `json:"images,omitempty"`
}

// CompletionChunk represents a single chunk in a streaming LLM response.
type CompletionChunk struct {
	Text string `json:"text,omitempty"`

	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Handoff, when set, names the target agent the LLM asked to delegate to.
	Handoff string `json:"handoff,omitempty"`

	Done bool  `json:"done,omitempty"`
	Error error `json:"-"`

	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool is an executable agent tool. Names inside one ToolStore are
// unique; duplicate registration fails loudly (see ToolRegistry.Register).
type Tool interface {
	// Name returns the tool name for LLM function calling. Must be a
	// valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the
	// tool does, helping the LLM decide when to use it.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters.
	Schema() json.RawMessage

	// Strict reports whether rawArgumentsJson must deserialize cleanly
	// against Schema before Execute is called.
	Strict() bool

	// NeedsConfirmation reports whether a call to this tool must pause
	// the loop for caller approval before it is invoked.
	NeedsConfirmation() bool

	// Execute runs the tool with the given JSON parameters, which match
	// the schema returned by Schema.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
type ToolResult struct {
	Content   string     `json:"content"`
	IsError   bool       `json:"is_error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Artifact represents a file or media produced by a tool execution.
type Artifact struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	Filename string `json:"filename,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ToolEventStage marks where in its lifecycle a streamed ToolEvent sits.
type ToolEventStage string

const (
	ToolEventRequested        ToolEventStage = "requested"
	ToolEventStarted          ToolEventStage = "started"
	ToolEventSucceeded        ToolEventStage = "succeeded"
	ToolEventFailed           ToolEventStage = "failed"
	ToolEventDenied           ToolEventStage = "denied"
	ToolEventApprovalRequired ToolEventStage = "approval_required"
)

// ToolEvent is a streaming notification of one tool call's progress,
// delivered alongside text chunks on a Run's ResponseChunk channel.
type ToolEvent struct {
	ToolCallID   string
	ToolName     string
	Stage        ToolEventStage
	PolicyReason string
}

// ResponseChunk is a streaming chunk from a Run. Consumers should check
// each field and handle accordingly; exactly one of Text/ToolEvent/Error
// is typically meaningful on any given chunk, with Done marking the end.
type ResponseChunk struct {
	Text          string `json:"text,omitempty"`
	Thinking      string `json:"thinking,omitempty"`
	ThinkingStart bool   `json:"thinking_start,omitempty"`
	ThinkingEnd   bool   `json:"thinking_end,omitempty"`

	ToolEvent *ToolEvent `json:"tool_event,omitempty"`

	Done  bool  `json:"done,omitempty"`
	Error error `json:"-"`

	Artifacts []Artifact `json:"artifacts,omitempty"`
}
