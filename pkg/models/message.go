// Package models defines the data types shared across the runtime's
// outer layers: the batching pipeline's inbound message shape and the
// telemetry event envelope. The conversational data model (InputItem,
// ContentPart, Tool, ToolCall, AgentRunState, ToolPlan) lives in
// internal/agent and internal/planexecutor, since nothing outside
// those packages needs it.
package models

import "time"

// Message is one inbound message accepted by the batching pipeline.
// Two messages with equal MessageID are duplicates; the dedupe store
// silently drops the second one before it reaches a UserBuffer.
type Message struct {
	UserID    string
	MessageID string
	Content   string
	Timestamp time.Time
}
