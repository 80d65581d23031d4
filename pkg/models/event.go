package models

import (
	"time"
)

// StreamEventType discriminates streaming events delivered during a
// processMessage turn.
type StreamEventType string

const (
	EventThinking   StreamEventType = "thinking"
	EventToolCall   StreamEventType = "tool_call"
	EventToolResult StreamEventType = "tool_result"
	EventText       StreamEventType = "text"
	EventError      StreamEventType = "error"
)

// StreamingEvent is a typed, timestamped event emitted by the orchestrator
// pipeline. Events for a single turn are delivered to the caller's sink in
// emission order; a blocking sink pauses the pipeline but never reorders.
type StreamingEvent struct {
	Type           StreamEventType `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`

	// Content carries thinking/text/error payloads and tool result content.
	Content string `json:"content,omitempty"`

	// ToolName and Parameters are set on tool_call events; ToolName is also
	// set on tool_result events.
	ToolName   string         `json:"tool_name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// Success and Metadata are set on tool_result events.
	Success  bool           `json:"success,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Code carries the error code on error events.
	Code string `json:"code,omitempty"`
}
