package models

import (
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCallStatus tracks the lifecycle of a single tool call. Transitions
// form a DAG: pending → running → {ok, failed, cancelled}.
type ToolCallStatus string

const (
	CallPending   ToolCallStatus = "pending"
	CallRunning   ToolCallStatus = "running"
	CallOK        ToolCallStatus = "ok"
	CallFailed    ToolCallStatus = "failed"
	CallCancelled ToolCallStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ToolCallStatus) Terminal() bool {
	switch s {
	case CallOK, CallFailed, CallCancelled:
		return true
	default:
		return false
	}
}

// ToolCall records one executed (or attempted) tool invocation attached to
// an assistant message.
type ToolCall struct {
	ID         string               `json:"id"`
	ToolID     string               `json:"tool_id"`
	Parameters map[string]any       `json:"parameters,omitempty"`
	Result     *ToolExecutionResult `json:"result,omitempty"`
	Error      *CallError           `json:"error,omitempty"`
	Status     ToolCallStatus       `json:"status"`
	StartedAt  time.Time            `json:"started_at,omitempty"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
}

// CallError carries the typed failure of a tool call.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}
