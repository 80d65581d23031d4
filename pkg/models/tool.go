// Package models defines the shared data model for the conduit runtime:
// tool definitions, conversations, messages, execution plans, streaming
// events, and security events.
package models

import (
	"context"
	"encoding/json"
	"time"
)

// ToolCategory groups tools by broad purpose for filtering and policy checks.
type ToolCategory string

const (
	CategoryCore        ToolCategory = "core"
	CategoryIntegration ToolCategory = "integration"
	CategoryExecution   ToolCategory = "execution"
	CategoryData        ToolCategory = "data"
	CategorySearch      ToolCategory = "search"
	CategoryUtility     ToolCategory = "utility"
)

// Categories lists every valid tool category.
func Categories() []ToolCategory {
	return []ToolCategory{
		CategoryCore, CategoryIntegration, CategoryExecution,
		CategoryData, CategorySearch, CategoryUtility,
	}
}

// ToolKind is the tagged-union discriminator for tool dispatch. The runtime
// branches on Kind instead of probing for optional fields.
type ToolKind string

const (
	KindFunction    ToolKind = "function"
	KindAPI         ToolKind = "api"
	KindKnowledge   ToolKind = "knowledge"
	KindAI          ToolKind = "ai"
	KindWebSearch   ToolKind = "web_search"
	KindJSExecution ToolKind = "js_execution"
	KindPyExecution ToolKind = "py_execution"
	KindMCPServer   ToolKind = "mcp_server"
	KindFileSystem  ToolKind = "file_system"
	KindDatabase    ToolKind = "database"
	KindWorkflow    ToolKind = "workflow"
)

// Kinds lists every valid tool kind.
func Kinds() []ToolKind {
	return []ToolKind{
		KindFunction, KindAPI, KindKnowledge, KindAI, KindWebSearch,
		KindJSExecution, KindPyExecution, KindMCPServer, KindFileSystem,
		KindDatabase, KindWorkflow,
	}
}

// ToolPermissions declares the capabilities a tool needs at execution time.
type ToolPermissions struct {
	Network      bool `json:"network"`
	FileSystem   bool `json:"file_system"`
	RequiresAuth bool `json:"requires_auth"`
}

// ResourceLimits caps a single execution. Zero fields fall back to the
// sandbox defaults (64 MB, 30s, 5 concurrent).
type ResourceLimits struct {
	MaxMemoryMB             int  `json:"max_memory_mb,omitempty"`
	MaxExecutionTimeMs      int  `json:"max_execution_time_ms,omitempty"`
	MaxConcurrentExecutions int  `json:"max_concurrent_executions,omitempty"`
	AllowNetwork            bool `json:"allow_network,omitempty"`
	AllowFileSystem         bool `json:"allow_file_system,omitempty"`
}

// ExecutionSpec describes how a tool's handler is run.
type ExecutionSpec struct {
	// Environment selects the sandbox kind ("direct", "worker", "sandboxed",
	// "isolated"). Empty means the handler is invoked in-process without a
	// sandbox.
	Environment string `json:"environment,omitempty"`

	// TimeoutMs is the wall-clock budget for a single call.
	TimeoutMs int `json:"timeout_ms"`

	// ResourceLimits optionally override the sandbox defaults.
	ResourceLimits *ResourceLimits `json:"resource_limits,omitempty"`
}

// Handler executes a tool call. Input is a parameter map matching the tool's
// input schema. Output is either a raw value (wrapped by the orchestrator) or
// a structured map carrying success/result/error/metadata keys; the
// orchestrator normalises both shapes into a ToolExecutionResult.
//
// Handlers must honour ctx cancellation.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// ToolDefinition is the immutable registration record for a tool. Once
// registered it is never mutated; unregister is the only removal path.
type ToolDefinition struct {
	// ID uniquely identifies the tool. Must match [A-Za-z0-9_-]+.
	ID string `json:"id"`

	// Name is the human-readable tool name.
	Name string `json:"name"`

	// Description tells the planner what the tool does.
	Description string `json:"description"`

	// Version is a semver string (MAJOR.MINOR.PATCH).
	Version string `json:"version"`

	// Category groups the tool for policy filtering.
	Category ToolCategory `json:"category"`

	// Kind is the dispatch discriminator.
	Kind ToolKind `json:"type"`

	// InputSchema and OutputSchema are JSON-Schema subset documents
	// describing the handler contract.
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`

	// Permissions declares required capabilities.
	Permissions ToolPermissions `json:"permissions"`

	// Execution describes timeout, environment, and resource caps.
	Execution ExecutionSpec `json:"execution"`

	// Tags index the tool for search and lookup.
	Tags []string `json:"tags,omitempty"`

	// Deprecated and Experimental flag the tool for list filtering.
	Deprecated   bool `json:"deprecated,omitempty"`
	Experimental bool `json:"experimental,omitempty"`

	// Handler is the executable body. Not serialised.
	Handler Handler `json:"-"`
}

// ToolExecutionResult is the canonical normalised output of one tool call.
type ToolExecutionResult struct {
	Success        bool           `json:"success"`
	Data           any            `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
	ErrorCode      string         `json:"error_code,omitempty"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NextTurn inspects the result payload for an explicit follow-up directive
// ("next_turn": "assistant"). The orchestrator uses it to decide whether to
// re-plan with the updated context.
func (r *ToolExecutionResult) NextTurn() string {
	data, ok := r.Data.(map[string]any)
	if !ok {
		return ""
	}
	next, _ := data["next_turn"].(string)
	return next
}
