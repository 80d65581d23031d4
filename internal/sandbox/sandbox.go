// Package sandbox runs opaque code snippets in interpreter-backed
// environments with memory and wall-clock caps, captured logs, and
// cooperative cancellation.
package sandbox

import (
	"time"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// Kind selects the isolation level of an environment.
type Kind string

const (
	// KindDirect runs in the calling task with intercepted standard streams.
	KindDirect Kind = "direct"
	// KindWorker runs in an isolated task with a scripted context.
	KindWorker Kind = "worker"
	// KindSandboxed is a worker with restricted built-ins.
	KindSandboxed Kind = "sandboxed"
	// KindIsolated is a worker with minimal built-ins, no timers, and no
	// network access.
	KindIsolated Kind = "isolated"
)

// Kinds returns every environment kind.
func Kinds() []Kind {
	return []Kind{KindDirect, KindWorker, KindSandboxed, KindIsolated}
}

func validKind(k Kind) bool {
	switch k {
	case KindDirect, KindWorker, KindSandboxed, KindIsolated:
		return true
	}
	return false
}

// Limits caps the resources one environment grants its executions.
type Limits struct {
	MaxMemoryMB             int  `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxExecutionTimeMs      int  `json:"max_execution_time_ms" yaml:"max_execution_time_ms"`
	MaxConcurrentExecutions int  `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	AllowNetwork            bool `json:"allow_network" yaml:"allow_network"`
	AllowFileSystem         bool `json:"allow_file_system" yaml:"allow_file_system"`
}

// DefaultLimits returns the default environment limits.
func DefaultLimits() Limits {
	return Limits{
		MaxMemoryMB:             64,
		MaxExecutionTimeMs:      30000,
		MaxConcurrentExecutions: 5,
	}
}

// withDefaults fills zero fields from the defaults.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxMemoryMB <= 0 {
		l.MaxMemoryMB = d.MaxMemoryMB
	}
	if l.MaxExecutionTimeMs <= 0 {
		l.MaxExecutionTimeMs = d.MaxExecutionTimeMs
	}
	if l.MaxConcurrentExecutions <= 0 {
		l.MaxConcurrentExecutions = d.MaxConcurrentExecutions
	}
	return l
}

// LogLevel classifies captured log entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
	LogDebug LogLevel = "debug"
)

// LogEntry is one captured line of execution output, in emission order.
type LogEntry struct {
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionStatus tracks an execution through its lifecycle.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Result is the outcome of one execution.
type Result struct {
	Success   bool           `json:"success"`
	Value     any            `json:"value,omitempty"`
	Error     *errcode.Error `json:"error,omitempty"`
	Logs      []LogEntry     `json:"logs,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// Execution is the observable state of one submitted snippet.
type Execution struct {
	ID         string          `json:"id"`
	EnvID      string          `json:"env_id"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Result     *Result         `json:"result,omitempty"`
}
