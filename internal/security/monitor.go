package security

import (
	"fmt"
	"sync"
	"time"
)

// Usage accumulates per-session resource counters.
type Usage struct {
	MemoryMB    float64 `json:"memory_mb"`
	CPUPct      float64 `json:"cpu_pct"`
	ExecMs      int64   `json:"exec_ms"`
	NetRequests int     `json:"net_requests"`
	DiskMB      float64 `json:"disk_mb"`
}

// ResourceCheck reports whether a session is within its policy budget.
type ResourceCheck struct {
	WithinLimits bool     `json:"within_limits"`
	Violations   []string `json:"violations,omitempty"`
	Usage        Usage    `json:"usage"`
}

// ResourceMonitor tracks resource usage per session and checks it against a
// policy budget.
type ResourceMonitor struct {
	mu       sync.Mutex
	sessions map[string]*Usage
}

// NewResourceMonitor creates an empty monitor.
func NewResourceMonitor() *ResourceMonitor {
	return &ResourceMonitor{sessions: make(map[string]*Usage)}
}

// Record accumulates usage deltas for a session.
func (m *ResourceMonitor) Record(sessionID string, delta Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.sessions[sessionID]
	if !ok {
		u = &Usage{}
		m.sessions[sessionID] = u
	}
	if delta.MemoryMB > u.MemoryMB {
		u.MemoryMB = delta.MemoryMB
	}
	if delta.CPUPct > u.CPUPct {
		u.CPUPct = delta.CPUPct
	}
	u.ExecMs += delta.ExecMs
	u.NetRequests += delta.NetRequests
	u.DiskMB += delta.DiskMB
}

// RecordExecution adds one tool execution's wall time.
func (m *ResourceMonitor) RecordExecution(sessionID string, elapsed time.Duration) {
	m.Record(sessionID, Usage{ExecMs: elapsed.Milliseconds()})
}

// Check compares a session's accumulated usage against the policy budget.
func (m *ResourceMonitor) Check(sessionID string, policy Policy) ResourceCheck {
	m.mu.Lock()
	defer m.mu.Unlock()

	check := ResourceCheck{WithinLimits: true}
	u, ok := m.sessions[sessionID]
	if !ok {
		return check
	}
	check.Usage = *u

	if policy.MaxMemoryMB > 0 && u.MemoryMB > float64(policy.MaxMemoryMB) {
		check.Violations = append(check.Violations,
			fmt.Sprintf("memory %.1fMB exceeds limit %dMB", u.MemoryMB, policy.MaxMemoryMB))
	}
	if policy.MaxExecutionTime > 0 && u.ExecMs > policy.MaxExecutionTime.Milliseconds() {
		check.Violations = append(check.Violations,
			fmt.Sprintf("execution time %dms exceeds limit %dms", u.ExecMs, policy.MaxExecutionTime.Milliseconds()))
	}
	check.WithinLimits = len(check.Violations) == 0
	return check
}

// Reset clears a session's counters.
func (m *ResourceMonitor) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}
