package models

import (
	"time"
)

// SecurityEventKind categorises audited security events.
type SecurityEventKind string

const (
	SecurityRateLimit          SecurityEventKind = "rate_limit"
	SecurityContentFilter      SecurityEventKind = "content_filter"
	SecurityResourceLimit      SecurityEventKind = "resource_limit"
	SecurityPolicyViolation    SecurityEventKind = "policy_violation"
	SecurityAccessDenied       SecurityEventKind = "access_denied"
	SecuritySuspiciousActivity SecurityEventKind = "suspicious_activity"
)

// Severity ranks security events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a numeric ordering for severities (low=0 .. critical=3).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// SecurityEvent is one entry of the audit ring buffer.
type SecurityEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Kind           SecurityEventKind `json:"kind"`
	Severity       Severity          `json:"severity"`
	Principal      string            `json:"principal"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Details        map[string]any    `json:"details,omitempty"`
}
