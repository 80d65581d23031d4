// Package security implements the gate wrapped around every tool call:
// rate limiting, content filtering, resource accounting, and audit logging
// under per-policy budgets.
package security

import (
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Policy fixes the budgets and toggles applied to a conversation. Presets
// exist for each safety level; callers may supply a custom policy instead.
type Policy struct {
	Level             models.SafetyLevel `yaml:"level"`
	MaxToolCalls      int                `yaml:"max_tool_calls"`
	MaxExecutionTime  time.Duration      `yaml:"max_execution_time"`
	MaxMemoryMB       int                `yaml:"max_memory_mb"`
	AllowedCategories []string           `yaml:"allowed_categories,omitempty"`
	BlockedCategories []string           `yaml:"blocked_categories,omitempty"`
	BlockedDomains    []string           `yaml:"blocked_domains,omitempty"`
	RequireApproval   bool               `yaml:"require_approval"`
	ContentFiltering  bool               `yaml:"content_filtering"`
	ResourceMonitor   bool               `yaml:"resource_monitoring"`
	AuditLogging      bool               `yaml:"audit_logging"`
}

// presets are initialised once at process start and treated as read-only.
var presets = map[models.SafetyLevel]Policy{
	models.SafetyLow: {
		Level:            models.SafetyLow,
		MaxToolCalls:     10,
		MaxExecutionTime: 30 * time.Second,
		MaxMemoryMB:      100,
		RequireApproval:  false,
		ContentFiltering: true,
		ResourceMonitor:  true,
		AuditLogging:     true,
	},
	models.SafetyMedium: {
		Level:            models.SafetyMedium,
		MaxToolCalls:     5,
		MaxExecutionTime: 15 * time.Second,
		MaxMemoryMB:      50,
		RequireApproval:  false,
		ContentFiltering: true,
		ResourceMonitor:  true,
		AuditLogging:     true,
	},
	models.SafetyHigh: {
		Level:             models.SafetyHigh,
		MaxToolCalls:      3,
		MaxExecutionTime:  10 * time.Second,
		MaxMemoryMB:       25,
		BlockedCategories: []string{"execution"},
		RequireApproval:   true,
		ContentFiltering:  true,
		ResourceMonitor:   true,
		AuditLogging:      true,
	},
	models.SafetyMaximum: {
		Level:             models.SafetyMaximum,
		MaxToolCalls:      1,
		MaxExecutionTime:  5 * time.Second,
		MaxMemoryMB:       10,
		AllowedCategories: []string{"utility", "search"},
		BlockedCategories: []string{"execution", "integration"},
		RequireApproval:   true,
		ContentFiltering:  true,
		ResourceMonitor:   true,
		AuditLogging:      true,
	},
}

// PolicyFor returns the preset for a safety level. Unknown levels fall back
// to medium.
func PolicyFor(level models.SafetyLevel) Policy {
	if p, ok := presets[level]; ok {
		return p
	}
	return presets[models.SafetyMedium]
}

// CategoryAllowed reports whether a tool category passes the policy's
// allowed/blocked lists.
func (p Policy) CategoryAllowed(category models.ToolCategory) bool {
	for _, blocked := range p.BlockedCategories {
		if string(category) == blocked {
			return false
		}
	}
	if len(p.AllowedCategories) == 0 {
		return true
	}
	for _, allowed := range p.AllowedCategories {
		if string(category) == allowed {
			return true
		}
	}
	return false
}
