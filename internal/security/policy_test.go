package security

import (
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestPolicyFor_Presets(t *testing.T) {
	tests := []struct {
		level    models.SafetyLevel
		calls    int
		execTime time.Duration
		memoryMB int
		approval bool
	}{
		{models.SafetyLow, 10, 30 * time.Second, 100, false},
		{models.SafetyMedium, 5, 15 * time.Second, 50, false},
		{models.SafetyHigh, 3, 10 * time.Second, 25, true},
		{models.SafetyMaximum, 1, 5 * time.Second, 10, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			p := PolicyFor(tt.level)
			if p.MaxToolCalls != tt.calls {
				t.Errorf("MaxToolCalls = %d, want %d", p.MaxToolCalls, tt.calls)
			}
			if p.MaxExecutionTime != tt.execTime {
				t.Errorf("MaxExecutionTime = %v, want %v", p.MaxExecutionTime, tt.execTime)
			}
			if p.MaxMemoryMB != tt.memoryMB {
				t.Errorf("MaxMemoryMB = %d, want %d", p.MaxMemoryMB, tt.memoryMB)
			}
			if p.RequireApproval != tt.approval {
				t.Errorf("RequireApproval = %v, want %v", p.RequireApproval, tt.approval)
			}
			if !p.ContentFiltering || !p.ResourceMonitor || !p.AuditLogging {
				t.Error("filtering, monitoring, and audit should be on for every preset")
			}
		})
	}
}

func TestPolicyFor_UnknownLevelFallsBackToMedium(t *testing.T) {
	p := PolicyFor(models.SafetyLevel("bogus"))
	if p.Level != models.SafetyMedium {
		t.Errorf("Level = %s, want medium", p.Level)
	}
}

func TestPolicy_CategoryAllowed(t *testing.T) {
	tests := []struct {
		name     string
		level    models.SafetyLevel
		category models.ToolCategory
		want     bool
	}{
		{"low allows execution", models.SafetyLow, models.CategoryExecution, true},
		{"medium allows everything", models.SafetyMedium, models.CategoryIntegration, true},
		{"high blocks execution", models.SafetyHigh, models.CategoryExecution, false},
		{"high allows search", models.SafetyHigh, models.CategorySearch, true},
		{"maximum blocks integration", models.SafetyMaximum, models.CategoryIntegration, false},
		{"maximum allows utility", models.SafetyMaximum, models.CategoryUtility, true},
		{"maximum blocks core via allow list", models.SafetyMaximum, models.CategoryCore, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PolicyFor(tt.level)
			if got := p.CategoryAllowed(tt.category); got != tt.want {
				t.Errorf("CategoryAllowed(%s) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

func TestPolicy_BlockedListWinsOverAllowed(t *testing.T) {
	p := Policy{
		AllowedCategories: []string{"search"},
		BlockedCategories: []string{"search"},
	}
	if p.CategoryAllowed(models.CategorySearch) {
		t.Error("blocked list should take precedence over allowed list")
	}
}
