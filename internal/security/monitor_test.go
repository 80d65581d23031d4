package security

import (
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestResourceMonitor_AccumulateAndCheck(t *testing.T) {
	m := NewResourceMonitor()
	policy := PolicyFor(models.SafetyMedium) // 50MB, 15s

	m.Record("conv-1", Usage{MemoryMB: 20})
	m.RecordExecution("conv-1", 4*time.Second)
	m.RecordExecution("conv-1", 3*time.Second)

	check := m.Check("conv-1", policy)
	if !check.WithinLimits {
		t.Fatalf("within budget, got violations %v", check.Violations)
	}
	if check.Usage.ExecMs != 7000 {
		t.Errorf("ExecMs = %d, want 7000", check.Usage.ExecMs)
	}

	// Memory is a high-water mark, not a sum.
	m.Record("conv-1", Usage{MemoryMB: 15})
	if got := m.Check("conv-1", policy).Usage.MemoryMB; got != 20 {
		t.Errorf("MemoryMB = %.1f, want 20", got)
	}
}

func TestResourceMonitor_Violations(t *testing.T) {
	m := NewResourceMonitor()
	policy := PolicyFor(models.SafetyMaximum) // 10MB, 5s

	m.Record("conv-1", Usage{MemoryMB: 64})
	m.RecordExecution("conv-1", 6*time.Second)

	check := m.Check("conv-1", policy)
	if check.WithinLimits {
		t.Fatal("expected violations")
	}
	if len(check.Violations) != 2 {
		t.Errorf("violations = %v, want memory and execution time", check.Violations)
	}
}

func TestResourceMonitor_SessionIsolationAndReset(t *testing.T) {
	m := NewResourceMonitor()
	policy := PolicyFor(models.SafetyMaximum)

	m.Record("conv-1", Usage{MemoryMB: 64})
	if !m.Check("conv-2", policy).WithinLimits {
		t.Error("conv-2 should be unaffected by conv-1 usage")
	}

	m.Reset("conv-1")
	if !m.Check("conv-1", policy).WithinLimits {
		t.Error("reset should clear the budget")
	}
}
