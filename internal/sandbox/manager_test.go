package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

const addSnippet = `
func Run(input map[string]interface{}) (interface{}, error) {
	a := input["a"].(int)
	b := input["b"].(int)
	return a + b, nil
}
`

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{})
}

func TestManager_ExecuteSuccess(t *testing.T) {
	m := newTestManager(t)
	envID, err := m.CreateEnvironment(KindSandboxed, Limits{})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}

	result, err := m.Execute(context.Background(), envID, addSnippet, map[string]any{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Value != 5 {
		t.Errorf("Value = %v, want 5", result.Value)
	}
	if result.Duration < 0 {
		t.Errorf("Duration = %v", result.Duration)
	}
}

func TestManager_ExecuteCapturesLogs(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindSandboxed, Limits{})

	code := `
import "fmt"

func Run(input map[string]interface{}) (interface{}, error) {
	fmt.Println("starting")
	fmt.Println("warn: low confidence")
	return "done", nil
}
`
	result, err := m.Execute(context.Background(), envID, code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Logs) != 2 {
		t.Fatalf("Logs = %+v, want 2 entries", result.Logs)
	}
	if result.Logs[0].Level != LogInfo || result.Logs[0].Message != "starting" {
		t.Errorf("first log = %+v", result.Logs[0])
	}
	if result.Logs[1].Level != LogWarn || result.Logs[1].Message != "low confidence" {
		t.Errorf("second log = %+v", result.Logs[1])
	}
	if result.Logs[1].Timestamp.Before(result.Logs[0].Timestamp) {
		t.Error("log order not preserved")
	}
}

func TestManager_ExecuteSnippetError(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindSandboxed, Limits{})

	code := `
import "errors"

func Run(input map[string]interface{}) (interface{}, error) {
	return nil, errors.New("boom")
}
`
	result, err := m.Execute(context.Background(), envID, code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error == nil || result.Error.Code != errcode.ExecutionError {
		t.Errorf("Error = %+v, want EXECUTION_ERROR", result.Error)
	}

	// The environment stays usable after a failed execution.
	again, err := m.Execute(context.Background(), envID, addSnippet, map[string]any{"a": 1, "b": 1})
	if err != nil || !again.Success {
		t.Errorf("environment unusable after failure: %v %+v", err, again)
	}
}

func TestManager_ExecuteTimeout(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindSandboxed, Limits{MaxExecutionTimeMs: 100})

	code := `
import "time"

func Run(input map[string]interface{}) (interface{}, error) {
	time.Sleep(time.Hour)
	return nil, nil
}
`
	start := time.Now()
	result, err := m.Execute(context.Background(), envID, code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Error == nil || result.Error.Code != errcode.ExecutionTimeout {
		t.Fatalf("result = %+v, want EXECUTION_TIMEOUT", result)
	}
	// The deadline is enforced on the wall clock, not the snippet's
	// willingness to stop.
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute took %v, deadline not enforced", elapsed)
	}
}

func TestManager_MemoryLimitCancels(t *testing.T) {
	m := newTestManager(t)
	m.pollEvery = 10 * time.Millisecond
	started := time.Now()
	m.memUsedMB = func() float64 {
		if time.Since(started) > 50*time.Millisecond {
			return 64
		}
		return 0
	}

	envID, _ := m.CreateEnvironment(KindSandboxed, Limits{MaxMemoryMB: 8, MaxExecutionTimeMs: 5000})

	code := `
import "time"

func Run(input map[string]interface{}) (interface{}, error) {
	time.Sleep(time.Hour)
	return nil, nil
}
`
	result, err := m.Execute(context.Background(), envID, code, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || result.Error == nil || result.Error.Code != errcode.MemoryLimitExceeded {
		t.Fatalf("result = %+v, want MEMORY_LIMIT_EXCEEDED", result)
	}
}

func TestManager_ForbiddenImport(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindIsolated, Limits{})

	code := `
import "net/http"

func Run(input map[string]interface{}) (interface{}, error) {
	_ = http.DefaultClient
	return nil, nil
}
`
	_, err := m.Execute(context.Background(), envID, code, nil)
	if !errcode.HasCode(err, errcode.PolicyViolation) {
		t.Errorf("err = %v, want POLICY_VIOLATION", err)
	}
}

func TestManager_IsolatedBlocksTimers(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindIsolated, Limits{})

	code := `
import "time"

func Run(input map[string]interface{}) (interface{}, error) {
	return time.Now(), nil
}
`
	if _, err := m.Execute(context.Background(), envID, code, nil); !errcode.HasCode(err, errcode.PolicyViolation) {
		t.Errorf("err = %v, want POLICY_VIOLATION", err)
	}

	// The same import is fine one level up.
	envID, _ = m.CreateEnvironment(KindSandboxed, Limits{})
	result, err := m.Execute(context.Background(), envID, code, nil)
	if err != nil || !result.Success {
		t.Errorf("sandboxed kind should allow time: %v %+v", err, result)
	}
}

func TestManager_PolicyChecksRunFirst(t *testing.T) {
	m := NewManager(ManagerConfig{
		Policy: SecurityPolicy{MaxCodeLength: 10},
	})
	envID, _ := m.CreateEnvironment(KindDirect, Limits{})

	_, err := m.Execute(context.Background(), envID, addSnippet, nil)
	if !errcode.HasCode(err, errcode.PolicyViolation) {
		t.Errorf("err = %v, want POLICY_VIOLATION before evaluation", err)
	}
	if len(m.ListExecutions()) != 0 {
		t.Error("rejected snippet should not create an execution record")
	}
}

func TestManager_TerminateAndStatus(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindSandboxed, Limits{MaxExecutionTimeMs: 10000})

	code := `
import "time"

func Run(input map[string]interface{}) (interface{}, error) {
	time.Sleep(time.Hour)
	return nil, nil
}
`
	done := make(chan *Result, 1)
	go func() {
		result, _ := m.Execute(context.Background(), envID, code, nil)
		done <- result
	}()

	// Wait for the execution record to appear, then terminate it.
	var execID string
	deadline := time.After(2 * time.Second)
	for execID == "" {
		select {
		case <-deadline:
			t.Fatal("execution never started")
		default:
		}
		if execs := m.ListExecutions(); len(execs) > 0 {
			execID = execs[0].ID
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := m.Terminate(execID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	// Idempotent.
	if err := m.Terminate(execID); err != nil {
		t.Errorf("second Terminate: %v", err)
	}

	result := <-done
	if result.Success || result.Error == nil || result.Error.Code != errcode.Cancelled {
		t.Fatalf("result = %+v, want CANCELLED", result)
	}

	status, err := m.Status(execID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != StatusCancelled || status.FinishedAt.IsZero() {
		t.Errorf("status = %+v", status)
	}

	if _, err := m.Status("nope"); !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("unknown execution: %v", err)
	}
}

func TestManager_DestroyEnvironment(t *testing.T) {
	m := newTestManager(t)
	envID, _ := m.CreateEnvironment(KindWorker, Limits{})

	if err := m.DestroyEnvironment(envID); err != nil {
		t.Fatalf("DestroyEnvironment: %v", err)
	}
	if _, err := m.Execute(context.Background(), envID, addSnippet, nil); !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("Execute after destroy: %v, want NOT_FOUND", err)
	}
	if err := m.DestroyEnvironment(envID); !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("second destroy: %v, want NOT_FOUND", err)
	}
}

func TestManager_InvalidKind(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateEnvironment(Kind("bogus"), Limits{}); !errcode.HasCode(err, errcode.ValidationFailed) {
		t.Errorf("err = %v, want VALIDATION_FAILED", err)
	}
}

func TestValidateImports(t *testing.T) {
	allowed := importsFor(KindSandboxed, Limits{})
	tests := []struct {
		name string
		code string
		ok   bool
	}{
		{"no imports", "func Run() {}", true},
		{"allowed single", `import "strings"`, true},
		{"allowed block", "import (\n\t\"strings\"\n\t\"strconv\"\n)", true},
		{"aliased", `import str "strings"`, true},
		{"forbidden os", `import "os"`, false},
		{"forbidden exec", `import "os/exec"`, false},
		{"forbidden net", `import "net"`, false},
		{"mixed block", "import (\n\t\"strings\"\n\t\"os\"\n)", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateImports(tt.code, allowed, SecurityPolicy{})
			if (err == nil) != tt.ok {
				t.Errorf("err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t)
	envID, err := m.CreateEnvironment(KindSandboxed, Limits{})
	if err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}
	if _, err := m.CreateEnvironment(KindDirect, Limits{}); err != nil {
		t.Fatalf("CreateEnvironment: %v", err)
	}

	if _, err := m.Execute(context.Background(), envID, addSnippet, map[string]any{"a": 1, "b": 2}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stats := m.Stats()
	if stats.Environments != 2 {
		t.Errorf("Environments = %d, want 2", stats.Environments)
	}
	if stats.ActiveExecutions != 0 {
		t.Errorf("ActiveExecutions = %d, want 0", stats.ActiveExecutions)
	}
	if stats.ByStatus[StatusCompleted] != 1 {
		t.Errorf("ByStatus = %v, want 1 completed", stats.ByStatus)
	}
}
