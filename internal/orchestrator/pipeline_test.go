package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/conduit/internal/audit"
	"github.com/haasonsaas/conduit/internal/ratelimit"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/security"
	"github.com/haasonsaas/conduit/internal/stream"
	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
)

func eventTypes(events []models.StreamingEvent) []models.StreamEventType {
	types := make([]models.StreamEventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func TestProcessMessage_UnknownConversation(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)
	_, err := o.ProcessMessage(context.Background(), "missing", "hello", nil)
	if !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestProcessMessage_PlanOnly(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, webSearchTool())
	id := o.CreateConversation(&models.Preferences{AutoExecute: false})
	sink := stream.NewCollectSink()

	reply, err := o.ProcessMessage(context.Background(), id, "search for golang tutorials", sink)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if !strings.Contains(reply.Content, "Reasoning") {
		t.Errorf("plan summary missing reasoning: %q", reply.Content)
	}
	if !strings.Contains(reply.Content, "web-search") {
		t.Errorf("plan summary missing tool id: %q", reply.Content)
	}
	if len(reply.ToolCalls) != 0 {
		t.Errorf("plan-only turn executed %d calls", len(reply.ToolCalls))
	}

	got := eventTypes(sink.Events())
	want := []models.StreamEventType{models.EventThinking, models.EventThinking, models.EventText}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProcessMessage_ExecutesTool(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, webSearchTool())
	id := o.CreateConversation(nil)
	sink := stream.NewCollectSink()

	reply, err := o.ProcessMessage(context.Background(), id, "search for golang tutorials", sink)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if !strings.HasPrefix(reply.Content, "I've executed 1 tool(s) successfully.") {
		t.Errorf("reply = %q", reply.Content)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.ToolID != "web-search" || call.Status != models.CallOK {
		t.Errorf("call = %s status %s", call.ToolID, call.Status)
	}
	if call.Result == nil || !call.Result.Success {
		t.Error("call result missing or unsuccessful")
	}
	if call.StartedAt.IsZero() || call.FinishedAt.Before(call.StartedAt) {
		t.Error("call timing not recorded")
	}

	got := eventTypes(sink.Events())
	want := []models.StreamEventType{
		models.EventThinking, models.EventThinking,
		models.EventToolCall, models.EventToolResult, models.EventText,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	conv, _ := o.GetConversation(id)
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(conv.Messages))
	}
	if conv.Messages[0].Role != models.RoleUser || conv.Messages[1].Role != models.RoleAssistant {
		t.Error("message roles wrong")
	}
	if len(conv.ActiveTools) != 1 || conv.ActiveTools[0] != "web-search" {
		t.Errorf("active tools = %v", conv.ActiveTools)
	}
}

func chainStepTool(handler models.Handler) *models.ToolDefinition {
	return textTool("chain-step", "Runs the next step of a chained operation on the provided text", handler)
}

func TestProcessMessage_FollowUpStopsAtCeiling(t *testing.T) {
	var invocations int32
	chain := chainStepTool(func(ctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&invocations, 1)
		return map[string]any{"next_turn": "assistant", "note": "more steps remain"}, nil
	})

	// Low safety leaves a call budget of 10, so only the iteration ceiling
	// can stop a tool that always asks for another turn.
	o := newTestOrchestrator(t, nil, nil, chain)
	id := o.CreateConversation(&models.Preferences{AutoExecute: true, SafetyLevel: models.SafetyLow})
	sink := stream.NewCollectSink()

	reply, err := o.ProcessMessage(context.Background(), id, "run the chained operation", sink)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if got := atomic.LoadInt32(&invocations); got != 5 {
		t.Errorf("handler invocations = %d, want 5", got)
	}
	if len(reply.ToolCalls) != 5 {
		t.Fatalf("tool calls = %d, want 5", len(reply.ToolCalls))
	}
	for i, call := range reply.ToolCalls {
		if call.Status != models.CallOK {
			t.Errorf("call %d status = %s, want ok", i, call.Status)
		}
	}
	if !strings.HasPrefix(reply.Content, "I've executed 5 tool(s) successfully.") {
		t.Errorf("reply = %q", reply.Content)
	}

	want := []models.StreamEventType{models.EventThinking}
	for i := 0; i < 5; i++ {
		want = append(want, models.EventThinking, models.EventToolCall, models.EventToolResult)
	}
	want = append(want, models.EventText)
	got := eventTypes(sink.Events())
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProcessMessage_FollowUpRunsOnce(t *testing.T) {
	var invocations int32
	chain := chainStepTool(func(ctx context.Context, params map[string]any) (any, error) {
		if atomic.AddInt32(&invocations, 1) == 1 {
			return map[string]any{"next_turn": "assistant", "note": "one more step"}, nil
		}
		return map[string]any{"note": "finished"}, nil
	})

	o := newTestOrchestrator(t, nil, nil, chain)
	id := o.CreateConversation(nil)
	sink := stream.NewCollectSink()

	reply, err := o.ProcessMessage(context.Background(), id, "run the chained operation", sink)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	// One follow-up planning pass, then the plain result ends the turn.
	if got := atomic.LoadInt32(&invocations); got != 2 {
		t.Errorf("handler invocations = %d, want 2", got)
	}
	if len(reply.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(reply.ToolCalls))
	}

	got := eventTypes(sink.Events())
	want := []models.StreamEventType{
		models.EventThinking, models.EventThinking,
		models.EventToolCall, models.EventToolResult,
		models.EventThinking,
		models.EventToolCall, models.EventToolResult,
		models.EventText,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProcessMessage_MemoryAcrossTurns(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, memoryTool())
	id := o.CreateConversation(nil)
	ctx := context.Background()

	if _, err := o.ProcessMessage(ctx, id, "My name is Alice", nil); err != nil {
		t.Fatalf("store turn: %v", err)
	}

	conv, _ := o.GetConversation(id)
	if conv.Context["name"] != "Alice" {
		t.Fatalf("context[name] = %v, want Alice", conv.Context["name"])
	}

	reply, err := o.ProcessMessage(ctx, id, "What is my name?", nil)
	if err != nil {
		t.Fatalf("recall turn: %v", err)
	}
	if !strings.Contains(reply.Content, "Alice") {
		t.Errorf("recall reply does not mention the stored fact: %q", reply.Content)
	}
}

func TestProcessMessage_RateLimited(t *testing.T) {
	gate := security.NewGate(security.Options{
		RateLimit: ratelimit.Config{Window: 60 * time.Millisecond, MaxRequests: 1, Enabled: true},
	})
	o := newTestOrchestrator(t, gate, nil, webSearchTool())
	id := o.CreateConversation(nil)
	ctx := context.Background()

	if _, err := o.ProcessMessage(ctx, id, "search for news", nil); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	sink := stream.NewCollectSink()
	reply, err := o.ProcessMessage(ctx, id, "search for more news", sink)
	if err != nil {
		t.Fatalf("rate-limited turn returned error: %v", err)
	}
	if !strings.Contains(reply.Content, "too quickly") {
		t.Errorf("reply = %q", reply.Content)
	}

	events := sink.Events()
	if len(events) == 0 || events[0].Type != models.EventError || events[0].Code != string(errcode.RateLimited) {
		t.Fatalf("first event = %+v, want error RATE_LIMITED", events)
	}

	conv, _ := o.GetConversation(id)
	if len(conv.Messages) != 4 {
		t.Errorf("messages = %d, rate-limited turn should still append both", len(conv.Messages))
	}

	denied := gate.Audit().Events(audit.Query{Kind: models.SecurityRateLimit})
	if len(denied) != 1 {
		t.Errorf("rate limit audit events = %d, want 1", len(denied))
	}

	// The window slides; the principal recovers without intervention.
	time.Sleep(70 * time.Millisecond)
	reply, err = o.ProcessMessage(ctx, id, "search again", nil)
	if err != nil {
		t.Fatalf("recovered turn: %v", err)
	}
	if strings.Contains(reply.Content, "too quickly") {
		t.Error("still rate limited after the window passed")
	}
}

func TestProcessMessage_RedactsSensitiveInput(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)
	id := o.CreateConversation(nil)

	if _, err := o.ProcessMessage(context.Background(), id, "My SSN is 123-45-6789 for the record", nil); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	conv, _ := o.GetConversation(id)
	if got := conv.Messages[0].Content; got != "My SSN is [REDACTED_SSN] for the record" {
		t.Errorf("logged user content = %q", got)
	}

	events := o.Gate().Audit().Events(audit.Query{Kind: models.SecurityContentFilter})
	if len(events) != 1 {
		t.Fatalf("content filter audit events = %d, want exactly 1", len(events))
	}
	if events[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", events[0].Severity)
	}
}

func TestProcessMessage_HandlerTimeout(t *testing.T) {
	slow := textTool("slow-op", "Performs a slow operation on the provided text",
		func(ctx context.Context, params map[string]any) (any, error) {
			time.Sleep(2 * time.Second)
			return "done", nil
		})
	slow.Execution.TimeoutMs = 500

	o := newTestOrchestrator(t, nil, nil, slow)
	id := o.CreateConversation(nil)

	start := time.Now()
	reply, err := o.ProcessMessage(context.Background(), id, "run the slow operation", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("turn took %s, timeout did not bound it", elapsed)
	}

	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.Status != models.CallFailed {
		t.Errorf("status = %s, want failed", call.Status)
	}
	if call.Error == nil || call.Error.Code != string(errcode.ExecutionTimeout) {
		t.Errorf("error = %+v, want EXECUTION_TIMEOUT", call.Error)
	}

	// The orchestrator stays usable after an abandoned handler.
	if _, err := o.ProcessMessage(context.Background(), id, "run the slow operation", nil); err != nil {
		t.Fatalf("second turn: %v", err)
	}
}

func TestProcessMessage_CancelledMidTurn(t *testing.T) {
	// The first invocation blocks until its context is cancelled; later
	// invocations return immediately so follow-on turns run normally.
	var invocations int32
	handler := func(ctx context.Context, params map[string]any) (any, error) {
		if atomic.AddInt32(&invocations, 1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		s, _ := params["text"].(string)
		return s, nil
	}
	upper := textTool("uppercase-text", "Uppercases the provided text", handler)
	reverse := textTool("reverse-text", "Reverses the provided text", handler)

	o := newTestOrchestrator(t, nil, nil, upper, reverse)
	id := o.CreateConversation(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	reply, err := o.ProcessMessage(ctx, id, "transform this text", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want only the in-flight call", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.Status != models.CallCancelled {
		t.Errorf("status = %s, want cancelled", call.Status)
	}
	if call.Error == nil || call.Error.Code != string(errcode.Cancelled) {
		t.Errorf("error = %+v, want CANCELLED", call.Error)
	}
	if got := atomic.LoadInt32(&invocations); got != 1 {
		t.Errorf("handler invocations = %d, remaining planned calls should not run", got)
	}
	if !strings.Contains(reply.Content, "1 tool call(s) failed") {
		t.Errorf("reply = %q", reply.Content)
	}

	// The conversation recovers on a fresh context.
	reply, err = o.ProcessMessage(context.Background(), id, "transform this text", nil)
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if len(reply.ToolCalls) != 2 {
		t.Fatalf("second turn calls = %d, want 2", len(reply.ToolCalls))
	}
	for _, call := range reply.ToolCalls {
		if call.Status != models.CallOK {
			t.Errorf("call %s = %s, want ok after recovery", call.ToolID, call.Status)
		}
	}
}

func TestProcessMessage_CancelledBetweenCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first call succeeds and the turn is cancelled before the next
	// planned call starts.
	var invocations int32
	handler := func(hctx context.Context, params map[string]any) (any, error) {
		atomic.AddInt32(&invocations, 1)
		s, _ := params["text"].(string)
		return s, nil
	}
	upper := textTool("uppercase-text", "Uppercases the provided text", handler)
	reverse := textTool("reverse-text", "Reverses the provided text", handler)
	cancelAfterFirst := Middleware{
		Name: "cancel-after-first",
		PostCall: func(mctx context.Context, call *CallContext, result *models.ToolExecutionResult) *models.ToolExecutionResult {
			cancel()
			return nil
		},
	}

	o := newTestOrchestrator(t, nil, []Middleware{cancelAfterFirst}, upper, reverse)
	id := o.CreateConversation(nil)

	reply, err := o.ProcessMessage(ctx, id, "transform this text", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	if len(reply.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want completed + skipped", len(reply.ToolCalls))
	}
	if reply.ToolCalls[0].Status != models.CallOK {
		t.Errorf("first call = %s, want ok", reply.ToolCalls[0].Status)
	}
	skipped := reply.ToolCalls[1]
	if skipped.Status != models.CallCancelled {
		t.Errorf("second call = %s, want cancelled", skipped.Status)
	}
	if skipped.Error == nil || skipped.Error.Code != string(errcode.Cancelled) {
		t.Errorf("error = %+v, want CANCELLED", skipped.Error)
	}
	if got := atomic.LoadInt32(&invocations); got != 1 {
		t.Errorf("handler invocations = %d, skipped call must not execute", got)
	}
}

func TestProcessMessage_PolicyCallBudget(t *testing.T) {
	upper := textTool("uppercase-text", "Uppercases the provided text",
		func(ctx context.Context, params map[string]any) (any, error) {
			s, _ := params["text"].(string)
			return strings.ToUpper(s), nil
		})
	reverse := textTool("reverse-text", "Reverses the provided text",
		func(ctx context.Context, params map[string]any) (any, error) {
			s, _ := params["text"].(string)
			runes := []rune(s)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return string(runes), nil
		})

	o := newTestOrchestrator(t, nil, nil, upper, reverse)
	id := o.CreateConversation(&models.Preferences{
		AutoExecute: true,
		SafetyLevel: models.SafetyMaximum,
	})

	reply, err := o.ProcessMessage(context.Background(), id, "transform this text", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(reply.ToolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2 planned", len(reply.ToolCalls))
	}

	var ok, denied int
	for _, call := range reply.ToolCalls {
		switch call.Status {
		case models.CallOK:
			ok++
		case models.CallFailed:
			denied++
			if call.Error == nil || call.Error.Code != string(errcode.PolicyViolation) {
				t.Errorf("denied call error = %+v, want POLICY_VIOLATION", call.Error)
			}
		}
	}
	if ok != 1 || denied != 1 {
		t.Errorf("ok = %d denied = %d, maximum safety allows exactly one call", ok, denied)
	}
}

func TestProcessMessage_MiddlewareOrderAndRewrite(t *testing.T) {
	var mu sync.Mutex
	var order []string
	note := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	mwA := Middleware{
		Name:    "a",
		PreCall: func(ctx context.Context, call *CallContext) error { note("preA"); return nil },
		PostCall: func(ctx context.Context, call *CallContext, result *models.ToolExecutionResult) *models.ToolExecutionResult {
			note("postA")
			replaced := *result
			replaced.Data = "replaced"
			return &replaced
		},
	}
	mwB := Middleware{
		Name:    "b",
		PreCall: func(ctx context.Context, call *CallContext) error { note("preB"); return nil },
		PostCall: func(ctx context.Context, call *CallContext, result *models.ToolExecutionResult) *models.ToolExecutionResult {
			note("postB")
			return nil
		},
	}

	echo := textTool("echo-text", "Echoes the provided text",
		func(ctx context.Context, params map[string]any) (any, error) {
			return params["text"], nil
		})
	o := newTestOrchestrator(t, nil, []Middleware{mwA, mwB}, echo)
	id := o.CreateConversation(nil)

	reply, err := o.ProcessMessage(context.Background(), id, "echo this text back", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	want := []string{"preA", "preB", "postB", "postA"}
	mu.Lock()
	got := append([]string(nil), order...)
	mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if len(reply.ToolCalls) != 1 || reply.ToolCalls[0].Result.Data != "replaced" {
		t.Errorf("post middleware did not replace the result: %+v", reply.ToolCalls)
	}
}

func TestProcessMessage_MiddlewareDenies(t *testing.T) {
	deny := Middleware{
		Name: "deny",
		PreCall: func(ctx context.Context, call *CallContext) error {
			return errcode.New(errcode.PolicyViolation, "denied by middleware")
		},
	}
	echo := textTool("echo-text", "Echoes the provided text",
		func(ctx context.Context, params map[string]any) (any, error) {
			return params["text"], nil
		})
	o := newTestOrchestrator(t, nil, []Middleware{deny}, echo)
	id := o.CreateConversation(nil)

	reply, err := o.ProcessMessage(context.Background(), id, "echo this text back", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.Status != models.CallFailed || call.Error == nil || call.Error.Code != string(errcode.PolicyViolation) {
		t.Errorf("call = %+v, want failed with POLICY_VIOLATION", call)
	}
}

func TestProcessMessage_SandboxedTool(t *testing.T) {
	const snippet = `func Run(input map[string]interface{}) (interface{}, error) {
	return "hi from sandbox", nil
}`

	runCode := &models.ToolDefinition{
		ID:           "run-code",
		Name:         "Run Code",
		Description:  "Runs a short code snippet in the sandbox",
		Version:      "1.0.0",
		Category:     models.CategoryExecution,
		Kind:         models.KindFunction,
		InputSchema:  []byte(`{"type":"object","properties":{"code":{"type":"string"},"text":{"type":"string"}}}`),
		OutputSchema: []byte(`{"type":"object"}`),
		Execution:    models.ExecutionSpec{Environment: "sandboxed", TimeoutMs: 5000},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, errcode.New(errcode.ExecutionError, "handler should not run for sandboxed tools")
		},
	}

	inject := Middleware{
		Name: "inject-code",
		PreCall: func(ctx context.Context, call *CallContext) error {
			call.Parameters["code"] = snippet
			return nil
		},
	}

	o := newTestOrchestrator(t, nil, []Middleware{inject}, runCode)
	id := o.CreateConversation(&models.Preferences{
		AutoExecute:       true,
		SafetyLevel:       models.SafetyLow,
		AllowedCategories: []string{"execution"},
	})

	reply, err := o.ProcessMessage(context.Background(), id, "execute this code snippet", nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(reply.ToolCalls))
	}
	call := reply.ToolCalls[0]
	if call.Status != models.CallOK {
		t.Fatalf("status = %s, error = %+v", call.Status, call.Error)
	}
	if call.Result.Data != "hi from sandbox" {
		t.Errorf("result = %v", call.Result.Data)
	}
}

type countingMetrics struct {
	mu        sync.Mutex
	messages  int
	toolRuns  int
	toolFails int
	denials   int
	started   int
	ended     int
}

func (m *countingMetrics) MessageProcessed(time.Duration) {
	m.mu.Lock()
	m.messages++
	m.mu.Unlock()
}

func (m *countingMetrics) ToolExecuted(toolID string, success bool, d time.Duration) {
	m.mu.Lock()
	m.toolRuns++
	if !success {
		m.toolFails++
	}
	m.mu.Unlock()
}

func (m *countingMetrics) SecurityDenial(kind string) {
	m.mu.Lock()
	m.denials++
	m.mu.Unlock()
}

func (m *countingMetrics) ConversationStarted() {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) ConversationEnded() {
	m.mu.Lock()
	m.ended++
	m.mu.Unlock()
}

func TestProcessMessage_Metrics(t *testing.T) {
	reg := registry.New()
	if err := reg.Register(webSearchTool()); err != nil {
		t.Fatal(err)
	}
	metrics := &countingMetrics{}
	o := New(Config{
		Registry: reg,
		Metrics:  metrics,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	id := o.CreateConversation(nil)
	if _, err := o.ProcessMessage(context.Background(), id, "search for golang tutorials", nil); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if err := o.DeleteConversation(id); err != nil {
		t.Fatal(err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.started != 1 || metrics.ended != 1 {
		t.Errorf("conversations started = %d ended = %d", metrics.started, metrics.ended)
	}
	if metrics.messages != 1 {
		t.Errorf("messages = %d, want 1", metrics.messages)
	}
	if metrics.toolRuns != 1 || metrics.toolFails != 0 {
		t.Errorf("tool runs = %d fails = %d", metrics.toolRuns, metrics.toolFails)
	}
}

func TestProcessMessage_ParallelConversations(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil, webSearchTool())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := o.CreateConversation(nil)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := o.ProcessMessage(ctx, id, "search for golang news", nil); err != nil {
				t.Errorf("conversation %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()
}
