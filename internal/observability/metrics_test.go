package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestToolExecuted(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.ToolExecuted("web-search", true, 120*time.Millisecond)
	m.ToolExecuted("web-search", true, 80*time.Millisecond)
	m.ToolExecuted("calculator", false, 10*time.Millisecond)

	expected := `
		# HELP conduit_tool_executions_total Total number of tool executions by tool id and status
		# TYPE conduit_tool_executions_total counter
		conduit_tool_executions_total{status="error",tool_id="calculator"} 1
		conduit_tool_executions_total{status="success",tool_id="web-search"} 2
	`
	if err := testutil.CollectAndCompare(m.ToolExecutionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
	if count := testutil.CollectAndCount(m.ToolExecutionDuration); count != 2 {
		t.Errorf("duration label combinations = %d, want 2", count)
	}
}

func TestMessageProcessed(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.MessageProcessed(50 * time.Millisecond)
	m.MessageProcessed(200 * time.Millisecond)

	if got := testutil.ToFloat64(m.MessageCounter); got != 2 {
		t.Errorf("message counter = %v, want 2", got)
	}
}

func TestSecurityDenial(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.SecurityDenial("rate_limit")
	m.SecurityDenial("rate_limit")
	m.SecurityDenial("POLICY_VIOLATION")

	expected := `
		# HELP conduit_security_denials_total Total number of security gate denials by kind
		# TYPE conduit_security_denials_total counter
		conduit_security_denials_total{kind="POLICY_VIOLATION"} 1
		conduit_security_denials_total{kind="rate_limit"} 2
	`
	if err := testutil.CollectAndCompare(m.SecurityDenialCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
}

func TestConversationGauge(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.ConversationStarted()
	m.ConversationStarted()
	m.ConversationStarted()
	m.ConversationEnded()

	if got := testutil.ToFloat64(m.ActiveConversations); got != 2 {
		t.Errorf("active conversations = %v, want 2", got)
	}
}

func TestRecordSnapshotQuery(t *testing.T) {
	m := NewMetricsFor(prometheus.NewRegistry())

	m.RecordSnapshotQuery("save", nil, 2*time.Millisecond)
	m.RecordSnapshotQuery("save", nil, 3*time.Millisecond)
	m.RecordSnapshotQuery("load", errors.New("no such conversation"), time.Millisecond)

	expected := `
		# HELP conduit_snapshot_queries_total Total number of snapshot store queries
		# TYPE conduit_snapshot_queries_total counter
		conduit_snapshot_queries_total{operation="load",status="error"} 1
		conduit_snapshot_queries_total{operation="save",status="success"} 2
	`
	if err := testutil.CollectAndCompare(m.SnapshotQueryCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected counter state: %v", err)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two Metrics against separate registries must not collide.
	a := NewMetricsFor(prometheus.NewRegistry())
	b := NewMetricsFor(prometheus.NewRegistry())

	a.MessageProcessed(time.Millisecond)
	if got := testutil.ToFloat64(b.MessageCounter); got != 0 {
		t.Errorf("second registry counter = %v, want 0", got)
	}
}
