package audit

import (
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestBuffer_RecordAndQuery(t *testing.T) {
	b := NewBuffer(Config{Capacity: 10})

	b.Record(models.SecurityEvent{
		Kind:      models.SecurityRateLimit,
		Severity:  models.SeverityMedium,
		Principal: "alice",
	})
	b.Record(models.SecurityEvent{
		Kind:      models.SecurityContentFilter,
		Severity:  models.SeverityHigh,
		Principal: "bob",
	})

	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}

	got := b.Events(Query{Principal: "alice"})
	if len(got) != 1 || got[0].Kind != models.SecurityRateLimit {
		t.Errorf("principal filter = %+v", got)
	}
	got = b.Events(Query{Kind: models.SecurityContentFilter})
	if len(got) != 1 || got[0].Principal != "bob" {
		t.Errorf("kind filter = %+v", got)
	}
	got = b.Events(Query{MinSeverity: models.SeverityHigh})
	if len(got) != 1 || got[0].Severity != models.SeverityHigh {
		t.Errorf("severity filter = %+v", got)
	}
}

func TestBuffer_FIFOEviction(t *testing.T) {
	b := NewBuffer(Config{Capacity: 3})
	for _, p := range []string{"e1", "e2", "e3", "e4"} {
		b.Record(models.SecurityEvent{
			Kind:      models.SecurityPolicyViolation,
			Severity:  models.SeverityLow,
			Principal: p,
		})
	}

	if b.Len() != 3 {
		t.Fatalf("len = %d, want 3", b.Len())
	}
	got := b.Events(Query{})
	if got[0].Principal != "e2" || got[2].Principal != "e4" {
		t.Errorf("eviction kept wrong entries: %s..%s", got[0].Principal, got[2].Principal)
	}
}

func TestBuffer_FillsIDAndTimestamp(t *testing.T) {
	b := NewBuffer(Config{Capacity: 2})
	e := b.Record(models.SecurityEvent{Kind: models.SecurityAccessDenied, Severity: models.SeverityLow})
	if e.ID == "" {
		t.Error("id not filled")
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not filled")
	}
}

func TestBuffer_TimeRangeAndLimit(t *testing.T) {
	b := NewBuffer(Config{Capacity: 10})
	base := time.Unix(1700000000, 0)
	for i := 0; i < 5; i++ {
		b.Record(models.SecurityEvent{
			Kind:      models.SecurityResourceLimit,
			Severity:  models.SeverityLow,
			Principal: "p",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got := b.Events(Query{Since: base.Add(90 * time.Second)})
	if len(got) != 3 {
		t.Errorf("since filter = %d events, want 3", len(got))
	}
	got = b.Events(Query{Until: base.Add(90 * time.Second)})
	if len(got) != 2 {
		t.Errorf("until filter = %d events, want 2", len(got))
	}
	got = b.Events(Query{Limit: 2})
	if len(got) != 2 || !got[1].Timestamp.After(got[0].Timestamp) {
		t.Errorf("limit should keep the most recent entries in order")
	}
}

func TestBuffer_Clear(t *testing.T) {
	b := NewBuffer(Config{Capacity: 4})
	b.Record(models.SecurityEvent{Kind: models.SecurityRateLimit, Severity: models.SeverityLow})
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("len after clear = %d", b.Len())
	}
}
