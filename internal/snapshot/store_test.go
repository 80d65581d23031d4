package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConversation(id string) *models.Conversation {
	created := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	prefs := models.DefaultPreferences()
	return &models.Conversation{
		ID:          id,
		Preferences: prefs,
		Messages: []models.Message{
			{ID: "msg-1", Role: models.RoleUser, Content: "What is 2+2?", Timestamp: created},
			{ID: "msg-2", Role: models.RoleAssistant, Content: "4", Timestamp: created.Add(time.Second)},
		},
		Context:        map[string]any{"name": "Alice", "session_data": "abc"},
		ActiveTools:    []string{"calculator"},
		CreatedAt:      created,
		LastActivityAt: created.Add(time.Second),
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := sampleConversation("conv-1")
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != conv.ID {
		t.Errorf("ID = %q, want %q", got.ID, conv.ID)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Content != "What is 2+2?" || got.Messages[1].Role != models.RoleAssistant {
		t.Errorf("messages not preserved: %+v", got.Messages)
	}
	if got.Context["name"] != "Alice" {
		t.Errorf("context not preserved: %v", got.Context)
	}
	if got.Preferences.MaxToolCalls != conv.Preferences.MaxToolCalls {
		t.Errorf("preferences not preserved: %+v", got.Preferences)
	}
	if len(got.ActiveTools) != 1 || got.ActiveTools[0] != "calculator" {
		t.Errorf("active tools = %v", got.ActiveTools)
	}
	if !got.CreatedAt.Equal(conv.CreatedAt) {
		t.Errorf("created at = %v, want %v", got.CreatedAt, conv.CreatedAt)
	}
	if !got.LastActivityAt.Equal(conv.LastActivityAt) {
		t.Errorf("last activity = %v, want %v", got.LastActivityAt, conv.LastActivityAt)
	}
}

func TestSaveOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := sampleConversation("conv-1")
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	conv.Messages = append(conv.Messages, models.Message{
		ID: "msg-3", Role: models.RoleUser, Content: "and 3+3?", Timestamp: conv.LastActivityAt.Add(time.Second),
	})
	conv.LastActivityAt = conv.LastActivityAt.Add(time.Second)
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Errorf("messages = %d, want 3 after overwrite", len(got.Messages))
	}

	summaries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 1 {
		t.Errorf("summaries = %d, want 1 after upsert", len(summaries))
	}
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "nope")
	if !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}

func TestLoadEmptyContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := sampleConversation("conv-1")
	conv.Context = nil
	conv.ActiveTools = nil
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Context == nil {
		t.Error("context should be restored as an empty map, not nil")
	}
}

func TestListOrdersByActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"conv-a", "conv-b", "conv-c"} {
		conv := sampleConversation(id)
		conv.LastActivityAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Save(ctx, conv); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	summaries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("summaries = %d, want 3", len(summaries))
	}
	want := []string{"conv-c", "conv-b", "conv-a"}
	for i, summary := range summaries {
		if summary.ID != want[i] {
			t.Errorf("summaries[%d] = %s, want %s", i, summary.ID, want[i])
		}
		if summary.Messages != 2 {
			t.Errorf("summaries[%d].Messages = %d, want 2", i, summary.Messages)
		}
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sampleConversation("conv-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete(ctx, "conv-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load(ctx, "conv-1"); !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("Load after delete = %v, want NOT_FOUND", err)
	}
	if err := s.Delete(ctx, "conv-1"); !errcode.HasCode(err, errcode.NotFound) {
		t.Errorf("second Delete = %v, want NOT_FOUND", err)
	}
}

type recordingMetrics struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingMetrics) RecordSnapshotQuery(operation string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "err"
	}
	r.ops = append(r.ops, operation+":"+status)
}

func TestMetricsRecorded(t *testing.T) {
	rec := &recordingMetrics{}
	s, err := New(Config{Metrics: rec})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if err := s.Save(ctx, sampleConversation("conv-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Load(ctx, "conv-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := s.Load(ctx, "missing"); err == nil {
		t.Fatal("Load of missing id should fail")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"save:ok", "load:ok", "load:err"}
	if len(rec.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", rec.ops, want)
	}
	for i := range want {
		if rec.ops[i] != want[i] {
			t.Errorf("ops[%d] = %s, want %s", i, rec.ops[i], want[i])
		}
	}
}
