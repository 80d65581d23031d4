package stream

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestChanSink_BlocksUntilConsumed(t *testing.T) {
	ch := make(chan models.StreamingEvent) // unbuffered
	sink := NewChanSink(ch)

	delivered := make(chan struct{})
	go func() {
		sink.Emit(context.Background(), models.StreamingEvent{Type: models.EventText})
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("emit returned before the consumer read")
	case <-time.After(20 * time.Millisecond):
	}

	<-ch
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("emit never returned after consume")
	}
}

func TestChanSink_CancelledContextAbandonsWrite(t *testing.T) {
	ch := make(chan models.StreamingEvent)
	sink := NewChanSink(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, models.StreamingEvent{Type: models.EventText})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked despite cancelled context")
	}
}

func TestMultiSink_OrderAndNilFiltering(t *testing.T) {
	a := NewCollectSink()
	b := NewCollectSink()
	multi := NewMultiSink(a, nil, b)

	multi.Emit(context.Background(), models.StreamingEvent{Type: models.EventThinking})
	multi.Emit(context.Background(), models.StreamingEvent{Type: models.EventText})

	for _, sink := range []*CollectSink{a, b} {
		events := sink.Events()
		if len(events) != 2 || events[0].Type != models.EventThinking || events[1].Type != models.EventText {
			t.Errorf("events = %+v", events)
		}
	}
}

func TestEmitter_StampsAndOrders(t *testing.T) {
	collect := NewCollectSink()
	em := NewEmitter(collect, "conv-1", nil)
	ctx := context.Background()

	em.Thinking(ctx, "Analyzing your request...")
	em.ToolCall(ctx, "web-search", map[string]any{"query": "x"})
	em.ToolResult(ctx, "web-search", true, "ok", nil)
	em.Text(ctx, "done")

	events := collect.Events()
	wantTypes := []models.StreamEventType{
		models.EventThinking, models.EventToolCall, models.EventToolResult, models.EventText,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d", len(events), len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %s, want %s", i, events[i].Type, want)
		}
		if events[i].ConversationID != "conv-1" || events[i].Timestamp.IsZero() {
			t.Errorf("events[%d] missing stamp: %+v", i, events[i])
		}
	}
	if events[3].Timestamp.Before(events[0].Timestamp) {
		t.Error("timestamps decreased across emission order")
	}
}

func TestEmitter_PanickingSinkDoesNotPropagate(t *testing.T) {
	sink := NewCallbackSink(func(ctx context.Context, e models.StreamingEvent) {
		panic("sink broke")
	})
	em := NewEmitter(sink, "conv-1", nil)

	// Must not panic.
	em.Error(context.Background(), "boom", "EXECUTION_ERROR")
}

func TestEmitter_NilSink(t *testing.T) {
	em := NewEmitter(nil, "conv-1", nil)
	em.Text(context.Background(), "no sink attached")
}
