package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Emitter stamps and delivers events for one conversation turn. A panicking
// or erroring sink is logged and never fails the pipeline.
type Emitter struct {
	sink   Sink
	conv   string
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an emitter bound to a conversation. A nil sink
// discards everything.
func NewEmitter(sink Sink, conversationID string, logger *slog.Logger) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, conv: conversationID, logger: logger, now: time.Now}
}

func (e *Emitter) emit(ctx context.Context, ev models.StreamingEvent) {
	ev.Timestamp = e.now()
	ev.ConversationID = e.conv
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event sink panicked",
				"conversation_id", e.conv,
				"event_type", string(ev.Type),
				"panic", r,
			)
		}
	}()
	e.sink.Emit(ctx, ev)
}

// Thinking emits a thinking event.
func (e *Emitter) Thinking(ctx context.Context, content string) {
	e.emit(ctx, models.StreamingEvent{Type: models.EventThinking, Content: content})
}

// ToolCall emits a tool_call event.
func (e *Emitter) ToolCall(ctx context.Context, toolName string, params map[string]any) {
	e.emit(ctx, models.StreamingEvent{
		Type:       models.EventToolCall,
		ToolName:   toolName,
		Parameters: params,
	})
}

// ToolResult emits a tool_result event.
func (e *Emitter) ToolResult(ctx context.Context, toolName string, success bool, content string, metadata map[string]any) {
	e.emit(ctx, models.StreamingEvent{
		Type:     models.EventToolResult,
		ToolName: toolName,
		Success:  success,
		Content:  content,
		Metadata: metadata,
	})
}

// Text emits the final text event of a turn.
func (e *Emitter) Text(ctx context.Context, content string) {
	e.emit(ctx, models.StreamingEvent{Type: models.EventText, Content: content})
}

// Error emits an error event with an optional code.
func (e *Emitter) Error(ctx context.Context, content, code string) {
	e.emit(ctx, models.StreamingEvent{Type: models.EventError, Content: content, Code: code})
}
