// Package audit provides a bounded in-memory ring of security events with
// structured filter queries. The buffer owns every SecurityEvent in the
// runtime; writers drop the oldest entry on overflow.
package audit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/conduit/pkg/models"
)

// DefaultCapacity is the ring size when none is configured.
const DefaultCapacity = 10000

// Config configures the audit buffer.
type Config struct {
	// Capacity is the maximum number of retained events.
	Capacity int `yaml:"capacity"`

	// Logger receives an echo of events with severity high or above.
	// Defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// Buffer is a fixed-capacity FIFO ring of security events.
type Buffer struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	start  int
	count  int
	logger *slog.Logger
	now    func() time.Time
}

// NewBuffer creates an audit buffer.
func NewBuffer(cfg Config) *Buffer {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		events: make([]models.SecurityEvent, capacity),
		logger: logger,
		now:    time.Now,
	}
}

// Record appends an event, evicting the oldest entry when full. Missing id
// and timestamp fields are filled in. Events with severity high or critical
// are echoed to the operational log.
func (b *Buffer) Record(event models.SecurityEvent) models.SecurityEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}

	b.mu.Lock()
	if b.count == len(b.events) {
		// Overwrite the oldest slot.
		b.events[b.start] = event
		b.start = (b.start + 1) % len(b.events)
	} else {
		b.events[(b.start+b.count)%len(b.events)] = event
		b.count++
	}
	b.mu.Unlock()

	if event.Severity.Rank() >= models.SeverityHigh.Rank() {
		b.logger.Warn("security event",
			"kind", string(event.Kind),
			"severity", string(event.Severity),
			"principal", event.Principal,
			"conversation_id", event.ConversationID,
		)
	}
	return event
}

// Query filters the retained events.
type Query struct {
	Principal      string
	ConversationID string
	Kind           models.SecurityEventKind
	MinSeverity    models.Severity
	Since          time.Time
	Until          time.Time
	Limit          int
}

func (q Query) matches(e models.SecurityEvent) bool {
	if q.Principal != "" && e.Principal != q.Principal {
		return false
	}
	if q.ConversationID != "" && e.ConversationID != q.ConversationID {
		return false
	}
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.MinSeverity != "" && e.Severity.Rank() < q.MinSeverity.Rank() {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Events returns retained events matching the query, oldest first.
func (b *Buffer) Events(q Query) []models.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.SecurityEvent, 0, b.count)
	for i := 0; i < b.count; i++ {
		e := b.events[(b.start+i)%len(b.events)]
		if q.matches(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Clear drops all retained events.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start, b.count = 0, 0
}
