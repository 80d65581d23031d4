package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// entryPoint is the function every snippet must define:
//
//	func Run(input map[string]interface{}) (interface{}, error)
const entryPoint = "main.Run"

// logCapture turns write stream output into ordered log entries. Stdout
// lines become info entries and stderr lines become error entries; a
// "warn:" or "debug:" prefix overrides the level.
type logCapture struct {
	mu      sync.Mutex
	entries []LogEntry
	now     func() time.Time
}

func newLogCapture() *logCapture {
	return &logCapture{now: time.Now}
}

func (c *logCapture) writer(level LogLevel) *lineWriter {
	return &lineWriter{capture: c, level: level}
}

func (c *logCapture) append(level LogLevel, message string) {
	message = strings.TrimRight(message, "\n")
	if message == "" {
		return
	}
	switch {
	case strings.HasPrefix(message, "warn:"):
		level = LogWarn
		message = strings.TrimSpace(strings.TrimPrefix(message, "warn:"))
	case strings.HasPrefix(message, "debug:"):
		level = LogDebug
		message = strings.TrimSpace(strings.TrimPrefix(message, "debug:"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: c.now(),
	})
}

func (c *logCapture) snapshot() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// lineWriter buffers stream writes and emits one log entry per line.
type lineWriter struct {
	capture *logCapture
	level   LogLevel
	mu      sync.Mutex
	buf     strings.Builder
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.capture.append(w.level, w.buf.String())
			w.buf.Reset()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

// flush emits any trailing partial line.
func (w *lineWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.capture.append(w.level, w.buf.String())
		w.buf.Reset()
	}
}

// runSnippet evaluates one snippet in a fresh interpreter and invokes its
// entry point with the execution context. The interpreter checks ctx at its
// cooperative yield points; a snippet stuck in a tight loop is abandoned
// when the deadline fires.
func runSnippet(ctx context.Context, code string, input map[string]any, capture *logCapture) (any, error) {
	stdout := capture.writer(LogInfo)
	stderr := capture.writer(LogError)
	defer stdout.flush()
	defer stderr.flush()

	i := interp.New(interp.Options{
		Stdout: stdout,
		Stderr: stderr,
	})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, errcode.Wrap(errcode.ExecutionError, "loading interpreter symbols", err)
	}

	if _, err := i.EvalWithContext(ctx, wrapSnippet(code)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errcode.Wrap(errcode.ExecutionError, "code evaluation failed", err)
	}

	v, err := i.Eval(entryPoint)
	if err != nil {
		return nil, errcode.Wrap(errcode.ExecutionError, "snippet does not define Run", err)
	}
	run, ok := v.Interface().(func(map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, errcode.New(errcode.ExecutionError,
			"Run must have signature func(map[string]interface{}) (interface{}, error)")
	}

	if input == nil {
		input = map[string]any{}
	}

	// The entry point is not context-aware, so invoke it in its own
	// goroutine and abandon it when the deadline fires. The interpreter
	// instance is never reused, so an abandoned goroutine cannot corrupt a
	// later execution.
	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: errcode.Newf(errcode.ExecutionError, "panic: %v", r)}
			}
		}()
		value, err := run(input)
		if err != nil {
			ch <- outcome{err: errcode.Wrap(errcode.ExecutionError, "snippet returned error", err)}
			return
		}
		ch <- outcome{value: value}
	}()

	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wrapSnippet prefixes a package clause when the snippet has none.
func wrapSnippet(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return fmt.Sprintf("package main\n\n%s", code)
}
