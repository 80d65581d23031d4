// tools.go defines the built-in demo tool catalogue used by the repl, run,
// and tools commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/pkg/models"
)

var arithmeticPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*([-+*/x])\s*(-?\d+(?:\.\d+)?)`)

func demoTools() []*models.ToolDefinition {
	memory := newMemoryStore()

	return []*models.ToolDefinition{
		{
			ID:          "web-search",
			Name:        "Web Search",
			Description: "Searches the web for current information",
			Version:     "1.0.0",
			Category:    models.CategorySearch,
			Kind:        models.KindWebSearch,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"query": {"type": "string"}},
				"required": ["query"]
			}`),
			OutputSchema: json.RawMessage(`{"type": "object"}`),
			Execution:    models.ExecutionSpec{TimeoutMs: 10000},
			Tags:         []string{"search", "web"},
			Handler:      searchHandler,
		},
		{
			ID:          "calculator",
			Name:        "Calculator",
			Description: "Evaluates basic arithmetic expressions",
			Version:     "1.0.0",
			Category:    models.CategoryUtility,
			Kind:        models.KindFunction,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"text": {"type": "string"}},
				"required": ["text"]
			}`),
			OutputSchema: json.RawMessage(`{"type": "object"}`),
			Execution:    models.ExecutionSpec{TimeoutMs: 5000},
			Tags:         []string{"math", "calculate"},
			Handler:      calculatorHandler,
		},
		{
			ID:          "memory",
			Name:        "Conversation Memory",
			Description: "Stores and recalls facts across turns",
			Version:     "1.0.0",
			Category:    models.CategoryUtility,
			Kind:        models.KindFunction,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"action": {"type": "string", "enum": ["store", "recall"]},
					"key": {"type": "string"},
					"value": {"type": "string"}
				},
				"required": ["action"]
			}`),
			OutputSchema: json.RawMessage(`{"type": "object"}`),
			Execution:    models.ExecutionSpec{TimeoutMs: 5000},
			Tags:         []string{"memory", "remember"},
			Handler:      memory.handle,
		},
		{
			ID:          "datetime",
			Name:        "Date and Time",
			Description: "Reports the current date and time",
			Version:     "1.0.0",
			Category:    models.CategoryUtility,
			Kind:        models.KindFunction,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"text": {"type": "string"}}
			}`),
			OutputSchema: json.RawMessage(`{"type": "object"}`),
			Execution:    models.ExecutionSpec{TimeoutMs: 5000},
			Tags:         []string{"time", "date", "clock"},
			Handler:      datetimeHandler,
		},
		{
			ID:          "generate-id",
			Name:        "ID Generator",
			Description: "Generates a random UUID",
			Version:     "1.0.0",
			Category:    models.CategoryUtility,
			Kind:        models.KindFunction,
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {"text": {"type": "string"}}
			}`),
			OutputSchema: json.RawMessage(`{"type": "object"}`),
			Execution:    models.ExecutionSpec{TimeoutMs: 5000},
			Tags:         []string{"uuid", "identifier"},
			Handler:      idHandler,
		},
	}
}

// searchHandler is a stub: no network access in the demo catalogue, so it
// answers with a canned result for the query.
func searchHandler(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	return map[string]any{
		"success": true,
		"result":  fmt.Sprintf("Top results for %q (demo catalogue, no live search)", query),
	}, nil
}

func calculatorHandler(ctx context.Context, params map[string]any) (any, error) {
	text, _ := params["text"].(string)
	m := arithmeticPattern.FindStringSubmatch(text)
	if m == nil {
		return map[string]any{
			"success": false,
			"error":   "no arithmetic expression found",
		}, nil
	}

	a, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, err
	}
	b, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, err
	}

	var value float64
	switch m[2] {
	case "+":
		value = a + b
	case "-":
		value = a - b
	case "*", "x":
		value = a * b
	case "/":
		if b == 0 {
			return map[string]any{"success": false, "error": "division by zero"}, nil
		}
		value = a / b
	}

	return map[string]any{
		"success": true,
		"result":  fmt.Sprintf("%s %s %s = %s", m[1], m[2], m[3], strconv.FormatFloat(value, 'f', -1, 64)),
	}, nil
}

func datetimeHandler(ctx context.Context, params map[string]any) (any, error) {
	now := time.Now()
	return map[string]any{
		"success": true,
		"result":  now.Format("Monday, 2 January 2006 15:04:05 MST"),
	}, nil
}

func idHandler(ctx context.Context, params map[string]any) (any, error) {
	return map[string]any{
		"success": true,
		"result":  uuid.NewString(),
	}, nil
}

// memoryStore backs the memory tool. Stored facts are also returned under a
// "memories" key so the orchestrator folds them into the conversation
// context.
type memoryStore struct {
	mu    sync.Mutex
	facts map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{facts: make(map[string]string)}
}

func (m *memoryStore) handle(ctx context.Context, params map[string]any) (any, error) {
	action, _ := params["action"].(string)
	key, _ := params["key"].(string)
	if key == "" {
		key = "fact"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch action {
	case "store":
		value, _ := params["value"].(string)
		m.facts[key] = value
		return map[string]any{
			"stored":   true,
			"memories": map[string]any{key: value},
		}, nil
	case "recall":
		value, ok := m.facts[key]
		if !ok {
			return map[string]any{"value": "", "found": false}, nil
		}
		return map[string]any{"value": value, "found": true}, nil
	default:
		return nil, fmt.Errorf("unknown memory action %q", action)
	}
}
