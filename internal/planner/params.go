package planner

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
	"github.com/haasonsaas/conduit/pkg/schema"
)

// recallKeywords mark a query as a memory lookup rather than a store.
var recallKeywords = []string{
	"what", "tell", "recall", "remember", "said", "did",
	"where", "when", "how", "who",
}

// keySignals are the facts a memory tool files queries under.
var keySignals = []string{"name", "profession", "location", "interests", "workplace"}

// nameValuePattern extracts a stated name from the query.
var nameValuePattern = regexp.MustCompile(`(?i)(?:name is|i'm|called)\s+(\w+)`)

// synthesize builds a parameter map for one candidate from the tool's input
// schema. A candidate whose map comes out empty is dropped by the caller.
func (p *Planner) synthesize(tool *models.ToolDefinition, query string, intent models.Intent, context map[string]any) map[string]any {
	s, err := schema.Parse(tool.InputSchema)
	if err != nil || s == nil {
		return nil
	}

	if _, hasAction := s.Properties["action"]; hasAction && isMemoryTool(tool) {
		return memoryParams(query)
	}

	params := make(map[string]any)
	for name := range s.Properties {
		switch name {
		case "query", "question":
			if len(intent.Keywords) > 0 {
				params[name] = strings.Join(intent.Keywords, " ")
			}
		case "text", "content":
			params[name] = query
		case "url":
			if u := firstURLToken(query); u != "" {
				params[name] = u
			}
		default:
			if v, ok := context[name]; ok {
				params[name] = v
			}
		}
	}
	return params
}

func isMemoryTool(tool *models.ToolDefinition) bool {
	if strings.Contains(tool.ID, "memory") {
		return true
	}
	return tool.Category == models.CategoryUtility &&
		strings.Contains(strings.ToLower(tool.Name), "memory")
}

// memoryParams classifies the query as recall or store and extracts the
// key and value.
func memoryParams(query string) map[string]any {
	lower := strings.ToLower(query)

	key := ""
	for _, signal := range keySignals {
		if strings.Contains(lower, signal) {
			key = signal
			break
		}
	}

	if isRecallQuery(lower) {
		params := map[string]any{"action": "recall"}
		if key != "" {
			params["key"] = key
		}
		return params
	}

	value := query
	if m := nameValuePattern.FindStringSubmatch(query); m != nil {
		value = m[1]
	}
	params := map[string]any{"action": "store", "value": value}
	if key != "" {
		params["key"] = key
	}
	return params
}

func isRecallQuery(lower string) bool {
	if strings.Contains(lower, "?") || strings.Contains(lower, "about") {
		return true
	}
	for _, kw := range recallKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func firstURLToken(query string) string {
	for _, token := range strings.Fields(query) {
		if strings.Contains(token, "http") {
			return token
		}
	}
	return ""
}
