package registry

import (
	"sort"
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// Score contributions, applied case-insensitively and summed per tool.
const (
	scoreNameEquals     = 100
	scoreIDEquals       = 90
	scoreNamePrefix     = 50
	scoreDescPrefix     = 30
	scoreNameContains   = 20
	scoreDescContains   = 10
	scorePerMatchingTag = 15
)

// SearchOptions tune Search behaviour.
type SearchOptions struct {
	// Fuzzy matches tools whose concatenated name+description+id+tags
	// contain the query characters in order. Substring match otherwise.
	Fuzzy bool

	// Limit truncates the result list after sorting. 0 means unlimited.
	Limit int

	// Filter is applied before matching.
	Filter Filter
}

// Search returns tools matching the query ranked by score descending then id
// ascending. The sort is deterministic and stable under registration order.
// An empty query degrades to List(filter).
func (r *Registry) Search(query string, opts SearchOptions) []*models.ToolDefinition {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		out := r.List(opts.Filter)
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
		return out
	}

	r.mu.RLock()
	type scored struct {
		def   *models.ToolDefinition
		score int
	}
	var matches []scored
	for _, def := range r.tools {
		if !opts.Filter.matches(def) {
			continue
		}
		score := scoreTool(def, query)
		if opts.Fuzzy {
			if subsequenceMatch(searchText(def), query) {
				matches = append(matches, scored{def, score})
			}
			continue
		}
		if score > 0 {
			matches = append(matches, scored{def, score})
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].def.ID < matches[j].def.ID
	})

	out := make([]*models.ToolDefinition, len(matches))
	for i, m := range matches {
		out[i] = m.def
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func scoreTool(def *models.ToolDefinition, query string) int {
	name := strings.ToLower(def.Name)
	id := strings.ToLower(def.ID)
	desc := strings.ToLower(def.Description)

	score := 0
	switch {
	case name == query:
		score += scoreNameEquals
	case strings.HasPrefix(name, query):
		score += scoreNamePrefix
	case strings.Contains(name, query):
		score += scoreNameContains
	}
	if id == query {
		score += scoreIDEquals
	}
	switch {
	case strings.HasPrefix(desc, query):
		score += scoreDescPrefix
	case strings.Contains(desc, query):
		score += scoreDescContains
	}
	for _, tag := range def.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			score += scorePerMatchingTag
		}
	}
	return score
}

func searchText(def *models.ToolDefinition) string {
	parts := []string{def.Name, def.Description, def.ID}
	parts = append(parts, def.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// subsequenceMatch reports whether every rune of query appears in text in
// order, not necessarily contiguously.
func subsequenceMatch(text, query string) bool {
	runes := []rune(query)
	i := 0
	for _, r := range text {
		if i == len(runes) {
			return true
		}
		if r == runes[i] {
			i++
		}
	}
	return i == len(runes)
}

func sortByID(defs []*models.ToolDefinition) {
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
}
