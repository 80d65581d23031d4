// Package planner turns a user query into an ordered, acyclic execution
// plan over the registered tools. It is stateless: every call reads the
// registry and the caller's context, never its own.
package planner

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Weights are the scoring constants. They are tunable configuration, not
// fixed behaviour; DefaultWeights matches the documented scoring model.
type Weights struct {
	Base               float64 `yaml:"base"`
	CategoryMatch      float64 `yaml:"category_match"`
	PerKeyword         float64 `yaml:"per_keyword"`
	IDBonus            float64 `yaml:"id_bonus"`
	CalculationBonus   float64 `yaml:"calculation_bonus"`
	AlternativeScale   float64 `yaml:"alternative_scale"`
	ComplexityDiscount float64 `yaml:"complexity_discount"`
}

// DefaultWeights returns the default scoring constants.
func DefaultWeights() Weights {
	return Weights{
		Base:               0.3,
		CategoryMatch:      0.4,
		PerKeyword:         0.1,
		IDBonus:            0.3,
		CalculationBonus:   0.3,
		AlternativeScale:   0.8,
		ComplexityDiscount: 0.2,
	}
}

// Planner builds execution plans against a registry.
type Planner struct {
	registry *registry.Registry
	weights  Weights
	logger   *slog.Logger
}

// Config configures a planner. Zero values take defaults.
type Config struct {
	Weights *Weights
	Logger  *slog.Logger
}

// New creates a planner over the given registry.
func New(reg *registry.Registry, cfg Config) *Planner {
	weights := DefaultWeights()
	if cfg.Weights != nil {
		weights = *cfg.Weights
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{registry: reg, weights: weights, logger: logger}
}

// categoryAliases is the symmetric lenient-match table between tool
// categories and the vocabulary callers use for them.
var categoryAliases = map[models.ToolCategory][]string{
	models.CategoryIntegration: {"api", "http"},
	models.CategorySearch:      {"web", "find", "lookup"},
	models.CategoryUtility:     {"text", "processing", "function"},
	models.CategoryCore:        {"ai", "llm", "chat", "embedding"},
	models.CategoryData:        {"knowledge", "database", "storage"},
}

// intentCategories maps an intent type to the tool categories that serve it.
var intentCategories = map[models.IntentType][]models.ToolCategory{
	models.IntentSearch:      {models.CategorySearch},
	models.IntentCalculation: {models.CategoryUtility},
	models.IntentCode:        {models.CategoryExecution},
	models.IntentAPI:         {models.CategoryIntegration},
}

// Plan analyses the query, retrieves and scores candidate tools, and
// assembles a plan honouring the caller's preferences. A plan with no tool
// calls has confidence zero.
func (p *Planner) Plan(query string, context map[string]any, prefs models.Preferences) *models.ExecutionPlan {
	intent := AnalyzeIntent(query)
	candidates := p.retrieve(intent, prefs)

	limit := 2 * prefs.MaxToolCalls
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var calls []models.PlannedToolCall
	var searchIDs []string
	for _, tool := range candidates {
		params := p.synthesize(tool, query, intent, context)
		if len(params) == 0 {
			continue
		}
		call := models.PlannedToolCall{
			ID:         fmt.Sprintf("call-%d", len(calls)+1),
			ToolID:     tool.ID,
			Parameters: params,
			Priority:   p.priority(tool, intent),
			Reason:     fmt.Sprintf("%s matches the %s request", tool.Name, intent.Type),
		}
		// Execution tools depend on every search tool planned before them.
		if tool.Category == models.CategoryExecution && len(searchIDs) > 0 {
			call.Dependencies = append([]string(nil), searchIDs...)
		}
		if tool.Category == models.CategorySearch {
			searchIDs = append(searchIDs, call.ID)
		}
		calls = append(calls, call)
	}

	plan := &models.ExecutionPlan{
		ToolCalls:  calls,
		Reasoning:  p.reasoning(intent, calls),
		Confidence: p.confidence(intent, calls),
	}
	plan.Alternatives = p.alternatives(plan)

	p.logger.Debug("plan built",
		"intent", string(intent.Type),
		"candidates", len(candidates),
		"tool_calls", len(calls),
		"confidence", plan.Confidence,
	)
	return plan
}

// retrieve finds candidate tools in three falling-back stages: keywords
// plus intent type, intent type alone, then the full listing. The result is
// filtered by the caller's allowed categories.
func (p *Planner) retrieve(intent models.Intent, prefs models.Preferences) []*models.ToolDefinition {
	terms := append(append([]string(nil), intent.Keywords...), string(intent.Type))
	candidates := p.searchEach(terms)
	if len(candidates) == 0 {
		candidates = p.searchEach([]string{string(intent.Type)})
	}
	if len(candidates) == 0 {
		candidates = p.registry.List(registry.Filter{})
	}

	if len(prefs.AllowedCategories) == 0 {
		return candidates
	}
	allowed := candidates[:0:0]
	for _, tool := range candidates {
		for _, cat := range prefs.AllowedCategories {
			if categoryMatches(tool.Category, cat) {
				allowed = append(allowed, tool)
				break
			}
		}
	}
	return allowed
}

// searchEach unions per-term search results, keeping first-seen order.
func (p *Planner) searchEach(terms []string) []*models.ToolDefinition {
	seen := make(map[string]bool)
	var out []*models.ToolDefinition
	for _, term := range terms {
		for _, tool := range p.registry.Search(term, registry.SearchOptions{}) {
			if seen[tool.ID] {
				continue
			}
			seen[tool.ID] = true
			out = append(out, tool)
		}
	}
	return out
}

// categoryMatches applies the lenient rules: direct equality, containment
// either way, or an alias from the symmetric table.
func categoryMatches(category models.ToolCategory, allowed string) bool {
	c := string(category)
	allowed = strings.ToLower(allowed)
	if c == allowed || strings.Contains(c, allowed) || strings.Contains(allowed, c) {
		return true
	}
	for _, alias := range categoryAliases[category] {
		if alias == allowed || strings.Contains(allowed, alias) {
			return true
		}
	}
	return false
}

func intentMatchesCategory(intent models.IntentType, category models.ToolCategory) bool {
	for _, cat := range intentCategories[intent] {
		if cat == category {
			return true
		}
	}
	return categoryMatches(category, string(intent))
}

// priority scores one candidate for the intent. Clamped to 1.
func (p *Planner) priority(tool *models.ToolDefinition, intent models.Intent) float64 {
	w := p.weights
	score := w.Base

	if intentMatchesCategory(intent.Type, tool.Category) {
		score += w.CategoryMatch
	}

	text := strings.ToLower(tool.Name + " " + tool.Description)
	for _, kw := range intent.Keywords {
		if strings.Contains(text, kw) {
			score += w.PerKeyword
		}
	}

	switch tool.ID {
	case "search", "api", "text":
		score += w.IDBonus
	}

	if intent.Type == models.IntentCalculation {
		id := strings.ToLower(tool.ID + " " + tool.Name)
		if strings.Contains(id, "calc") || strings.Contains(id, "math") {
			score += w.CalculationBonus
		}
	}

	if score > 1 {
		score = 1
	}
	return score
}

// confidence is the mean planned-call priority discounted by query
// complexity.
func (p *Planner) confidence(intent models.Intent, calls []models.PlannedToolCall) float64 {
	if len(calls) == 0 {
		return 0
	}
	var sum float64
	for _, call := range calls {
		sum += call.Priority
	}
	mean := sum / float64(len(calls))
	return mean * (1 - p.weights.ComplexityDiscount*intent.Complexity)
}

func (p *Planner) reasoning(intent models.Intent, calls []models.PlannedToolCall) string {
	if len(calls) == 0 {
		return fmt.Sprintf("Classified the request as %s; no registered tool applies.", intent.Type)
	}
	ids := make([]string, len(calls))
	for i, call := range calls {
		ids[i] = call.ToolID
	}
	return fmt.Sprintf("Classified the request as %s; selected %d tool(s): %s.",
		intent.Type, len(calls), strings.Join(ids, ", "))
}

// alternatives derives up to two reduced plans: the top-2 subset by
// priority, and the single best call. Alternatives are scored at a fixed
// fraction of the primary confidence and carry no further alternatives.
func (p *Planner) alternatives(plan *models.ExecutionPlan) []*models.ExecutionPlan {
	if len(plan.ToolCalls) < 2 {
		return nil
	}
	ranked := append([]models.PlannedToolCall(nil), plan.ToolCalls...)
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Priority > ranked[j-1].Priority; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	var alts []*models.ExecutionPlan
	if len(plan.ToolCalls) > 2 {
		alts = append(alts, &models.ExecutionPlan{
			ToolCalls:  trimDependencies(ranked[:2]),
			Reasoning:  "Reduced plan using the two highest-priority tools.",
			Confidence: plan.Confidence * p.weights.AlternativeScale,
		})
	}
	alts = append(alts, &models.ExecutionPlan{
		ToolCalls:  trimDependencies(ranked[:1]),
		Reasoning:  "Minimal plan using the single highest-priority tool.",
		Confidence: plan.Confidence * p.weights.AlternativeScale,
	})
	if len(alts) > 2 {
		alts = alts[:2]
	}
	return alts
}

// trimDependencies copies calls and drops dependency references that do not
// survive in the subset, keeping the reduced plan self-contained.
func trimDependencies(calls []models.PlannedToolCall) []models.PlannedToolCall {
	present := make(map[string]bool, len(calls))
	for _, call := range calls {
		present[call.ID] = true
	}
	out := make([]models.PlannedToolCall, len(calls))
	for i, call := range calls {
		out[i] = call
		var deps []string
		for _, dep := range call.Dependencies {
			if present[dep] {
				deps = append(deps, dep)
			}
		}
		out[i].Dependencies = deps
	}
	return out
}
