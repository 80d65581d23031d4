package models

// IntentType classifies a user query for candidate tool retrieval.
type IntentType string

const (
	IntentSearch      IntentType = "search"
	IntentCalculation IntentType = "calculation"
	IntentCode        IntentType = "code"
	IntentAPI         IntentType = "api"
	IntentGeneral     IntentType = "general"
)

// Intent is the planner's internal classification of a user query.
type Intent struct {
	Type       IntentType `json:"type"`
	Keywords   []string   `json:"keywords"`
	Entities   []string   `json:"entities,omitempty"`
	Complexity float64    `json:"complexity"`
}

// PlannedToolCall is one entry of an execution plan. Dependencies reference
// other entries of the same plan by id, so acyclicity is a property of id
// references rather than pointer graphs.
type PlannedToolCall struct {
	ID           string         `json:"id"`
	ToolID       string         `json:"tool_id"`
	Parameters   map[string]any `json:"parameters"`
	Priority     float64        `json:"priority"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// ExecutionPlan is an ordered, acyclic sequence of planned tool calls with a
// confidence score and optional alternatives. Alternatives never carry
// further alternatives.
type ExecutionPlan struct {
	ToolCalls    []PlannedToolCall `json:"tool_calls"`
	Reasoning    string            `json:"reasoning"`
	Confidence   float64           `json:"confidence"`
	Alternatives []*ExecutionPlan  `json:"alternatives,omitempty"`
}

// Empty reports whether the plan schedules no tool calls.
func (p *ExecutionPlan) Empty() bool {
	return p == nil || len(p.ToolCalls) == 0
}
