package models

import (
	"time"
)

// Verbosity controls how much detail the assistant includes in summaries.
type Verbosity string

const (
	VerbosityMinimal Verbosity = "minimal"
	VerbosityNormal  Verbosity = "normal"
	VerbosityVerbose Verbosity = "verbose"
)

// SafetyLevel selects a security policy preset for a conversation.
type SafetyLevel string

const (
	SafetyLow     SafetyLevel = "low"
	SafetyMedium  SafetyLevel = "medium"
	SafetyHigh    SafetyLevel = "high"
	SafetyMaximum SafetyLevel = "maximum"
)

// Preferences configure per-conversation planning and execution behaviour.
type Preferences struct {
	// AutoExecute runs planned tool calls immediately. When false the
	// assistant replies with a plan summary instead.
	AutoExecute bool `json:"auto_execute"`

	// MaxToolCalls caps the number of tool calls per turn.
	MaxToolCalls int `json:"max_tool_calls"`

	// AllowedCategories restricts which tool categories the planner may use.
	AllowedCategories []string `json:"allowed_categories,omitempty"`

	// Verbosity controls summary detail.
	Verbosity Verbosity `json:"verbosity"`

	// SafetyLevel selects the security policy preset.
	SafetyLevel SafetyLevel `json:"safety_level"`

	// PreferredTools bias candidate selection toward specific tool ids.
	PreferredTools []string `json:"preferred_tools,omitempty"`
}

// DefaultPreferences returns the preferences applied when a conversation is
// created without explicit overrides.
func DefaultPreferences() Preferences {
	return Preferences{
		AutoExecute:       true,
		MaxToolCalls:      3,
		AllowedCategories: []string{"knowledge", "search", "utility", "ai"},
		Verbosity:         VerbosityNormal,
		SafetyLevel:       SafetyMedium,
		PreferredTools:    []string{},
	}
}

// Conversation is a stateful dialogue: an append-only message log plus a
// mutable context map. The orchestrator owns all Conversation state.
type Conversation struct {
	ID             string         `json:"id"`
	Preferences    Preferences    `json:"preferences"`
	Messages       []Message      `json:"messages"`
	Context        map[string]any `json:"context"`
	ActiveTools    []string       `json:"active_tools,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// Touch advances LastActivityAt, keeping it strictly monotonic even when the
// clock does not move between calls.
func (c *Conversation) Touch(now time.Time) {
	if !now.After(c.LastActivityAt) {
		now = c.LastActivityAt.Add(time.Nanosecond)
	}
	c.LastActivityAt = now
}
