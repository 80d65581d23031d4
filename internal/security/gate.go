package security

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/haasonsaas/conduit/internal/audit"
	"github.com/haasonsaas/conduit/internal/ratelimit"
	"github.com/haasonsaas/conduit/pkg/errcode"
	"github.com/haasonsaas/conduit/pkg/models"
)

// Options configure the security gate.
type Options struct {
	RateLimit     ratelimit.Config
	AuditCapacity int
	Filter        *ContentFilter
	Logger        *slog.Logger
}

// Gate composes the rate limiter, content filter, resource monitor, and
// audit buffer. The orchestrator invokes it around every tool call and on
// every inbound message.
type Gate struct {
	limiter *ratelimit.Limiter
	filter  *ContentFilter
	monitor *ResourceMonitor
	buffer  *audit.Buffer
	logger  *slog.Logger
}

// NewGate creates a gate with the given options. Zero-value options get the
// package defaults.
func NewGate(opts Options) *Gate {
	if opts.RateLimit.Window == 0 && opts.RateLimit.MaxRequests == 0 {
		opts.RateLimit = ratelimit.DefaultConfig()
	} else {
		// A config that names explicit limits is enforced. Callers that
		// want limiting off use a Limiter with Enabled false directly.
		opts.RateLimit.Enabled = true
	}
	if opts.Filter == nil {
		opts.Filter = NewContentFilter()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		limiter: ratelimit.NewLimiter(opts.RateLimit),
		filter:  opts.Filter,
		monitor: NewResourceMonitor(),
		buffer:  audit.NewBuffer(audit.Config{Capacity: opts.AuditCapacity, Logger: logger}),
		logger:  logger,
	}
}

// Audit exposes the gate's audit buffer for queries.
func (g *Gate) Audit() *audit.Buffer { return g.buffer }

// Monitor exposes the resource monitor for usage recording.
func (g *Gate) Monitor() *ResourceMonitor { return g.monitor }

// InputCheck is the outcome of screening an inbound user message.
type InputCheck struct {
	Allowed bool

	// Code is set on denial (RATE_LIMITED).
	Code errcode.Code

	// Content is the message with redactions applied. Valid even when the
	// message carried filtered content; the pipeline proceeds with it.
	Content string

	Violations []Violation
}

// CheckInput rate-limits the principal and scans the message content.
// Filtered content replaces the original before the message is appended, so
// the planner and tools never see the raw payload.
func (g *Gate) CheckInput(principal, conversationID, content string, policy Policy) InputCheck {
	if !g.limiter.Allow(principal) {
		g.record(policy, models.SecurityEvent{
			Kind:           models.SecurityRateLimit,
			Severity:       models.SeverityMedium,
			Principal:      principal,
			ConversationID: conversationID,
			Details:        map[string]any{"reason": "request rate exceeded"},
		})
		return InputCheck{Allowed: false, Code: errcode.RateLimited, Content: content}
	}

	check := InputCheck{Allowed: true, Content: content}
	if !policy.ContentFiltering {
		return check
	}

	scan := g.filter.Scan(content)
	check.Content = scan.Filtered
	check.Violations = scan.Violations
	if len(scan.Violations) > 0 {
		g.record(policy, models.SecurityEvent{
			Kind:           models.SecurityContentFilter,
			Severity:       maxSeverity(scan.Violations),
			Principal:      principal,
			ConversationID: conversationID,
			Details: map[string]any{
				"violations": len(scan.Violations),
				"filters":    filterNames(scan.Violations),
			},
		})
	}
	return check
}

// PreCheck is the outcome of screening one planned tool call.
type PreCheck struct {
	Allowed            bool
	Code               errcode.Code
	Violations         []string
	FilteredParameters map[string]any
}

// PreCheckCall enforces the policy budget before a tool call runs: category
// allow/block lists, per-turn call budget, resource budget, and content
// filtering of string parameters.
func (g *Gate) PreCheckCall(principal, conversationID string, tool *models.ToolDefinition, params map[string]any, callsSoFar int, policy Policy) PreCheck {
	check := PreCheck{Allowed: true, FilteredParameters: params}

	if !policy.CategoryAllowed(tool.Category) {
		check.Allowed = false
		check.Code = errcode.PolicyViolation
		check.Violations = append(check.Violations,
			fmt.Sprintf("category %q is not allowed at safety level %s", tool.Category, policy.Level))
		g.record(policy, models.SecurityEvent{
			Kind:           models.SecurityPolicyViolation,
			Severity:       models.SeverityMedium,
			Principal:      principal,
			ConversationID: conversationID,
			Details:        map[string]any{"tool_id": tool.ID, "category": string(tool.Category)},
		})
		return check
	}

	if policy.MaxToolCalls > 0 && callsSoFar >= policy.MaxToolCalls {
		check.Allowed = false
		check.Code = errcode.PolicyViolation
		check.Violations = append(check.Violations,
			fmt.Sprintf("tool call budget %d exhausted", policy.MaxToolCalls))
		g.record(policy, models.SecurityEvent{
			Kind:           models.SecurityPolicyViolation,
			Severity:       models.SeverityMedium,
			Principal:      principal,
			ConversationID: conversationID,
			Details:        map[string]any{"tool_id": tool.ID, "reason": "call budget exhausted"},
		})
		return check
	}

	if policy.ResourceMonitor {
		if rc := g.monitor.Check(conversationID, policy); !rc.WithinLimits {
			check.Allowed = false
			check.Code = errcode.ResourceLimitExceeded
			check.Violations = append(check.Violations, rc.Violations...)
			g.record(policy, models.SecurityEvent{
				Kind:           models.SecurityResourceLimit,
				Severity:       models.SeverityHigh,
				Principal:      principal,
				ConversationID: conversationID,
				Details:        map[string]any{"tool_id": tool.ID, "violations": rc.Violations},
			})
			return check
		}
	}

	if policy.ContentFiltering {
		filtered, violations := g.scanParams(params)
		check.FilteredParameters = filtered
		for _, v := range violations {
			check.Violations = append(check.Violations, fmt.Sprintf("parameter matched filter %s", v.Filter))
		}
		if len(violations) > 0 {
			g.record(policy, models.SecurityEvent{
				Kind:           models.SecurityContentFilter,
				Severity:       maxSeverity(violations),
				Principal:      principal,
				ConversationID: conversationID,
				Details:        map[string]any{"tool_id": tool.ID, "filters": filterNames(violations)},
			})
		}
	}
	return check
}

// PostCheck is the outcome of screening a tool result.
type PostCheck struct {
	Allowed        bool
	Violations     []string
	FilteredResult *models.ToolExecutionResult
}

// PostCheckResult scans a tool result. Redactions are applied in place; a
// high-severity hit blocks the result and replaces its data with the
// redaction marker.
func (g *Gate) PostCheckResult(principal, conversationID, toolID string, result *models.ToolExecutionResult, policy Policy) PostCheck {
	check := PostCheck{Allowed: true, FilteredResult: result}
	if !policy.ContentFiltering || result == nil {
		return check
	}

	text, ok := result.Data.(string)
	if !ok {
		return check
	}
	scan := g.filter.Scan(text)
	if len(scan.Violations) == 0 {
		return check
	}

	for _, v := range scan.Violations {
		check.Violations = append(check.Violations, fmt.Sprintf("result matched filter %s", v.Filter))
	}
	filtered := *result
	if scan.Blocked {
		check.Allowed = false
		filtered.Data = RedactionMarker
	} else {
		filtered.Data = scan.Filtered
	}
	check.FilteredResult = &filtered

	g.record(policy, models.SecurityEvent{
		Kind:           models.SecurityContentFilter,
		Severity:       maxSeverity(scan.Violations),
		Principal:      principal,
		ConversationID: conversationID,
		Details:        map[string]any{"tool_id": toolID, "filters": filterNames(scan.Violations), "blocked": scan.Blocked},
	})
	return check
}

// EffectiveTimeout returns the tool's timeout clamped by the policy budget.
func EffectiveTimeout(tool *models.ToolDefinition, policy Policy) time.Duration {
	timeout := time.Duration(tool.Execution.TimeoutMs) * time.Millisecond
	if policy.MaxExecutionTime > 0 && (timeout <= 0 || policy.MaxExecutionTime < timeout) {
		return policy.MaxExecutionTime
	}
	return timeout
}

func (g *Gate) scanParams(params map[string]any) (map[string]any, []Violation) {
	var violations []Violation
	filtered := make(map[string]any, len(params))
	for key, value := range params {
		str, ok := value.(string)
		if !ok {
			filtered[key] = value
			continue
		}
		scan := g.filter.Scan(str)
		filtered[key] = scan.Filtered
		violations = append(violations, scan.Violations...)
	}
	return filtered, violations
}

func (g *Gate) record(policy Policy, event models.SecurityEvent) {
	if !policy.AuditLogging {
		return
	}
	g.buffer.Record(event)
}

func maxSeverity(violations []Violation) models.Severity {
	max := models.SeverityLow
	for _, v := range violations {
		if v.Severity.Rank() > max.Rank() {
			max = v.Severity
		}
	}
	return max
}

func filterNames(violations []Violation) []string {
	names := make([]string, 0, len(violations))
	seen := make(map[string]bool)
	for _, v := range violations {
		if !seen[v.Filter] {
			seen[v.Filter] = true
			names = append(names, v.Filter)
		}
	}
	return names
}
