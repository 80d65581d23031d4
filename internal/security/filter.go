package security

import (
	"regexp"

	"github.com/haasonsaas/conduit/pkg/models"
)

// FilterCategory groups content filters by what they detect.
type FilterCategory string

const (
	FilterPII           FilterCategory = "pii"
	FilterMalicious     FilterCategory = "malicious"
	FilterInappropriate FilterCategory = "inappropriate"
)

// Filter is one named regex rule. A non-empty Replacement redacts matches
// in place; rules without a replacement only flag.
type Filter struct {
	Name        string
	Pattern     *regexp.Regexp
	Severity    models.Severity
	Category    FilterCategory
	Replacement string
}

// RedactionMarker replaces blocked payloads that have no per-rule
// replacement.
const RedactionMarker = "[REDACTED]"

// defaultFilters are initialised once at process start and treated as
// read-only. Order matters: redactions apply in sequence.
var defaultFilters = []Filter{
	{
		Name:        "credit_card",
		Pattern:     regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
		Severity:    models.SeverityHigh,
		Category:    FilterPII,
		Replacement: "[REDACTED_CREDIT_CARD]",
	},
	{
		Name:        "ssn",
		Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Severity:    models.SeverityHigh,
		Category:    FilterPII,
		Replacement: "[REDACTED_SSN]",
	},
	{
		Name:        "email",
		Pattern:     regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		Severity:    models.SeverityMedium,
		Category:    FilterPII,
		Replacement: "[REDACTED_EMAIL]",
	},
	{
		Name:        "phone",
		Pattern:     regexp.MustCompile(`\b\d{3}-\d{3}-\d{4}\b|\(\d{3}\)\s?\d{3}-\d{4}`),
		Severity:    models.SeverityMedium,
		Category:    FilterPII,
		Replacement: "[REDACTED_PHONE]",
	},
	{
		Name:     "sql_injection",
		Pattern:  regexp.MustCompile(`(\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER)\b.*\b(FROM|INTO|SET|WHERE|TABLE)\b)`),
		Severity: models.SeverityHigh,
		Category: FilterMalicious,
	},
	{
		// RE2 has no lookahead; a lazy match over the tag body is
		// equivalent for well-formed script blocks.
		Name:     "xss",
		Pattern:  regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`),
		Severity: models.SeverityHigh,
		Category: FilterMalicious,
	},
	{
		Name:     "shell_injection",
		Pattern:  regexp.MustCompile("[;&|`$]\\s*(?:rm|curl|wget|nc|sh|bash)\\b"),
		Severity: models.SeverityHigh,
		Category: FilterMalicious,
	},
}

// Violation records one filter hit.
type Violation struct {
	Filter   string          `json:"filter"`
	Severity models.Severity `json:"severity"`
	Category FilterCategory  `json:"category"`
	Match    string          `json:"match"`
}

// ScanResult is the outcome of scanning one text payload.
type ScanResult struct {
	Violations []Violation `json:"violations,omitempty"`

	// Filtered is the input with every redacting rule applied.
	Filtered string `json:"filtered"`

	// Blocked is true when any violation has severity high or above.
	Blocked bool `json:"blocked"`
}

// ContentFilter scans text against an ordered rule set.
type ContentFilter struct {
	filters []Filter
}

// NewContentFilter creates a filter with the default rule set.
func NewContentFilter() *ContentFilter {
	return &ContentFilter{filters: defaultFilters}
}

// NewContentFilterWith creates a filter with custom rules appended after the
// defaults.
func NewContentFilterWith(extra ...Filter) *ContentFilter {
	filters := make([]Filter, 0, len(defaultFilters)+len(extra))
	filters = append(filters, defaultFilters...)
	filters = append(filters, extra...)
	return &ContentFilter{filters: filters}
}

// Scan checks text against every rule in order, redacting matches for rules
// that carry a replacement.
func (f *ContentFilter) Scan(text string) ScanResult {
	result := ScanResult{Filtered: text}
	for _, rule := range f.filters {
		matches := rule.Pattern.FindAllString(result.Filtered, -1)
		if len(matches) == 0 {
			continue
		}
		for _, m := range matches {
			result.Violations = append(result.Violations, Violation{
				Filter:   rule.Name,
				Severity: rule.Severity,
				Category: rule.Category,
				Match:    m,
			})
		}
		if rule.Severity.Rank() >= models.SeverityHigh.Rank() {
			result.Blocked = true
		}
		if rule.Replacement != "" {
			result.Filtered = rule.Pattern.ReplaceAllString(result.Filtered, rule.Replacement)
		}
	}
	return result
}
