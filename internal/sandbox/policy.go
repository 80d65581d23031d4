package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/conduit/pkg/errcode"
)

// SecurityPolicy is consulted before any code runs. A violation fails the
// execution with POLICY_VIOLATION without evaluating the snippet.
type SecurityPolicy struct {
	// AllowUnsafeEval permits reflective evaluation primitives in snippets.
	AllowUnsafeEval bool `yaml:"allow_unsafe_eval"`

	// AllowExternalRequests permits network-capable imports where the
	// environment kind would otherwise allow them.
	AllowExternalRequests bool `yaml:"allow_external_requests"`

	// MaxCodeLength caps the snippet size in bytes. Zero means no cap.
	MaxCodeLength int `yaml:"max_code_length"`

	// BlockedPatterns are regexes rejected anywhere in the snippet.
	BlockedPatterns []string `yaml:"blocked_patterns,omitempty"`

	// AllowedModules, when non-empty, further restricts imports to this
	// list on top of the environment kind's whitelist.
	AllowedModules []string `yaml:"allowed_modules,omitempty"`
}

// unsafeEvalPatterns flag reflective or self-modifying constructs.
var unsafeEvalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\breflect\.`),
	regexp.MustCompile(`\bunsafe\.`),
}

// Check validates a snippet against the policy.
func (p SecurityPolicy) Check(code string) error {
	if p.MaxCodeLength > 0 && len(code) > p.MaxCodeLength {
		return errcode.Newf(errcode.PolicyViolation,
			"code length %d exceeds limit %d", len(code), p.MaxCodeLength)
	}
	if !p.AllowUnsafeEval {
		for _, re := range unsafeEvalPatterns {
			if re.MatchString(code) {
				return errcode.Newf(errcode.PolicyViolation,
					"unsafe evaluation construct %q is not allowed", re.String())
			}
		}
	}
	for _, pattern := range p.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return errcode.Wrap(errcode.PolicyViolation,
				fmt.Sprintf("invalid blocked pattern %q", pattern), err)
		}
		if re.MatchString(code) {
			return errcode.Newf(errcode.PolicyViolation,
				"code matches blocked pattern %q", pattern)
		}
	}
	return nil
}

// moduleAllowed reports whether an import passes the policy's module list.
// An empty list delegates entirely to the environment kind.
func (p SecurityPolicy) moduleAllowed(pkg string) bool {
	if len(p.AllowedModules) == 0 {
		return true
	}
	for _, m := range p.AllowedModules {
		if pkg == m || strings.HasPrefix(pkg, m+"/") {
			return true
		}
	}
	return false
}
