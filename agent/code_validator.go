package agent

import (
	"regexp"
	"strings"
)

// CodeValidator statically screens snippets before they reach the sandbox.
// The sandbox itself strips builtins, but rejecting obvious violations here
// avoids spawning a worker process at all.
type CodeValidator struct {
	forbiddenPatterns []forbiddenPattern
	maxCodeLength     int
}

type forbiddenPattern struct {
	re     *regexp.Regexp
	reason string
}

// ValidationResult represents the result of code validation
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// NewCodeValidator creates a new code validator with default settings
func NewCodeValidator() *CodeValidator {
	patterns := []struct {
		expr   string
		reason string
	}{
		// The sandbox preloads everything the snippet may use; imports of any
		// kind are disallowed names.
		{`(?m)^\s*import\s+\w`, "disallowed name: import"},
		{`(?m)^\s*from\s+\w+\s+import`, "disallowed name: import"},
		{`__import__\s*\(`, "disallowed name: __import__"},
		// Code execution escape hatches.
		{`\beval\s*\(`, "disallowed name: eval"},
		{`\bexec\s*\(`, "disallowed name: exec"},
		{`\bcompile\s*\(`, "disallowed name: compile"},
		// Filesystem and process access.
		{`\bopen\s*\(`, "disallowed name: open"},
		{`\bos\.`, "disallowed name: os"},
		{`\bsys\.`, "disallowed name: sys"},
		{`subprocess\.`, "disallowed name: subprocess"},
		{`\.to_csv\s*\(`, "disallowed name: to_csv"},
		{`\.to_excel\s*\(`, "disallowed name: to_excel"},
		{`\.to_pickle\s*\(`, "disallowed name: to_pickle"},
		// Attribute-walk escapes via dunders.
		{`__\w+__`, "disallowed name: double-underscore attribute"},
		// Interpreter state.
		{`\bglobals\s*\(`, "disallowed name: globals"},
		{`\blocals\s*\(`, "disallowed name: locals"},
		{`\bvars\s*\(`, "disallowed name: vars"},
		{`\bgetattr\s*\(`, "disallowed name: getattr"},
		{`\bsetattr\s*\(`, "disallowed name: setattr"},
		{`\bdelattr\s*\(`, "disallowed name: delattr"},
		{`\binput\s*\(`, "disallowed name: input"},
		{`\bbreakpoint\s*\(`, "disallowed name: breakpoint"},
	}

	compiled := make([]forbiddenPattern, len(patterns))
	for i, p := range patterns {
		compiled[i] = forbiddenPattern{re: regexp.MustCompile(p.expr), reason: p.reason}
	}

	return &CodeValidator{
		forbiddenPatterns: compiled,
		maxCodeLength:     50000, // 50KB max
	}
}

// ValidateCode checks a snippet against the deny list
func (v *CodeValidator) ValidateCode(code string) *ValidationResult {
	result := &ValidationResult{
		Valid:  true,
		Errors: []string{},
	}

	if strings.TrimSpace(code) == "" {
		result.Valid = false
		result.Errors = append(result.Errors, "code is empty")
		return result
	}

	if len(code) > v.maxCodeLength {
		result.Valid = false
		result.Errors = append(result.Errors, "code length exceeds limit")
		return result
	}

	for _, pattern := range v.forbiddenPatterns {
		if pattern.re.MatchString(code) {
			result.Valid = false
			result.Errors = append(result.Errors, pattern.reason)
		}
	}

	return result
}

// SetMaxCodeLength sets the maximum allowed code length
func (v *CodeValidator) SetMaxCodeLength(length int) {
	v.maxCodeLength = length
}

// AddForbiddenPattern adds a pattern to the deny list
func (v *CodeValidator) AddForbiddenPattern(expr, reason string) {
	v.forbiddenPatterns = append(v.forbiddenPatterns, forbiddenPattern{
		re:     regexp.MustCompile(expr),
		reason: reason,
	})
}
