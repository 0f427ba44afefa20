// Package style provides formatting rules for build scripts.
package style

import (
	"fmt"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
)

// DefaultMaxLineLength is the default maximum line length for the rule.
const DefaultMaxLineLength = 120

// MaxLineLengthRule flags physical source lines longer than a maximum.
type MaxLineLengthRule struct {
	maxLength int
}

// NewMaxLineLengthRule creates a new max line length rule.
// If maxLength is 0 or negative, it uses the default value of 120.
func NewMaxLineLengthRule(maxLength int) *MaxLineLengthRule {
	if maxLength <= 0 {
		maxLength = DefaultMaxLineLength
	}
	return &MaxLineLengthRule{
		maxLength: maxLength,
	}
}

// Name returns the unique identifier for this rule.
func (r *MaxLineLengthRule) Name() string {
	return "max-line-length"
}

// Description returns a human-readable description of what this rule checks.
func (r *MaxLineLengthRule) Description() string {
	return fmt.Sprintf("Enforces maximum line length of %d characters", r.maxLength)
}

// Check reports every line over the limit.
func (r *MaxLineLengthRule) Check(ctx *lint.Context) []lint.Issue {
	if ctx.File == nil {
		return nil
	}
	var issues []lint.Issue
	for i, line := range ctx.File.Lines() {
		if len(line) <= r.maxLength {
			continue
		}
		loc := &lint.SourceLocation{
			File:      ctx.File.Name,
			StartLine: i + 1,
			EndLine:   i + 1,
			EndColumn: len(line),
		}
		issues = append(issues, lint.NewIssue(
			r.Name(),
			lint.SeverityInfo,
			fmt.Sprintf("line exceeds maximum length of %d characters (current: %d)", r.maxLength, len(line)),
			loc,
		).WithContext("line_length", len(line)))
	}
	return issues
}
