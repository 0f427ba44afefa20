// Package lint provides a rule-based linter for environment build scripts.
// Rules check a parsed buildfile.File and report issues with source
// locations; a Linter runs a rule set and a Reporter renders the results.
package lint

// Rule defines the interface that all linting rules must implement.
type Rule interface {
	// Name returns a unique kebab-case identifier such as "exact-pin".
	Name() string

	// Description returns a human-readable description of what the rule checks.
	Description() string

	// Check examines the provided Context and returns any issues found.
	Check(ctx *Context) []Issue
}
