package lint

import (
	"sort"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
)

// Linter runs a set of rules over build scripts.
type Linter struct {
	rules    []Rule
	disabled map[string]bool
}

// New creates a Linter with the given rules.
func New(rules ...Rule) *Linter {
	return &Linter{
		rules:    rules,
		disabled: make(map[string]bool),
	}
}

// Disable turns off the named rules.
func (l *Linter) Disable(names ...string) *Linter {
	for _, n := range names {
		l.disabled[n] = true
	}
	return l
}

// Rules returns the enabled rules in registration order.
func (l *Linter) Rules() []Rule {
	out := make([]Rule, 0, len(l.rules))
	for _, r := range l.rules {
		if !l.disabled[r.Name()] {
			out = append(out, r)
		}
	}
	return out
}

// Lint checks f against every enabled rule and returns the issues sorted
// by location.
func (l *Linter) Lint(f *buildfile.File) []Issue {
	ctx := NewContext(f)
	var issues []Issue
	for _, r := range l.Rules() {
		issues = append(issues, r.Check(ctx)...)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		return compareIssuesByLocation(issues[i], issues[j])
	})
	return issues
}

// compareIssuesByLocation orders issues without a location first, then by
// file, line, column and rule name.
func compareIssuesByLocation(a, b Issue) bool {
	if a.Location == nil && b.Location == nil {
		return a.Rule < b.Rule
	}
	if a.Location == nil {
		return true
	}
	if b.Location == nil {
		return false
	}
	if a.Location.File != b.Location.File {
		return a.Location.File < b.Location.File
	}
	if a.Location.StartLine != b.Location.StartLine {
		return a.Location.StartLine < b.Location.StartLine
	}
	if a.Location.StartColumn != b.Location.StartColumn {
		return a.Location.StartColumn < b.Location.StartColumn
	}
	return a.Rule < b.Rule
}
