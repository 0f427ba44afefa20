// Package pinning provides rules that enforce exact package pins.
package pinning

import (
	"fmt"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// ExactPinRule requires every installed package to name a single version.
// OS packages listed as allowed may be installed unpinned.
type ExactPinRule struct {
	allowUnpinned map[string]bool
}

// NewExactPinRule creates the rule. allowUnpinned names OS packages that
// are exempt, typically build prerequisites such as build-essential.
func NewExactPinRule(allowUnpinned ...string) *ExactPinRule {
	allow := make(map[string]bool, len(allowUnpinned))
	for _, name := range allowUnpinned {
		allow[strings.ToLower(name)] = true
	}
	return &ExactPinRule{allowUnpinned: allow}
}

// Name returns the unique identifier for this rule.
func (r *ExactPinRule) Name() string {
	return "exact-pin"
}

// Description returns a human-readable description of what this rule checks.
func (r *ExactPinRule) Description() string {
	return "Requires every installed package to be pinned to an exact version"
}

// Check reports unpinned or range-pinned packages and requirements files.
func (r *ExactPinRule) Check(ctx *lint.Context) []lint.Issue {
	var issues []lint.Issue
	installs := lint.Installs(ctx)

	for i, cmd := range ctx.File.Commands() {
		for _, in := range installs[i] {
			if in.Installer == buildfile.InstallerApt {
				issues = append(issues, r.checkOS(cmd, in.Packages)...)
				continue
			}
			for _, file := range in.RequirementFiles {
				issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityWarning,
					fmt.Sprintf("requirements file %s cannot be checked for exact pins", file),
					cmd.SourceLocation()))
			}
			for _, p := range in.Packages {
				if strings.Contains(p, "git+") {
					continue
				}
				if _, err := pin.ParseRequirement(p); err != nil {
					issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
						fmt.Sprintf("package %q is not pinned to an exact version", p),
						cmd.SourceLocation()).WithContext("package", p).WithContext("error", err.Error()))
				}
			}
		}
	}
	return issues
}

func (r *ExactPinRule) checkOS(cmd *buildfile.Command, packages []string) []lint.Issue {
	var issues []lint.Issue
	for _, p := range packages {
		spec, err := pin.ParseOS(p)
		if err != nil {
			issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
				fmt.Sprintf("invalid OS package %q", p), cmd.SourceLocation()).WithContext("error", err.Error()))
			continue
		}
		if !spec.Pinned() && !r.allowUnpinned[spec.Key()] {
			issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
				fmt.Sprintf("OS package %s is not pinned; use %s=<version>", p, p),
				cmd.SourceLocation()).WithContext("package", p))
		}
	}
	return issues
}
