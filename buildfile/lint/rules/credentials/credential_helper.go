// Package credentials provides rules about build arguments and the
// credential helper used to fetch source packages.
package credentials

import (
	"fmt"
	"path"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
)

// CredentialHelperRule requires a credential helper and the git credential
// arguments to be in place before any source package is installed.
type CredentialHelperRule struct{}

// NewCredentialHelperRule creates the rule.
func NewCredentialHelperRule() *CredentialHelperRule {
	return &CredentialHelperRule{}
}

// Name returns the unique identifier for this rule.
func (r *CredentialHelperRule) Name() string {
	return "credential-helper"
}

// Description returns a human-readable description of what this rule checks.
func (r *CredentialHelperRule) Description() string {
	return "Requires the askpass helper and git credential arguments before source packages are installed"
}

// Check reports the first source install that lacks a helper or arguments,
// and secret arguments that carry a default value.
func (r *CredentialHelperRule) Check(ctx *lint.Context) []lint.Issue {
	var issues []lint.Issue

	_ = ctx.WalkCommands(func(cmdCtx *lint.Context) error {
		if cmdCtx.Command.Type == buildfile.CommandTypeArg {
			issues = append(issues, r.checkSecretDefault(cmdCtx.Command)...)
		}
		return nil
	})

	installs := lint.Installs(ctx)
	_ = ctx.WalkCommands(func(cmdCtx *lint.Context) error {
		if !installsSource(installs[cmdCtx.Index]) {
			return nil
		}
		issues = append(issues, r.checkPrerequisites(cmdCtx)...)
		return fmt.Errorf("found") // Stop walking
	})
	return issues
}

func installsSource(installs []buildfile.Install) bool {
	for _, in := range installs {
		for _, p := range in.Packages {
			if strings.Contains(p, "git+") {
				return true
			}
		}
	}
	return false
}

func (r *CredentialHelperRule) checkPrerequisites(ctx *lint.Context) []lint.Issue {
	var (
		helper bool
		args   = make(map[string]bool)
	)
	for _, cmd := range ctx.Preceding() {
		switch cmd.Type {
		case buildfile.CommandTypeCopy, buildfile.CommandTypeAdd:
			for _, src := range sources(cmd) {
				if strings.Contains(path.Base(src), "askpass") {
					helper = true
				}
			}
		case buildfile.CommandTypeArg:
			for _, name := range declaredNames(cmd) {
				args[name] = true
			}
		}
	}

	var issues []lint.Issue
	loc := ctx.Command.SourceLocation()
	if !helper {
		issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
			"source package installed before an askpass credential helper is copied into the image", loc))
	}
	for _, name := range []string{manifest.ArgGitAskpass, manifest.ArgGitAccessToken} {
		if !args[name] {
			issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
				fmt.Sprintf("source package installed without declaring ARG %s", name), loc).
				WithContext("arg", name))
		}
	}
	return issues
}

func (r *CredentialHelperRule) checkSecretDefault(cmd *buildfile.Command) []lint.Issue {
	var issues []lint.Issue
	for _, kv := range cmd.Assignments() {
		name, def := kv[0], kv[1]
		if def == "" || !isSecretName(name) {
			continue
		}
		issues = append(issues, lint.NewIssue(r.Name(), lint.SeverityError,
			fmt.Sprintf("secret argument %s must not have a default value", name),
			cmd.SourceLocation()).WithContext("arg", name))
	}
	return issues
}

// sources returns the source operands of a COPY or ADD.
func sources(cmd *buildfile.Command) []string {
	args := cmd.GetPositionalArgs()
	if len(args) < 2 {
		return nil
	}
	return args[:len(args)-1]
}

// declaredNames returns the argument names declared by an ARG instruction.
func declaredNames(cmd *buildfile.Command) []string {
	var names []string
	for _, kv := range cmd.Assignments() {
		if argNameRe.MatchString(kv[0]) {
			names = append(names, kv[0])
		}
	}
	return names
}

func isSecretName(name string) bool {
	upper := strings.ToUpper(name)
	for _, marker := range []string{"TOKEN", "PASSWORD", "SECRET"} {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}
