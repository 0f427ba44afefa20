package credentials

import (
	"fmt"
	"regexp"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
)

var (
	argNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	argRefRe  = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)`)
)

// DeclaredArgsRule requires variables referenced by instructions to be
// declared first. Arguments declared before FROM are only visible to FROM.
// RUN is not checked since its variables belong to the shell.
type DeclaredArgsRule struct{}

// NewDeclaredArgsRule creates the rule.
func NewDeclaredArgsRule() *DeclaredArgsRule {
	return &DeclaredArgsRule{}
}

// Name returns the unique identifier for this rule.
func (r *DeclaredArgsRule) Name() string {
	return "declared-args"
}

// Description returns a human-readable description of what this rule checks.
func (r *DeclaredArgsRule) Description() string {
	return "Requires referenced build arguments to be declared before use"
}

// Check walks the instructions in order tracking declared names.
func (r *DeclaredArgsRule) Check(ctx *lint.Context) []lint.Issue {
	var (
		issues   []lint.Issue
		preFrom  = make(map[string]bool)
		inStage  = make(map[string]bool)
		seenFrom bool
	)

	_ = ctx.WalkCommands(func(cmdCtx *lint.Context) error {
		cmd := cmdCtx.Command
		switch cmd.Type {
		case buildfile.CommandTypeArg:
			scope := inStage
			if !seenFrom {
				scope = preFrom
			}
			for _, name := range declaredNames(cmd) {
				scope[name] = true
			}
			return nil
		case buildfile.CommandTypeFrom:
			issues = append(issues, r.undeclared(cmd, preFrom, lint.SeverityError)...)
			seenFrom = true
			return nil
		case buildfile.CommandTypeRun:
			return nil
		}

		issues = append(issues, r.undeclared(cmd, inStage, lint.SeverityWarning)...)
		if cmd.Type == buildfile.CommandTypeEnv {
			for _, name := range declaredNames(cmd) {
				inStage[name] = true
			}
		}
		return nil
	})
	return issues
}

func (r *DeclaredArgsRule) undeclared(cmd *buildfile.Command, declared map[string]bool, sev lint.Severity) []lint.Issue {
	var issues []lint.Issue
	reported := make(map[string]bool)
	for _, arg := range cmd.Args {
		for _, m := range argRefRe.FindAllStringSubmatch(arg, -1) {
			name := m[1]
			if declared[name] || reported[name] {
				continue
			}
			reported[name] = true
			issues = append(issues, lint.NewIssue(r.Name(), sev,
				fmt.Sprintf("%s references undeclared argument %s", cmd.Name, name),
				cmd.SourceLocation()).WithContext("arg", name))
		}
	}
	return issues
}
