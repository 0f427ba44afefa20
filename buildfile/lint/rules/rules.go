// Package rules assembles the built-in lint rules.
package rules

import (
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint/rules/credentials"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint/rules/pinning"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint/rules/style"
)

// Options tune the built-in rules.
type Options struct {
	// AllowUnpinned names OS packages exempt from exact pinning.
	AllowUnpinned []string
	// MaxLineLength overrides the default line length limit.
	MaxLineLength int
}

// Default returns every built-in rule.
func Default(opts Options) []lint.Rule {
	return []lint.Rule{
		pinning.NewExactPinRule(opts.AllowUnpinned...),
		pinning.NewSourceRevisionRule(),
		credentials.NewCredentialHelperRule(),
		credentials.NewDeclaredArgsRule(),
		style.NewMaxLineLengthRule(opts.MaxLineLength),
	}
}

// NewLinter returns a linter running the built-in rules.
func NewLinter(opts Options) *lint.Linter {
	return lint.New(Default(opts)...)
}
