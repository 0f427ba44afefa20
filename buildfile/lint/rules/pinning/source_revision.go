package pinning

import (
	"fmt"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// NewSourceRevisionRule creates the source-revision rule: packages fetched
// from a repository must name a full commit, never a branch or tag.
//
//nolint:ireturn // Builder functions should return interfaces
func NewSourceRevisionRule() lint.Rule {
	return lint.CommandRule(
		"source-revision",
		"Requires source packages to be pinned to a full commit",
		buildfile.CommandTypeRun,
		checkSourceRevision,
	)
}

func checkSourceRevision(_ *lint.Context, cmd *buildfile.Command) []lint.Issue {
	installs, _, err := cmd.Installs()
	if err != nil {
		return nil
	}
	var issues []lint.Issue
	for _, in := range installs {
		for _, p := range in.Packages {
			if !strings.Contains(p, "git+") {
				continue
			}
			if _, err := pin.ParseSource(p); err != nil {
				issues = append(issues, lint.NewIssue("source-revision", lint.SeverityError,
					fmt.Sprintf("source package %q must be pinned to a full commit", p),
					cmd.SourceLocation()).WithContext("error", err.Error()))
			}
		}
	}
	return issues
}
