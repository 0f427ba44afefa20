package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile/lint/rules"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

func newLintCommand(a *App) *cobra.Command {
	var (
		format        string
		disable       []string
		allowUnpinned []string
		maxLine       int
	)
	cmd := &cobra.Command{
		Use:   "lint [DOCKERFILE]",
		Short: "Check a Dockerfile for floating pins and credential mistakes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Path(a.cfg.Dockerfile)
			if len(args) == 1 {
				path = args[0]
			}
			fmtt, err := lint.ParseFormat(format)
			if err != nil {
				return errors.Wrap(err, errors.CodeInvalidInput, "invalid --format")
			}

			f, err := buildfile.ParseFile(cmd.Context(), path, &buildfile.ParseOptions{Filesystem: a.FS})
			if err != nil {
				return err
			}

			linter := rules.NewLinter(rules.Options{
				AllowUnpinned: allowUnpinned,
				MaxLineLength: maxLine,
			}).Disable(disable...)
			issues := linter.Lint(f)

			reporter := lint.NewReporter(a.Stdout, fmtt).WithColor(!color.NoColor)
			if err := reporter.Report(issues); err != nil {
				return err
			}
			if lint.HasErrors(issues) {
				return errors.Newf(errors.CodeInvalidInput, "%s failed lint", path)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&format, "format", "f", "text", "output format (text, json)")
	fl.StringSliceVar(&disable, "disable", nil, "rules to skip")
	fl.StringSliceVar(&allowUnpinned, "allow-unpinned", []string{"build-essential"}, "OS packages exempt from exact pinning")
	fl.IntVar(&maxLine, "max-line-length", 0, "line length limit (0 uses the default)")
	return cmd
}
