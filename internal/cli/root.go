package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// NewRootCommand assembles the envbuild command tree around a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "envbuild",
		Short: "Build and verify pinned analysis environments",
		Long: `envbuild provisions a container image from a declarative manifest of exact
package pins, records what was installed in a lockfile and checks that every
declared package was installed at exactly its pinned version.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "path to envbuild.yaml")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newBuildCommand(a),
		newValidateCommand(a),
		newLintCommand(a),
		newRenderCommand(a),
		newImportCommand(a),
		newVerifyCommand(a),
		newLockCommand(a),
		newPublishCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, a *App, args []string) int {
	root := NewRootCommand(a)
	root.SetArgs(args)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		reportError(a, err)
		return 1
	}
	return 0
}

// reportError prints err. Build failures also print the installer output
// exactly as the installer wrote it.
func reportError(a *App, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(a.Stderr, "Error: ")
	fmt.Fprintln(a.Stderr, err)

	var be *builder.BuildError
	if errors.As(err, &be) && be.Output != "" {
		fmt.Fprintln(a.Stderr)
		fmt.Fprint(a.Stderr, be.Output)
		if !strings.HasSuffix(be.Output, "\n") {
			fmt.Fprintln(a.Stderr)
		}
	}
}
