package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
)

func newImportCommand(a *App) *cobra.Command {
	var (
		name          string
		output        string
		strict        bool
		allowUnpinned []string
	)
	cmd := &cobra.Command{
		Use:   "import [DOCKERFILE]",
		Short: "Convert an existing Dockerfile into a manifest",
		Long: `Convert an existing Dockerfile into a manifest. Instructions the manifest
cannot express are reported as warnings and left out. OS packages installed
without a version are only exempted from pinning when named with
--allow-unpinned.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Path(a.cfg.Dockerfile)
			if len(args) == 1 {
				path = args[0]
			}
			f, err := buildfile.ParseFile(cmd.Context(), path, &buildfile.ParseOptions{Filesystem: a.FS})
			if err != nil {
				return err
			}
			m, warnings, err := f.Manifest(name, buildfile.WithAllowUnpinned(allowUnpinned...))
			for _, w := range warnings {
				color.New(color.FgYellow).Fprintf(a.Stderr, "warning: %s\n", w)
			}
			if err != nil {
				return err
			}
			if strict {
				if err := m.Validate(); err != nil {
					return err
				}
			}
			data, err := m.Marshal()
			if err != nil {
				return err
			}
			return a.emit(output, data)
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "environment name recorded in the manifest")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail unless every pin in the result is exact")
	cmd.Flags().StringSliceVar(&allowUnpinned, "allow-unpinned", nil, "OS packages to record as exempt from exact pinning")
	return cmd
}
