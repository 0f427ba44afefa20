package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newVersionCommand(a *App) *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// The version is printed even when the configuration is broken.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if short {
				a.printf("%s\n", a.Version)
				return
			}
			a.printf("%s %s\n", color.GreenString("envbuild"), a.Version)
			if a.Commit != "" {
				a.printf("Commit: %s\n", a.Commit)
			}
			if a.Date != "" {
				a.printf("Built: %s\n", a.Date)
			}
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "show only the version number")
	return cmd
}
