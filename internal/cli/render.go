package cli

import (
	"github.com/spf13/cobra"
)

func newRenderCommand(a *App) *cobra.Command {
	var (
		path   string
		output string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render the manifest as a Dockerfile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.loadManifest(path)
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			out, err := m.Dockerfile()
			if err != nil {
				return err
			}
			return a.emit(output, []byte(out))
		},
	}
	cmd.Flags().StringVarP(&path, "manifest", "m", "", "manifest path (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	return cmd
}

// emit writes data to path, or to stdout when path is empty or "-".
func (a *App) emit(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := a.Stdout.Write(data)
		return err
	}
	if err := a.FS.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	a.logger.Info("wrote file", "path", path)
	return nil
}
