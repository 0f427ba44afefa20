package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

func newVerifyCommand(a *App) *cobra.Command {
	var (
		path    string
		image   string
		lock    string
		backend string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that installed packages match the manifest pins",
		Long: `Check that every package declared in the manifest is installed at exactly its
pinned version. By default the lockfile is checked; with --image the image is
inspected through the configured backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := a.loadManifest(path)
			if err != nil {
				return err
			}

			var inv *inventory.Inventory
			if image != "" {
				if backend != "" {
					a.cfg.Backend = backend
				}
				be, closeBackend, err := a.NewBackend(ctx, a.cfg, a)
				if err != nil {
					return err
				}
				defer func() { _ = closeBackend() }()

				b := builder.New(be, append([]builder.Option{builder.WithLogger(a.logger)}, a.BuilderOptions...)...)
				inv, err = b.Inspect(ctx, m, &builder.Image{Ref: image, ID: image, Backend: be.Name()})
				if err != nil {
					return err
				}
			} else {
				if lock == "" {
					lock = a.cfg.LockfilePath()
				}
				l, err := lockfile.Read(a.FS, lock)
				if err != nil {
					return err
				}
				inv = l.Inventory()
			}

			report, err := verify.Pins(m, inv)
			if err != nil {
				return err
			}
			a.printReport(report)
			return report.Err()
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&path, "manifest", "m", "", "manifest path (default from config)")
	fl.StringVar(&image, "image", "", "inspect this image instead of reading the lockfile")
	fl.StringVar(&lock, "lockfile", "", "lockfile path (default from config)")
	fl.StringVar(&backend, "backend", "", "backend used to inspect --image")
	return cmd
}

func (a *App) printReport(r verify.Report) {
	if r.OK() {
		a.printf("%s %s\n", color.GreenString("✓"), r)
		return
	}
	a.printf("%s %s\n", color.RedString("✗"), r)
}
