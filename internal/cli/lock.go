package cli

import (
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/aws/s3"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

func newLockCommand(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect and compare lockfiles",
	}
	cmd.AddCommand(newLockDiffCommand(a), newLockShowCommand(a), newLockPullCommand(a), newLockListCommand(a))
	return cmd
}

func newLockDiffCommand(a *App) *cobra.Command {
	var changed []string
	cmd := &cobra.Command{
		Use:   "diff OLD NEW",
		Short: "Compare the installed packages of two lockfiles",
		Long: `Compare the installed packages of two lockfiles. Without --changed any
difference fails, which is how a rebuild from identical inputs is checked.
With --changed, only packages other than the named ones must be unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			old, err := lockfile.Read(a.FS, args[0])
			if err != nil {
				return err
			}
			cur, err := lockfile.Read(a.FS, args[1])
			if err != nil {
				return err
			}

			var report verify.Report
			if len(changed) > 0 {
				report = verify.Isolation(old.Inventory(), cur.Inventory(), changed...)
			} else {
				report = lockfile.Diff(old, cur)
			}
			a.printReport(report)
			return report.Err()
		},
	}
	cmd.Flags().StringSliceVar(&changed, "changed", nil, "packages whose pins were deliberately changed")
	return cmd
}

func newLockShowCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show [LOCKFILE]",
		Short: "Print a lockfile summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.LockfilePath()
			if len(args) == 1 {
				path = args[0]
			}
			l, err := lockfile.Read(a.FS, path)
			if err != nil {
				return err
			}
			a.printf("build:    %s\n", l.BuildID)
			a.printf("built:    %s\n", l.BuiltAt.Format("2006-01-02 15:04:05Z07:00"))
			a.printf("manifest: %s\n", l.ManifestDigest)
			a.printf("base:     %s\n", l.BaseImage)
			if l.ImageID != "" {
				a.printf("image:    %s (%s)\n", l.ImageID, l.Backend)
			}
			for _, k := range l.MetadataKeys() {
				a.printf("param:    %s=%v\n", k, l.Metadata[k])
			}
			for _, p := range l.Packages {
				marker := " "
				if p.Declared {
					marker = "*"
				}
				a.printf("%s %s %s\n", marker, p.Name, p.Version)
			}
			return nil
		},
	}
}

func newLockPullCommand(a *App) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pull REF",
		Short: "Download a published lockfile from a registry or S3",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.pullLock(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				data, err := l.Marshal()
				if err != nil {
					return err
				}
				return a.emit("", data)
			}
			if err := a.writeLock(output, l); err != nil {
				return err
			}
			a.printf("wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the lockfile here instead of stdout")
	return cmd
}

func newLockListCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list s3://BUCKET/PREFIX",
		Short: "List lockfiles stored under an S3 prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := s3.ParseURI(args[0])
			if err != nil {
				return err
			}
			c, err := a.s3Client(cmd.Context())
			if err != nil {
				return err
			}
			found, err := c.ListLocks(cmd.Context(), loc)
			if err != nil {
				return err
			}
			for _, l := range found {
				a.printf("%s\n", l)
			}
			return nil
		},
	}
}
