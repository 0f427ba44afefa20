package cli

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// watchDebounce collapses the bursts of events editors emit on save.
const watchDebounce = 200 * time.Millisecond

func newValidateCommand(a *App) *cobra.Command {
	var (
		path  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest against its schema and pinning rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = a.cfg.ManifestPath()
			}
			if !watch {
				return validateManifest(a, path)
			}
			return watchFiles(cmd.Context(), a, []string{path}, func() {
				// Errors are printed and the watch continues.
				if err := validateManifest(a, path); err != nil {
					color.New(color.FgRed).Fprintln(a.Stdout, err)
				}
			})
		},
	}
	cmd.Flags().StringVarP(&path, "manifest", "m", "", "manifest path (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "revalidate whenever the manifest changes")
	return cmd
}

func validateManifest(a *App, path string) error {
	m, err := a.loadManifest(path)
	if err != nil {
		return err
	}
	problems := m.Problems()
	if len(problems) == 0 {
		a.printf("%s %s is valid\n", color.GreenString("✓"), path)
		return nil
	}
	for _, p := range problems {
		a.printf("%s %s\n", color.RedString("✗"), p)
	}
	return errors.Newf(errors.CodeInvalidInput, "%s has %d problem(s)", path, len(problems))
}

// watchFiles calls fn once, then again after every change to one of
// paths, until ctx is done. Directories are watched rather than the files
// themselves so that editors replacing the file on save are still seen.
func watchFiles(ctx context.Context, a *App, paths []string, fn func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to start file watcher")
	}
	defer w.Close()

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInvalidInput, "resolving %s", p)
		}
		wanted[abs] = true
		if err := w.Add(filepath.Dir(abs)); err != nil {
			return errors.Wrapf(err, errors.CodeInvalidInput, "watching %s", p)
		}
	}

	fn()
	a.logger.Info("watching for changes", "files", paths)

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !wanted[filepath.Clean(ev.Name)] {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", "error", err)
		case <-timer:
			timer = nil
			fn()
		}
	}
}
