// Package cli implements the envbuild command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/aws/s3"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	clibackend "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder/cli"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder/dagger"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder/docker"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/config"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/oci"
)

// BackendFactory opens the build backend named in the configuration. The
// returned close function is called once the command finishes.
type BackendFactory func(ctx context.Context, cfg *config.Config, a *App) (builder.Backend, func() error, error)

// App holds the process-wide dependencies of every command. Tests replace
// the factories and streams.
type App struct {
	Stdout io.Writer
	Stderr io.Writer
	FS     fs.Filesystem
	// LookupEnv reads the process environment.
	LookupEnv func(string) (string, bool)

	NewBackend BackendFactory
	// OCIOptions are appended to every registry client.
	OCIOptions []oci.ClientOption
	// S3Options are appended to every S3 client.
	S3Options []s3.Option
	// BuilderOptions are appended to every builder.
	BuilderOptions []builder.Option

	Version string
	Commit  string
	Date    string

	configPath string
	logLevel   string
	noColor    bool
	pull       bool
	noCache    bool

	cfg    *config.Config
	logger *slog.Logger
}

// NewApp returns an App wired to the host.
func NewApp() *App {
	return &App{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		FS:         billy.NewBaseOSFS(),
		LookupEnv:  os.LookupEnv,
		NewBackend: openBackend,
		Version:    "dev",
	}
}

// setup loads the configuration and installs the logger. It runs before
// every command.
func (a *App) setup() error {
	if a.noColor {
		color.NoColor = true
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "invalid log level %q", level)
	}
	handler := charmlog.NewWithOptions(a.Stderr, charmlog.Options{
		Level:           lvl,
		ReportTimestamp: true,
		Prefix:          "envbuild",
	})
	a.logger = slog.New(handler)
	return nil
}

// loadConfig reads --config, else envbuild.yaml in the working directory,
// else falls back to defaults.
func (a *App) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFromFS(a.FS, a.configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get working directory")
	}
	path := filepath.Join(wd, config.DefaultFile)
	exists, err := a.FS.Exists(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "checking %s", path)
	}
	if !exists {
		return config.Default(wd), nil
	}
	return config.LoadFromFS(a.FS, path)
}

func (a *App) loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		path = a.cfg.ManifestPath()
	}
	return manifest.Load(a.FS, path)
}

func (a *App) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Stdout, format, args...)
}

func openBackend(ctx context.Context, cfg *config.Config, a *App) (builder.Backend, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendDocker:
		b, err := docker.New(
			docker.WithLogger(a.logger),
			docker.WithPull(a.pull),
			docker.WithNoCache(a.noCache),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.CodeUnavailable, "failed to connect to docker")
		}
		return b, b.Close, nil
	case config.BackendCLI:
		return clibackend.New(
			clibackend.WithLogger(a.logger),
			clibackend.WithPull(a.pull),
			clibackend.WithNoCache(a.noCache),
		), nop, nil
	case config.BackendDagger:
		b, err := dagger.Connect(ctx, a.Stderr, dagger.WithLogger(a.logger))
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.CodeUnavailable, "failed to start dagger")
		}
		return b, b.Close, nil
	default:
		return nil, nil, errors.Newf(errors.CodeInvalidConfig, "unknown backend %q", cfg.Backend)
	}
}

// writeLock replaces the lock at path atomically when the filesystem is the
// host's, and falls back to a plain write otherwise.
func (a *App) writeLock(path string, l *lockfile.Lock) error {
	if h, ok := a.FS.(interface{ HostPaths() bool }); ok && h.HostPaths() {
		return lockfile.Write(path, l)
	}
	return lockfile.WriteFS(a.FS, path, l)
}
