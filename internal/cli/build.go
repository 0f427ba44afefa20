package cli

import (
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

type buildFlags struct {
	manifest      string
	tag           string
	backend       string
	args          map[string]string
	verifySources bool
	params        string
	overrides     string
	lockfile      string
	noLock        bool
	quiet         bool
	verbose       bool
	repin         []string
}

func newBuildCommand(a *App) *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the environment image and write its lockfile",
		Long: `Build the environment described by the manifest. The build fails on the first
error: an unreachable source repository, a rejected credential, a version
conflict or an unavailable package. Nothing is retried. On success every
declared package is checked against its pin and the installed set is
recorded in the lockfile.

--repin NAME==VERSION builds the manifest with that one pin changed and
checks the result against the current lockfile: no other Python package may
move. The lockfile is left alone unless --lockfile is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("verify-sources") {
				f.verifySources = a.cfg.VerifySources
			}
			return runBuild(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.manifest, "manifest", "m", "", "manifest path (default from config)")
	fl.StringVarP(&f.tag, "tag", "t", "", "image tag")
	fl.StringVar(&f.backend, "backend", "", "build backend (docker, dagger, cli)")
	fl.StringToStringVar(&f.args, "arg", nil, "build argument KEY=VALUE (repeatable)")
	fl.BoolVar(&f.verifySources, "verify-sources", false, "check source revisions against their remotes before building")
	fl.StringVar(&f.params, "params-json", "", "JSON object recorded as lockfile metadata")
	fl.StringVar(&f.overrides, "override-params-json", "", "JSON object merged over --params-json")
	fl.StringVar(&f.lockfile, "lockfile", "", "lockfile path (default from config)")
	fl.BoolVar(&f.noLock, "no-lock", false, "do not write a lockfile")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "hide the progress bar")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "stream build output")
	fl.StringArrayVar(&f.repin, "repin", nil, "rebuild with one pin changed, NAME==VERSION (repeatable)")
	fl.BoolVar(&a.pull, "pull", false, "always pull the base image")
	fl.BoolVar(&a.noCache, "no-cache", false, "do not use the build cache")
	return cmd
}

func runBuild(cmd *cobra.Command, a *App, f buildFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	metadata, err := buildMetadata(f.params, f.overrides)
	if err != nil {
		return err
	}

	m, err := a.loadManifest(f.manifest)
	if err != nil {
		return err
	}
	lockPath := f.lockfile
	if lockPath == "" {
		lockPath = cfg.LockfilePath()
	}

	var baseline *lockfile.Lock
	var repinned []string
	if len(f.repin) > 0 {
		baseline, err = lockfile.Read(a.FS, cfg.LockfilePath())
		if err != nil {
			return errors.Wrap(err, errors.GetCode(err), "--repin needs the current lockfile as a baseline")
		}
		m, repinned, err = repin(m, f.repin)
		if err != nil {
			return err
		}
	}

	if f.backend != "" {
		cfg.Backend = f.backend
	}
	backend, closeBackend, err := a.NewBackend(ctx, cfg, a)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			a.logger.Warn("failed to close backend", "error", err)
		}
	}()

	secretArgs := cfg.SecretArgs()
	resolver, err := a.secretManager(ctx, refsOf(secretArgs)...)
	if err != nil {
		return err
	}
	defer func() { _ = resolver.Close() }()

	opts := []builder.Option{
		builder.WithSecrets(resolver),
		builder.WithFilesystem(a.FS),
		builder.WithGitCache(billy.NewOSFS(cfg.GitCacheDir())),
		builder.WithLogger(a.logger),
	}
	if !f.quiet {
		opts = append(opts, builder.WithObserver(newProgress(a.Stderr)))
	}
	opts = append(opts, a.BuilderOptions...)
	b := builder.New(backend, opts...)

	tag := f.tag
	if tag == "" {
		tag = cfg.Tag
	}
	buildOpts := builder.BuildOptions{
		Tag:           tag,
		Args:          cfg.ResolveArgs(f.args, a.LookupEnv, argNames(m)),
		SecretArgs:    secretArgs,
		ContextDir:    cfg.BuildContext(),
		VerifySources: f.verifySources,
	}
	if f.verbose {
		buildOpts.Output = a.Stderr
	}

	res, err := b.Build(ctx, m, buildOpts)
	if err != nil {
		return err
	}

	a.printf("built %s (%s) in %s\n", res.Image.Ref, res.Image.ID, res.Duration.Round(time.Second))
	a.printf("%s\n", res.Report)

	if baseline != nil {
		iso := verify.Isolation(baseline.Inventory(), res.Inventory, repinned...)
		a.printReport(iso)
		if err := iso.Err(); err != nil {
			return err
		}
		if f.lockfile == "" {
			return nil
		}
	}

	if f.noLock {
		return nil
	}
	lock, err := res.Lock(metadata)
	if err != nil {
		return err
	}
	if err := a.writeLock(lockPath, lock); err != nil {
		return err
	}
	a.printf("wrote %s (%d packages, build %s)\n", lockPath, len(lock.Packages), lock.BuildID)
	return nil
}

// repin applies each NAME==VERSION to m and returns the changed package
// names.
func repin(m *manifest.Manifest, pins []string) (*manifest.Manifest, []string, error) {
	names := make([]string, 0, len(pins))
	for _, raw := range pins {
		spec, err := pin.Parse(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid --repin %q", raw)
		}
		if spec.Kind != pin.KindIndex {
			return nil, nil, errors.Newf(errors.CodeInvalidInput, "--repin %q must be NAME==VERSION", raw)
		}
		m, err = m.WithPin(spec.Name, spec.Version)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, spec.Name)
	}
	return m, names, nil
}

// buildMetadata decodes the run parameters and applies the overrides on
// top.
func buildMetadata(params, overrides string) (map[string]interface{}, error) {
	base, err := decodeParams("--params-json", params)
	if err != nil {
		return nil, err
	}
	over, err := decodeParams("--override-params-json", overrides)
	if err != nil {
		return nil, err
	}
	return lockfile.MergeParams(base, over), nil
}

func decodeParams(flag, s string) (map[string]interface{}, error) {
	if s == "" {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "%s must be a JSON object", flag)
	}
	return out, nil
}

func argNames(m *manifest.Manifest) []string {
	names := make([]string, 0, len(m.Args))
	for _, arg := range m.Args {
		names = append(names, arg.Name)
	}
	return names
}
