// Package builder runs the environment provisioning pipeline: it validates a
// manifest, checks the credential helper and source pins before anything is
// built, hands a rendered plan to a Backend exactly once, then inspects the
// resulting image and checks every declared pin against what was installed.
//
// Backends live in subpackages (docker, dagger, cli). The builder never
// retries a failed build.
package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/executor"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/git"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/git/auth"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

// Backend produces images from plans and runs commands inside them.
type Backend interface {
	// Name identifies the backend, e.g. "docker".
	Name() string
	// Build produces one image from plan.
	Build(ctx context.Context, plan *Plan) (*Image, error)
	// Run executes argv in a throwaway container of img and returns its
	// standard output.
	Run(ctx context.Context, img *Image, argv []string) ([]byte, error)
}

// RevisionVerifier checks that a pinned commit exists at its remote.
type RevisionVerifier interface {
	VerifyRevision(ctx context.Context, src pin.Source) (*git.Commit, error)
}

// RemoteFactory creates a RevisionVerifier authenticating through the
// credential helper at helper with token exported to it.
type RemoteFactory func(helper, token string) RevisionVerifier

// BuildOptions parameterize one build.
type BuildOptions struct {
	// Tag names the resulting image. Defaults to envbuild/<name>:<digest>.
	Tag string
	// Args holds build argument values. Undeclared arguments are ignored.
	Args map[string]string
	// SecretArgs resolves secret build arguments through the configured
	// secrets resolver. An entry here takes precedence over Args.
	SecretArgs map[string]secrets.SecretRef
	// ContextDir is the directory the credential helper source is relative to.
	ContextDir string
	// VerifySources checks every source pin against its remote before the
	// backend runs.
	VerifySources bool
	// Output receives the backend build output. May be nil.
	Output io.Writer
}

// Result describes a successful build.
type Result struct {
	Image     *Image
	BaseImage string
	Manifest  *manifest.Manifest
	Inventory *inventory.Inventory
	Report    verify.Report
	Backend   string
	// Commits holds the verified source commits, keyed by package.
	Commits  map[string]*git.Commit
	BuiltAt  time.Time
	Duration time.Duration
}

// Lock records r as a lockfile with the given metadata.
func (r *Result) Lock(metadata map[string]interface{}) (*lockfile.Lock, error) {
	return lockfile.New(lockfile.Build{
		Manifest:  r.Manifest,
		BaseImage: r.BaseImage,
		ImageID:   r.Image.String(),
		Backend:   r.Backend,
		Inventory: r.Inventory,
		BuiltAt:   r.BuiltAt,
		Metadata:  metadata,
	})
}

// Builder runs builds against one backend.
type Builder struct {
	backend  Backend
	resolver secrets.Resolver
	remote   RemoteFactory
	fs       fs.Filesystem
	exec     executor.Executor
	cache    fs.Filesystem
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithSecrets sets the resolver used for BuildOptions.SecretArgs.
func WithSecrets(r secrets.Resolver) Option {
	return func(b *Builder) {
		b.resolver = r
	}
}

// WithRemoteFactory replaces how source revisions are verified.
func WithRemoteFactory(f RemoteFactory) Option {
	return func(b *Builder) {
		b.remote = f
	}
}

// WithFilesystem sets the filesystem the credential helper is read from.
func WithFilesystem(f fs.Filesystem) Option {
	return func(b *Builder) {
		b.fs = f
	}
}

// WithExecutor sets the executor used to run the credential helper on the
// host during source verification.
func WithExecutor(e executor.Executor) Option {
	return func(b *Builder) {
		b.exec = e
	}
}

// WithGitCache persists objects fetched during source verification.
func WithGitCache(f fs.Filesystem) Option {
	return func(b *Builder) {
		b.cache = f
	}
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(b *Builder) {
		b.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// New creates a Builder using backend.
func New(backend Backend, opts ...Option) *Builder {
	b := &Builder{
		backend:  backend,
		fs:       billy.NewBaseOSFS(),
		exec:     executor.New(),
		observer: nopObserver{},
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.remote == nil {
		b.remote = b.defaultRemote
	}
	return b
}

// Backend returns the backend builds run on.
func (b *Builder) Backend() Backend {
	return b.backend
}

func (b *Builder) defaultRemote(helper, token string) RevisionVerifier {
	provider := auth.NewAskpassProvider(helper, token,
		auth.WithExecutor(b.exec),
		auth.WithFilesystem(b.fs),
		auth.WithLogger(b.logger),
	)
	opts := []git.RemoteOption{git.WithAuth(provider), git.WithLogger(b.logger)}
	if b.cache != nil {
		opts = append(opts, git.WithCache(b.cache))
	}
	return git.NewRemote(opts...)
}

// Build provisions m. It fails with a *BuildError on any problem; a build is
// never partially successful and never retried.
func (b *Builder) Build(ctx context.Context, m *manifest.Manifest, opts BuildOptions) (*Result, error) {
	start := b.now()
	log := b.logger.With("manifest", m.String(), "backend", b.backend.Name())

	// validate
	b.begin(StageValidate, "")
	plan, err := b.plan(m, opts)
	if err != nil {
		return nil, b.fail(StageValidate, errors.GetCode(err), "", err)
	}
	b.end(StageValidate, start)

	// resolve secrets and check the credential helper
	t := b.now()
	b.begin(StagePreflight, "")
	plan.Secrets, err = b.resolveSecrets(ctx, m, opts)
	if err != nil {
		return nil, b.fail(StagePreflight, errors.GetCode(err), "", err)
	}
	defer clearSecrets(plan.Secrets)

	sources, err := m.SourcePackages()
	if err != nil {
		return nil, b.fail(StagePreflight, errors.CodeInvalidInput, "", err)
	}
	helperPath, err := b.preflight(m, plan, opts.ContextDir, len(sources) > 0)
	if err != nil {
		return nil, b.fail(StagePreflight, errors.CodeUnauthorized, "", err)
	}
	b.end(StagePreflight, t)

	// verify source revisions
	commits := make(map[string]*git.Commit)
	t = b.now()
	switch {
	case len(sources) == 0:
		b.skip(StageVerifySources, "no source packages")
	case !opts.VerifySources:
		b.skip(StageVerifySources, "source verification disabled")
	default:
		b.begin(StageVerifySources, fmt.Sprintf("%d source package(s)", len(sources)))
		remote := b.remote(helperPath, plan.lookup(manifest.ArgGitAccessToken))
		for _, spec := range sources {
			commit, err := remote.VerifyRevision(ctx, *spec.Source)
			if err != nil {
				return nil, b.fail(StageVerifySources, gitCause(err), "",
					fmt.Errorf("%s: %w", spec.Name, err))
			}
			log.Debug("verified source revision", "package", spec.Name, "ref", commit.Ref)
			commits[spec.Key()] = commit
		}
		b.end(StageVerifySources, t)
	}

	// build
	t = b.now()
	b.begin(StageBuild, plan.Tag)
	log.Info("building image", "tag", plan.Tag, "base", plan.BaseImage)
	img, err := b.backend.Build(ctx, plan)
	if err != nil {
		return nil, b.backendFailure(StageBuild, err)
	}
	b.end(StageBuild, t)
	log.Info("image built", "image", img.String())

	// inspect
	t = b.now()
	b.begin(StageInspect, img.String())
	inv, err := b.Inspect(ctx, m, img)
	if err != nil {
		return nil, b.backendFailure(StageInspect, err)
	}
	b.end(StageInspect, t)

	// verify pins
	t = b.now()
	b.begin(StageVerifyPins, "")
	report, err := verify.Pins(m, inv)
	if err != nil {
		return nil, b.fail(StageVerifyPins, errors.CodeInvalidInput, "", err)
	}
	if !report.OK() {
		return nil, b.fail(StageVerifyPins, errors.CodeConflict, "", report.Err())
	}
	b.end(StageVerifyPins, t)

	res := &Result{
		Image:     img,
		BaseImage: plan.BaseImage,
		Manifest:  m,
		Inventory: inv,
		Report:    report,
		Backend:   b.backend.Name(),
		Commits:   commits,
		BuiltAt:   b.now(),
	}
	res.Duration = res.BuiltAt.Sub(start)
	b.observer.OnEvent(Event{Stage: StageDone, Done: true, Message: img.String(), Elapsed: res.Duration})
	log.Info("build complete", "image", img.String(), "packages", inv.Len(), "elapsed", res.Duration)
	return res, nil
}

// Inspect lists the packages installed in img. The Python inventory is
// required; the OS inventory is collected only when m declares OS packages
// and its absence is logged rather than fatal.
func (b *Builder) Inspect(ctx context.Context, m *manifest.Manifest, img *Image) (*inventory.Inventory, error) {
	out, err := b.backend.Run(ctx, img, m.InspectCommand())
	if err != nil {
		return nil, err
	}
	inv, err := inventory.ParsePipInspect(out)
	if err != nil {
		return nil, err
	}

	if len(m.OS.Packages) == 0 {
		return inv, nil
	}
	out, err = b.backend.Run(ctx, img, inventory.DpkgQueryCommand)
	if err != nil {
		b.logger.Warn("could not list OS packages", "image", img.String(), "error", err)
		return inv, nil
	}
	if err := inv.ParseDpkgQuery(out); err != nil {
		b.logger.Warn("could not parse OS package list", "image", img.String(), "error", err)
	}
	return inv, nil
}

func (b *Builder) plan(m *manifest.Manifest, opts BuildOptions) (*Plan, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	args := m.ResolveArgs(opts.Args)
	base, err := m.BaseImage(args)
	if err != nil {
		return nil, err
	}
	for _, name := range m.SecretArgs() {
		delete(args, name)
	}

	dockerfile, err := m.Dockerfile()
	if err != nil {
		return nil, err
	}
	steps, err := m.Steps()
	if err != nil {
		return nil, err
	}

	tag := opts.Tag
	if tag == "" {
		tag, err = defaultTag(m)
		if err != nil {
			return nil, err
		}
	}

	return &Plan{
		Manifest:   m,
		Tag:        tag,
		BaseImage:  base,
		Dockerfile: dockerfile,
		Steps:      steps,
		Args:       args,
		Context:    make(map[string]ContextFile),
		Log:        opts.Output,
	}, nil
}

func defaultTag(m *manifest.Manifest) (string, error) {
	d, err := m.Digest()
	if err != nil {
		return "", err
	}
	name := m.Name
	if name == "" {
		name = "environment"
	}
	return fmt.Sprintf("envbuild/%s:%s", name, d.Encoded()[:12]), nil
}

// resolveSecrets collects every declared secret argument from the resolver
// or from plain argument values. Missing secrets are left out; preflight
// decides which ones are required.
func (b *Builder) resolveSecrets(ctx context.Context, m *manifest.Manifest, opts BuildOptions) (map[string]*secrets.Secret, error) {
	out := make(map[string]*secrets.Secret)
	for _, name := range m.SecretArgs() {
		if ref, ok := opts.SecretArgs[name]; ok {
			if b.resolver == nil {
				clearSecrets(out)
				return nil, errors.Newf(errors.CodeInvalidConfig, "secret %s is configured but no secrets resolver is set", name)
			}
			s, err := b.resolver.Resolve(ctx, ref)
			if err != nil {
				clearSecrets(out)
				code := errors.CodeUnauthorized
				if errors.Is(err, secrets.ErrProviderError) {
					code = errors.CodeUnavailable
				}
				return nil, errors.Wrapf(err, code, "resolving %s from %s", name, ref)
			}
			out[name] = s
			continue
		}
		if v := opts.Args[name]; v != "" {
			out[name] = &secrets.Secret{Value: []byte(v)}
		}
	}
	return out, nil
}

// preflight checks that the credential helper is present and executable and
// adds it to the build context. When sources is set an access token must
// also be available: source fetches fail here rather than being skipped
// later.
func (b *Builder) preflight(m *manifest.Manifest, plan *Plan, contextDir string, sources bool) (string, error) {
	h := m.CredentialHelper
	if h == nil {
		if sources {
			return "", errors.New(errors.CodeUnauthorized, "source packages require a credential helper")
		}
		return "", nil
	}
	helperPath := filepath.Join(contextDir, filepath.FromSlash(h.Source))

	ok, err := fs.IsExecutable(b.fs, helperPath)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeUnauthorized, "credential helper %s", helperPath)
	}
	if !ok {
		return "", errors.Newf(errors.CodeUnauthorized, "credential helper %s is missing or not executable", helperPath)
	}
	data, err := b.fs.ReadFile(helperPath)
	if err != nil {
		return "", errors.Wrapf(err, errors.CodeUnauthorized, "reading credential helper %s", helperPath)
	}
	if len(data) == 0 {
		return "", errors.Newf(errors.CodeUnauthorized, "credential helper %s is empty", helperPath)
	}

	if sources && plan.lookup(manifest.ArgGitAccessToken) == "" {
		return "", errors.Newf(errors.CodeUnauthorized, "%s is not set", manifest.ArgGitAccessToken)
	}

	plan.Context[h.Source] = ContextFile{Data: data, Mode: 0o755}
	return helperPath, nil
}

func (b *Builder) begin(stage Stage, msg string) {
	b.observer.OnEvent(Event{Stage: stage, Message: msg})
}

func (b *Builder) end(stage Stage, started time.Time) {
	b.observer.OnEvent(Event{Stage: stage, Done: true, Elapsed: b.now().Sub(started)})
}

func (b *Builder) skip(stage Stage, msg string) {
	b.observer.OnEvent(Event{Stage: stage, Done: true, Skipped: true, Message: msg})
}

func (b *Builder) fail(stage Stage, cause errors.ErrorCode, output string, err error) *BuildError {
	if cause == errors.CodeUnknown {
		cause = errors.CodeInternal
	}
	be := newBuildError(stage, cause, output, err)
	b.observer.OnEvent(Event{Stage: stage, Done: true, Err: be})
	b.logger.Error("build failed", "stage", stage, "cause", cause, "error", err)
	return be
}

// backendFailure classifies a backend error. Installer output is carried
// unchanged.
func (b *Builder) backendFailure(stage Stage, err error) *BuildError {
	var execErr *ExecError
	if errors.As(err, &execErr) {
		return b.fail(stage, ClassifyOutput(execErr.Output), execErr.Output, err)
	}
	switch {
	case errors.Is(err, context.Canceled):
		return b.fail(stage, errors.CodeCanceled, "", err)
	case errors.Is(err, context.DeadlineExceeded):
		return b.fail(stage, errors.CodeTimeout, "", err)
	}
	cause := errors.GetCode(err)
	if cause == errors.CodeUnknown {
		cause = errors.CodeExecutionFailed
	}
	return b.fail(stage, cause, "", err)
}

func gitCause(err error) errors.ErrorCode {
	switch {
	case errors.Is(err, git.ErrAuthRequired), errors.Is(err, git.ErrAuthFailed):
		return errors.CodeUnauthorized
	case errors.Is(err, git.ErrRepositoryNotFound), errors.Is(err, git.ErrRevisionNotFound):
		return errors.CodeUnavailable
	case errors.Is(err, git.ErrInvalidRevision):
		return errors.CodeInvalidInput
	case errors.Is(err, context.Canceled):
		return errors.CodeCanceled
	default:
		return errors.CodeNetwork
	}
}

func clearSecrets(m map[string]*secrets.Secret) {
	for _, s := range m {
		s.Clear()
	}
}
