// Package cli builds environments by running the docker command line tool.
// The build context is streamed on stdin and secret build arguments are
// passed through the environment so they never appear in argv.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/executor"
)

// Name is the backend name.
const Name = "cli"

// DefaultProgram is the docker executable looked up on PATH.
const DefaultProgram = "docker"

// Backend implements builder.Backend with the docker CLI.
type Backend struct {
	exec    executor.Executor
	docker  *executor.Wrapped
	program string
	pull    bool
	noCache bool
	logger  *slog.Logger
}

var _ builder.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithExecutor sets the executor that runs the docker CLI.
func WithExecutor(e executor.Executor) Option {
	return func(b *Backend) {
		b.exec = e
	}
}

// WithProgram sets the docker executable, e.g. "podman".
func WithProgram(program string) Option {
	return func(b *Backend) {
		b.program = program
	}
}

// WithPull always attempts to pull a newer base image.
func WithPull(pull bool) Option {
	return func(b *Backend) {
		b.pull = pull
	}
}

// WithNoCache disables the build cache.
func WithNoCache(noCache bool) Option {
	return func(b *Backend) {
		b.noCache = noCache
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// New creates a Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		program: DefaultProgram,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.exec == nil {
		b.exec = executor.New(executor.WithLogger(b.logger))
	}
	b.docker = executor.NewWrapped(b.exec, b.program)
	return b
}

// Name implements builder.Backend.
func (b *Backend) Name() string {
	return Name
}

// BuildArgs returns the docker build argv for plan and the environment
// carrying secret values.
func (b *Backend) BuildArgs(plan *builder.Plan) ([]string, map[string]string) {
	args := []string{"build", "--tag", plan.Tag, "--file", builder.DockerfileName}
	if b.pull {
		args = append(args, "--pull")
	}
	if b.noCache {
		args = append(args, "--no-cache")
	}

	env := map[string]string{"BUILDKIT_PROGRESS": "plain"}
	for _, name := range plan.ArgNames() {
		if s, ok := plan.Secrets[name]; ok {
			args = append(args, "--build-arg", name)
			env[name] = string(s.Value)
			continue
		}
		args = append(args, "--build-arg", name+"="+plan.Args[name])
	}
	return append(args, "-"), env
}

// Build implements builder.Backend.
func (b *Backend) Build(ctx context.Context, plan *builder.Plan) (*builder.Image, error) {
	tarball, err := plan.ContextTar()
	if err != nil {
		return nil, err
	}

	args, env := b.BuildArgs(plan)
	opts := []executor.Option{
		executor.WithCapture(false, false, true),
		executor.WithEnv(env),
	}
	if plan.Log != nil {
		opts = append(opts, executor.WithStdoutWriter(plan.Log), executor.WithStderrWriter(plan.Log))
	}

	b.logger.Debug("running docker build", "program", b.program, "tag", plan.Tag)
	res, err := b.exec.ExecuteWithInput(ctx, string(tarball), b.program, args, opts...)
	if err != nil {
		return nil, execError("docker build", res, err)
	}

	id, err := b.imageID(ctx, plan.Tag)
	if err != nil {
		return nil, err
	}
	return &builder.Image{Ref: plan.Tag, ID: id, Backend: Name}, nil
}

func (b *Backend) imageID(ctx context.Context, ref string) (string, error) {
	res, err := b.docker.Execute(ctx, []string{"image", "inspect", "--format", "{{.Id}}", ref},
		executor.WithCapture(true, true, false))
	if err != nil {
		return "", execError("docker image inspect", res, err)
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("docker image inspect returned no ID for %s", ref)
	}
	return id, nil
}

// Run implements builder.Backend.
func (b *Backend) Run(ctx context.Context, img *builder.Image, argv []string) ([]byte, error) {
	args := append([]string{"run", "--rm", "--network", "none", img.String()}, argv...)
	res, err := b.docker.Execute(ctx, args, executor.WithCapture(true, true, false))
	if err != nil {
		return nil, execError(strings.Join(argv, " "), res, err)
	}
	return []byte(res.Stdout), nil
}

func execError(step string, res *executor.Result, err error) error {
	var exitErr *executor.ExitError
	if errors.As(err, &exitErr) {
		return &builder.ExecError{
			Step:     step,
			ExitCode: exitErr.ExitCode,
			Output:   exitErr.Stderr,
			Err:      err,
		}
	}
	if res != nil && res.Combined != "" {
		return &builder.ExecError{Step: step, ExitCode: res.ExitCode, Output: res.Combined, Err: err}
	}
	return fmt.Errorf("%s: %w", step, err)
}
