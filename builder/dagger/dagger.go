// Package dagger builds environments with the Dagger engine. The plan's
// steps are replayed as container operations instead of sending the
// rendered Dockerfile, so secret build arguments become Dagger secrets.
//
// The engine offers no way to run an exec without networking, unlike the
// docker and cli backends which use --network none. Run instead routes
// proxy-aware clients to a closed port and puts pip and uv offline, so
// package tools cannot reach an index. Code that opens sockets directly is
// not contained.
package dagger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"dagger.io/dagger"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
)

// Name is the backend name.
const Name = "dagger"

// Backend implements builder.Backend on a Dagger session. Built containers
// live in the session; Publish pushes them to a registry.
type Backend struct {
	client  *dagger.Client
	publish bool
	logger  *slog.Logger

	mu         sync.Mutex
	containers map[string]*dagger.Container
}

var _ builder.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithPublish pushes every built image to its tag.
func WithPublish(publish bool) Option {
	return func(b *Backend) {
		b.publish = publish
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// Connect opens a Dagger session writing engine output to log.
func Connect(ctx context.Context, log io.Writer, opts ...Option) (*Backend, error) {
	client, err := dagger.Connect(ctx, dagger.WithLogOutput(log))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to dagger engine: %w", err)
	}
	return New(client, opts...), nil
}

// New creates a Backend on an existing session.
func New(client *dagger.Client, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		logger:     slog.New(slog.DiscardHandler),
		containers: make(map[string]*dagger.Container),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements builder.Backend.
func (b *Backend) Name() string {
	return Name
}

// Close ends the session.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Build implements builder.Backend.
func (b *Backend) Build(ctx context.Context, plan *builder.Plan) (*builder.Image, error) {
	ops, err := Operations(plan)
	if err != nil {
		return nil, err
	}

	ctr := b.client.Container().From(plan.BaseImage)
	for _, op := range ops {
		switch op.Kind {
		case OpEnv:
			ctr = ctr.WithEnvVariable(op.Name, op.Value)
		case OpSecret:
			secret := b.client.SetSecret(op.Name, string(plan.Secrets[op.Name].Value))
			ctr = ctr.WithSecretVariable(op.Name, secret)
		case OpFile:
			ctr = ctr.WithNewFile(op.Path, dagger.ContainerWithNewFileOpts{
				Contents:    string(op.Data),
				Permissions: 0o755,
			})
		case OpExec:
			ctr = ctr.WithExec(op.Argv)
		}
	}

	ctr, err = ctr.Sync(ctx)
	if err != nil {
		return nil, &builder.ExecError{Step: "dagger build", Output: err.Error(), Err: err}
	}

	id, err := ctr.ID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read container ID: %w", err)
	}
	img := &builder.Image{Ref: plan.Tag, ID: string(id), Backend: Name}

	if b.publish {
		addr, err := ctr.Publish(ctx, plan.Tag)
		if err != nil {
			return nil, fmt.Errorf("failed to publish %s: %w", plan.Tag, err)
		}
		b.logger.Info("published image", "address", addr)
		img.Ref = addr
	}

	b.mu.Lock()
	b.containers[img.ID] = ctr
	b.mu.Unlock()
	return img, nil
}

// Run implements builder.Backend. Only images built by this Backend can be
// run.
func (b *Backend) Run(ctx context.Context, img *builder.Image, argv []string) ([]byte, error) {
	b.mu.Lock()
	ctr, ok := b.containers[img.ID]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("image %s was not built in this dagger session", img.Ref)
	}

	for _, kv := range OfflineEnv {
		ctr = ctr.WithEnvVariable(kv[0], kv[1])
	}
	out, err := ctr.WithExec(argv).Stdout(ctx)
	if err != nil {
		return nil, &builder.ExecError{Step: strings.Join(argv, " "), Output: err.Error(), Err: err}
	}
	return []byte(out), nil
}

// unreachableProxy is the discard port on loopback; nothing listens there.
const unreachableProxy = "http://127.0.0.1:9"

// OfflineEnv is applied to every Run exec.
var OfflineEnv = [][2]string{
	{"HTTP_PROXY", unreachableProxy},
	{"HTTPS_PROXY", unreachableProxy},
	{"ALL_PROXY", unreachableProxy},
	{"http_proxy", unreachableProxy},
	{"https_proxy", unreachableProxy},
	{"all_proxy", unreachableProxy},
	{"NO_PROXY", ""},
	{"no_proxy", ""},
	{"PIP_NO_INDEX", "1"},
	{"PIP_DISABLE_PIP_VERSION_CHECK", "1"},
	{"UV_OFFLINE", "1"},
}

// OpKind is a container operation.
type OpKind int

const (
	OpEnv OpKind = iota
	OpSecret
	OpFile
	OpExec
)

// Op is one container operation derived from a plan.
type Op struct {
	Kind  OpKind
	Name  string
	Value string
	Path  string
	Data  []byte
	Argv  []string
}

// Operations translates plan into container operations: build arguments
// and manifest environment first, then the provisioning steps in order.
func Operations(plan *builder.Plan) ([]Op, error) {
	var ops []Op
	for _, name := range plan.ArgNames() {
		if _, ok := plan.Secrets[name]; ok {
			ops = append(ops, Op{Kind: OpSecret, Name: name})
			continue
		}
		ops = append(ops, Op{Kind: OpEnv, Name: name, Value: plan.Args[name]})
	}

	if plan.Manifest != nil {
		keys := make([]string, 0, len(plan.Manifest.Env))
		for k := range plan.Manifest.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ops = append(ops, Op{Kind: OpEnv, Name: k, Value: plan.Manifest.Env[k]})
		}
	}

	for _, step := range plan.Steps {
		switch step.Kind {
		case manifest.StepCredentialHelper:
			f, ok := plan.Context[step.Source]
			if !ok {
				return nil, fmt.Errorf("credential helper %s is not in the build context", step.Source)
			}
			ops = append(ops, Op{Kind: OpFile, Path: step.Dest, Data: f.Data})
		default:
			ops = append(ops, Op{Kind: OpExec, Argv: step.Command})
		}
	}
	return ops, nil
}
