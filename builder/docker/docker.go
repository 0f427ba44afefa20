// Package docker builds environments through the Docker Engine API. The
// rendered plan is sent as an in-memory build context; inspection commands
// run in short-lived containers with networking disabled.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
)

// Name is the backend name.
const Name = "docker"

// APIClient is the subset of the Docker client used by Backend.
type APIClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ContainerCreate(
		ctx context.Context,
		config *container.Config,
		hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig,
		platform *ocispec.Platform,
		containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(
		ctx context.Context,
		containerID string,
		condition container.WaitCondition,
	) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Backend implements builder.Backend on a Docker daemon.
type Backend struct {
	client  APIClient
	host    string
	pull    bool
	noCache bool
	logger  *slog.Logger
}

var _ builder.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClient uses c instead of a client configured from the environment.
func WithClient(c APIClient) Option {
	return func(b *Backend) {
		b.client = c
	}
}

// WithHost sets the daemon address, e.g. unix:///var/run/docker.sock.
func WithHost(host string) Option {
	return func(b *Backend) {
		b.host = host
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

// New creates a Backend. Without WithClient the client is configured from
// DOCKER_HOST and related environment variables.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(b)
	}
	if b.client == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if b.host != "" {
			clientOpts = append(clientOpts, client.WithHost(b.host))
		}
		c, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Docker client: %w", err)
		}
		b.client = c
	}
	return b, nil
}

// Name implements builder.Backend.
func (b *Backend) Name() string {
	return Name
}

// Close releases the client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Build implements builder.Backend.
func (b *Backend) Build(ctx context.Context, plan *builder.Plan) (*builder.Image, error) {
	tarball, err := plan.ContextTar()
	if err != nil {
		return nil, err
	}

	b.logger.Debug("sending build context", "tag", plan.Tag, "bytes", len(tarball), "args", plan.ArgNames())
	resp, err := b.client.ImageBuild(ctx, bytes.NewReader(tarball), types.ImageBuildOptions{
		Tags:        []string{plan.Tag},
		Dockerfile:  builder.DockerfileName,
		BuildArgs:   plan.BuildArgs(),
		Remove:      true,
		ForceRemove: true,
		PullParent:  b.pull,
		NoCache:     b.noCache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	var output bytes.Buffer
	w := io.Writer(&output)
	if plan.Log != nil {
		w = io.MultiWriter(&output, plan.Log)
	}

	var imageID string
	err = jsonmessage.DisplayJSONMessagesStream(resp.Body, w, 0, false, func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var aux struct {
			ID string `json:"ID"`
		}
		if json.Unmarshal(*msg.Aux, &aux) == nil && aux.ID != "" {
			imageID = aux.ID
		}
	})
	if err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return nil, &builder.ExecError{
				Step:     "docker build",
				ExitCode: jerr.Code,
				Output:   output.String(),
				Err:      jerr,
			}
		}
		return nil, fmt.Errorf("failed to read build output: %w", err)
	}
	if imageID == "" {
		return nil, &builder.ExecError{
			Step:   "docker build",
			Output: output.String(),
			Err:    errors.New("daemon did not report an image ID"),
		}
	}

	return &builder.Image{Ref: plan.Tag, ID: imageID, Backend: Name}, nil
}

// Run implements builder.Backend. The container is removed afterwards
// whether or not the command succeeded.
func (b *Backend) Run(ctx context.Context, img *builder.Image, argv []string) ([]byte, error) {
	resp, err := b.client.ContainerCreate(ctx,
		&container.Config{
			Image:        img.String(),
			Cmd:          argv,
			AttachStdout: true,
			AttachStderr: true,
		},
		&container.HostConfig{NetworkMode: "none"},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		rmErr := b.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		if rmErr != nil {
			b.logger.Warn("failed to remove container", "container", resp.ID, "error", rmErr)
		}
	}()

	if err := b.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := b.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed waiting for container: %w", err)
		}
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		exitCode = status.StatusCode
	}

	logs, err := b.client.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read container output: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("failed to demultiplex container output: %w", err)
	}

	if exitCode != 0 {
		return nil, &builder.ExecError{
			Step:     strings.Join(argv, " "),
			ExitCode: int(exitCode),
			Output:   stderr.String(),
		}
	}
	return stdout.Bytes(), nil
}
