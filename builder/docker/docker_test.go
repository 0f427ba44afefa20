package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

type fakeClient struct {
	buildStream string
	buildOpts   types.ImageBuildOptions
	buildCtx    []byte

	exitCode int64
	stdout   string
	stderr   string

	created *container.Config
	host    *container.HostConfig
	removed []string
}

func (f *fakeClient) ImageBuild(_ context.Context, r io.Reader, opts types.ImageBuildOptions) (types.ImageBuildResponse, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.ImageBuildResponse{}, err
	}
	f.buildCtx = data
	f.buildOpts = opts
	return types.ImageBuildResponse{Body: io.NopCloser(strings.NewReader(f.buildStream))}, nil
}

func (f *fakeClient) ContainerCreate(
	_ context.Context,
	cfg *container.Config,
	host *container.HostConfig,
	_ *network.NetworkingConfig,
	_ *ocispec.Platform,
	_ string,
) (container.CreateResponse, error) {
	f.created = cfg
	f.host = host
	return container.CreateResponse{ID: "c0ffee"}, nil
}

func (f *fakeClient) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func (f *fakeClient) ContainerWait(
	context.Context,
	string,
	container.WaitCondition,
) (<-chan container.WaitResponse, <-chan error) {
	status := make(chan container.WaitResponse, 1)
	status <- container.WaitResponse{StatusCode: f.exitCode}
	return status, make(chan error)
}

func (f *fakeClient) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	return io.NopCloser(&buf), nil
}

func (f *fakeClient) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeClient) Close() error {
	return nil
}

func testPlan() *builder.Plan {
	return &builder.Plan{
		Tag:        "envbuild/test-env:abc",
		Dockerfile: "FROM ${REGISTRY_HOST}/codeocean/mambaforge3:23.1.0-4\nCOPY git-askpass /git-askpass\n",
		Args:       map[string]string{"REGISTRY_HOST": "registry.example.org"},
		Secrets:    map[string]*secrets.Secret{"GIT_ACCESS_TOKEN": {Value: []byte("ghp_secret")}},
		Context: map[string]builder.ContextFile{
			"git-askpass": {Data: []byte("#!/bin/sh\n"), Mode: 0o755},
		},
	}
}

func newBackend(t *testing.T, c *fakeClient) *Backend {
	t.Helper()
	b, err := New(WithClient(c))
	require.NoError(t, err)
	return b
}

func TestBuild(t *testing.T) {
	c := &fakeClient{buildStream: `{"stream":"Step 1/2 : FROM registry.example.org/codeocean/mambaforge3:23.1.0-4\n"}
{"stream":"Successfully installed numpy-1.26.4\n"}
{"aux":{"ID":"sha256:2b1f"}}
`}
	var log bytes.Buffer
	plan := testPlan()
	plan.Log = &log

	img, err := newBackend(t, c).Build(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, &builder.Image{Ref: "envbuild/test-env:abc", ID: "sha256:2b1f", Backend: Name}, img)
	assert.Contains(t, log.String(), "Successfully installed numpy-1.26.4")

	assert.Equal(t, []string{"envbuild/test-env:abc"}, c.buildOpts.Tags)
	assert.Equal(t, builder.DockerfileName, c.buildOpts.Dockerfile)
	require.Contains(t, c.buildOpts.BuildArgs, "GIT_ACCESS_TOKEN")
	assert.Equal(t, "ghp_secret", *c.buildOpts.BuildArgs["GIT_ACCESS_TOKEN"])

	var names []string
	tr := tar.NewReader(bytes.NewReader(c.buildCtx))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	assert.Equal(t, []string{"Dockerfile", "git-askpass"}, names)
}

func TestBuild_InstallerFailure(t *testing.T) {
	c := &fakeClient{buildStream: `{"stream":"ERROR: No matching distribution found for numpy==9.9.9\n"}
{"errorDetail":{"code":1,"message":"The command '/bin/sh -c pip install numpy==9.9.9' returned a non-zero code: 1"},"error":"The command '/bin/sh -c pip install numpy==9.9.9' returned a non-zero code: 1"}
`}

	_, err := newBackend(t, c).Build(context.Background(), testPlan())
	require.Error(t, err)

	var execErr *builder.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Equal(t, "ERROR: No matching distribution found for numpy==9.9.9\n", execErr.Output)
	assert.Contains(t, execErr.Error(), "returned a non-zero code: 1")
}

func TestBuild_NoImageID(t *testing.T) {
	c := &fakeClient{buildStream: `{"stream":"done\n"}` + "\n"}

	_, err := newBackend(t, c).Build(context.Background(), testPlan())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image ID")
}

func TestRun(t *testing.T) {
	c := &fakeClient{stdout: `{"version": "1", "installed": []}`, stderr: "WARNING: pip inspect is experimental\n"}
	img := &builder.Image{Ref: "envbuild/test-env:abc", ID: "sha256:2b1f"}

	out, err := newBackend(t, c).Run(context.Background(), img, []string{"pip", "inspect", "--local"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version": "1", "installed": []}`, string(out))

	assert.Equal(t, "sha256:2b1f", c.created.Image)
	assert.Equal(t, []string{"pip", "inspect", "--local"}, []string(c.created.Cmd))
	assert.Equal(t, container.NetworkMode("none"), c.host.NetworkMode)
	assert.Equal(t, []string{"c0ffee"}, c.removed)
}

func TestRun_NonZeroExit(t *testing.T) {
	c := &fakeClient{exitCode: 127, stderr: "sh: 1: dpkg-query: not found\n"}
	img := &builder.Image{ID: "sha256:2b1f"}

	_, err := newBackend(t, c).Run(context.Background(), img, []string{"dpkg-query", "-W"})
	require.Error(t, err)

	var execErr *builder.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, 127, execErr.ExitCode)
	assert.Equal(t, "sh: 1: dpkg-query: not found\n", execErr.Output)
	assert.Equal(t, []string{"c0ffee"}, c.removed, "container is removed on failure")
}
