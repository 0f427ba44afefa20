package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/executor"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

func testPlan() *builder.Plan {
	return &builder.Plan{
		Tag:        "envbuild/test-env:abc",
		Dockerfile: "FROM scratch\n",
		Args: map[string]string{
			"GIT_ASKPASS":   "/git-askpass",
			"REGISTRY_HOST": "registry.example.org",
		},
		Secrets: map[string]*secrets.Secret{"GIT_ACCESS_TOKEN": {Value: []byte("ghp_secret")}},
	}
}

func TestBuildArgs(t *testing.T) {
	b := New(WithExecutor(&executor.MockExecutor{}), WithPull(true))

	args, env := b.BuildArgs(testPlan())
	assert.Equal(t, []string{
		"build", "--tag", "envbuild/test-env:abc", "--file", "Dockerfile", "--pull",
		"--build-arg", "GIT_ACCESS_TOKEN",
		"--build-arg", "GIT_ASKPASS=/git-askpass",
		"--build-arg", "REGISTRY_HOST=registry.example.org",
		"-",
	}, args)
	assert.Equal(t, "ghp_secret", env["GIT_ACCESS_TOKEN"])
	for _, a := range args {
		assert.NotContains(t, a, "ghp_secret", "secret values never appear in argv")
	}
}

func TestBuild(t *testing.T) {
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, call executor.Call) (*executor.Result, error) {
			if call.Args[0] == "image" {
				return &executor.Result{Stdout: "sha256:2b1f\n"}, nil
			}
			return &executor.Result{}, nil
		},
	}
	b := New(WithExecutor(mock))

	img, err := b.Build(context.Background(), testPlan())
	require.NoError(t, err)
	assert.Equal(t, &builder.Image{Ref: "envbuild/test-env:abc", ID: "sha256:2b1f", Backend: Name}, img)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "docker", calls[0].Program)
	assert.NotEmpty(t, calls[0].Input, "the build context is streamed on stdin")
	assert.Equal(t, "ghp_secret", calls[0].Options.Env["GIT_ACCESS_TOKEN"])
	assert.Equal(t, 0, calls[0].Options.MaxRetries)
	assert.Equal(t, []string{"image", "inspect", "--format", "{{.Id}}", "envbuild/test-env:abc"}, calls[1].Args)
}

func TestBuild_Failure(t *testing.T) {
	output := "#7 ERROR: process \"/bin/sh -c pip install numpy==9.9.9\" did not complete successfully: exit code: 1\n" +
		"ERROR: No matching distribution found for numpy==9.9.9\n"
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, call executor.Call) (*executor.Result, error) {
			return &executor.Result{Combined: output, ExitCode: 1}, &executor.ExitError{
				Program:  call.Program,
				ExitCode: 1,
				Stderr:   output,
				Err:      errors.New("exit status 1"),
			}
		},
	}

	_, err := New(WithExecutor(mock)).Build(context.Background(), testPlan())
	require.Error(t, err)

	var execErr *builder.ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, output, execErr.Output)
	assert.Equal(t, 1, execErr.ExitCode)
	assert.Len(t, mock.Calls(), 1, "no retry and no inspect after a failed build")
}

func TestRun(t *testing.T) {
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, call executor.Call) (*executor.Result, error) {
			return &executor.Result{Stdout: `{"version": "1", "installed": []}`}, nil
		},
	}
	img := &builder.Image{Ref: "envbuild/test-env:abc", ID: "sha256:2b1f"}

	out, err := New(WithExecutor(mock), WithProgram("podman")).Run(context.Background(), img, []string{"pip", "inspect"})
	require.NoError(t, err)
	assert.Equal(t, `{"version": "1", "installed": []}`, string(out))

	calls := mock.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "podman", calls[0].Program)
	assert.Equal(t, []string{"run", "--rm", "--network", "none", "sha256:2b1f", "pip", "inspect"}, calls[0].Args)
}
