package builder_test

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

func readTar(t *testing.T, data []byte) map[string]*tar.Header {
	t.Helper()
	out := make(map[string]*tar.Header)
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out[hdr.Name] = hdr
	}
}

func TestPlan_ContextTar(t *testing.T) {
	plan := &builder.Plan{
		Dockerfile: "FROM scratch\n",
		Context: map[string]builder.ContextFile{
			"git-askpass": {Data: []byte("#!/bin/sh\n"), Mode: 0o755},
		},
	}

	first, err := plan.ContextTar()
	require.NoError(t, err)
	second, err := plan.ContextTar()
	require.NoError(t, err)
	assert.Equal(t, first, second, "archives are reproducible")

	entries := readTar(t, first)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(0o644), entries[builder.DockerfileName].Mode)
	assert.Equal(t, int64(0o755), entries["git-askpass"].Mode)
	assert.Equal(t, int64(len("FROM scratch\n")), entries[builder.DockerfileName].Size)
}

func TestPlan_ContextTar_Rejects(t *testing.T) {
	for _, name := range []string{"../git-askpass", "/etc/passwd", "Dockerfile"} {
		t.Run(name, func(t *testing.T) {
			plan := &builder.Plan{
				Dockerfile: "FROM scratch\n",
				Context:    map[string]builder.ContextFile{name: {Data: []byte("x")}},
			}
			_, err := plan.ContextTar()
			assert.Error(t, err)
		})
	}
}

func TestPlan_BuildArgs(t *testing.T) {
	plan := &builder.Plan{
		Args:    map[string]string{"REGISTRY_HOST": "registry.example.org"},
		Secrets: map[string]*secrets.Secret{"GIT_ACCESS_TOKEN": {Value: []byte("tok")}},
	}

	args := plan.BuildArgs()
	require.Len(t, args, 2)
	assert.Equal(t, "registry.example.org", *args["REGISTRY_HOST"])
	assert.Equal(t, "tok", *args["GIT_ACCESS_TOKEN"])
	assert.Equal(t, []string{"GIT_ACCESS_TOKEN", "REGISTRY_HOST"}, plan.ArgNames())
}

func TestClassifyOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   errors.ErrorCode
	}{
		{
			name: "git credentials rejected",
			output: "fatal: could not read Username for 'https://github.com': terminal prompts disabled\n" +
				"error: subprocess-exited-with-error",
			want: errors.CodeUnauthorized,
		},
		{
			name:   "pip resolver conflict",
			output: "ERROR: Cannot install numpy==1.26.4 and pandas==2.2.2 because these package versions have conflicting dependencies.",
			want:   errors.CodeConflict,
		},
		{
			name:   "apt version missing",
			output: "E: Version '12.8' for 'build-essential' was not found",
			want:   errors.CodeUnavailable,
		},
		{
			name:   "unknown commit",
			output: "fatal: reference is not a tree: 4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a",
			want:   errors.CodeUnavailable,
		},
		{
			name:   "dns",
			output: "fatal: unable to access 'https://github.com/x/y/': Could not resolve host: github.com",
			want:   errors.CodeNetwork,
		},
		{
			name:   "anything else",
			output: "Segmentation fault (core dumped)",
			want:   errors.CodeExecutionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, builder.ClassifyOutput(tt.output))
		})
	}
}

func TestExecError_Error(t *testing.T) {
	err := error(&builder.ExecError{Step: "os-packages", ExitCode: 100, Output: "E: Unable to locate package foo"})
	assert.Contains(t, err.Error(), `build step "os-packages" failed with exit code 100`)
}
