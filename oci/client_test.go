package oci

import (
	"context"
	"net/http"
	"testing"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
)

const ref = "registry.example.org/dynamicrouting/envbuild-lock:676909"

func testLock(t *testing.T) *lockfile.Lock {
	t.Helper()
	m, err := manifest.Parse([]byte(`
schema_version: "1.0.0"
base:
  image: codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04
python:
  packages:
    - numpy==1.26.4
`))
	require.NoError(t, err)

	inv := inventory.New()
	inv.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.4"}

	l, err := lockfile.New(lockfile.Build{
		Manifest:  m,
		BaseImage: "codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04",
		Backend:   "docker",
		Inventory: inv,
		BuiltAt:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return l
}

func TestClient_PushPullLock(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c, err := New(WithTarget(store))
	require.NoError(t, err)

	l := testLock(t)
	desc, err := c.PushLock(ctx, ref, l)
	require.NoError(t, err)
	assert.Equal(t, ocispec.MediaTypeImageManifest, desc.MediaType)
	assert.Equal(t, ArtifactType, desc.ArtifactType)
	assert.Equal(t, l.BuildID, desc.Annotations[AnnotationBuildID])
	assert.Equal(t, "2024-05-01T12:00:00Z", desc.Annotations[ocispec.AnnotationCreated])

	got, err := c.PullLock(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, l.BuildID, got.BuildID)
	assert.Equal(t, l.Packages, got.Packages)

	byDigest, err := c.PullLock(ctx, "registry.example.org/dynamicrouting/envbuild-lock@"+desc.Digest.String())
	require.NoError(t, err)
	assert.Equal(t, l.BuildID, byDigest.BuildID)
}

func TestClient_PullLock_Errors(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	c, err := New(WithTarget(store))
	require.NoError(t, err)

	t.Run("missing tag", func(t *testing.T) {
		_, err := c.PullLock(ctx, ref)
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	})

	t.Run("unknown digest", func(t *testing.T) {
		_, err := c.PullLock(ctx, "registry.example.org/dynamicrouting/envbuild-lock@sha256:"+
			"0000000000000000000000000000000000000000000000000000000000000000")
		require.Error(t, err)
		assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	})

	t.Run("no tag in reference", func(t *testing.T) {
		_, err := c.PullLock(ctx, "registry.example.org/dynamicrouting/envbuild-lock")
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	})

	t.Run("other artifact", func(t *testing.T) {
		layer, err := oras.PushBytes(ctx, store, "text/plain", []byte("hello"))
		require.NoError(t, err)
		man, err := oras.PackManifest(ctx, store, oras.PackManifestVersion1_1, "application/vnd.other",
			oras.PackManifestOptions{Layers: []ocispec.Descriptor{layer}})
		require.NoError(t, err)
		require.NoError(t, store.Tag(ctx, man, "other"))

		_, err = c.PullLock(ctx, "registry.example.org/dynamicrouting/envbuild-lock:other")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not an envbuild lock")
	})

	t.Run("invalid reference", func(t *testing.T) {
		_, err := c.PullLock(ctx, "Not A Reference")
		assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	})
}

func TestClient_PushLock_RequiresTag(t *testing.T) {
	c, err := New(WithTarget(memory.New()))
	require.NoError(t, err)
	_, err = c.PushLock(context.Background(), "registry.example.org/dynamicrouting/envbuild-lock", testLock(t))
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestNew_StaticAuthValidation(t *testing.T) {
	_, err := New(WithStaticAuth("ghcr.io", "user", ""))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = New(WithStaticAuth("ghcr.io", "user", "pass"), WithPlainHTTP(true))
	assert.NoError(t, err)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.ErrorCode
	}{
		{"not found", errdef.ErrNotFound, errors.CodeNotFound},
		{"unauthorized", &errcode.ErrorResponse{StatusCode: http.StatusUnauthorized}, errors.CodeUnauthorized},
		{"forbidden", &errcode.ErrorResponse{StatusCode: http.StatusForbidden}, errors.CodeForbidden},
		{"canceled", context.Canceled, errors.CodeCanceled},
		{"timeout", context.DeadlineExceeded, errors.CodeTimeout},
		{"other", &errcode.ErrorResponse{StatusCode: http.StatusBadGateway}, errors.CodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.GetCode(mapError("pull", ref, tt.err)))
		})
	}
}
