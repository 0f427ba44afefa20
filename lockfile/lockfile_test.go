package lockfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

const testManifest = `
schema_version: "1.0.0"
base:
  image: codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04
os:
  packages:
    - build-essential
  allow_unpinned:
    - build-essential
python:
  packages:
    - aind-data-schema-models==0.5.7
    - numpy==1.26.4
`

func newLock(t *testing.T) *Lock {
	t.Helper()
	m, err := manifest.Parse([]byte(testManifest))
	require.NoError(t, err)

	inv := inventory.New()
	inv.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.4"}
	inv.Python["aind-data-schema-models"] = inventory.Installed{Name: "aind-data-schema-models", Version: "0.5.7"}
	inv.Python["pydantic"] = inventory.Installed{Name: "pydantic", Version: "2.7.1"}
	inv.Python["dynamic-routing-analysis"] = inventory.Installed{
		Name:    "dynamic_routing_analysis",
		Version: "0.1.0",
		Source: &pin.Source{
			URL:      "https://github.com/AllenInstitute/dynamic_routing_analysis",
			Revision: "4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a",
		},
	}
	inv.OS["build-essential"] = inventory.Installed{Name: "build-essential", Version: "12.9ubuntu3"}

	l, err := New(Build{
		Manifest:  m,
		BaseImage: "registry.example.org/codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04",
		ImageID:   "sha256:5d41402abc4b2a76b9719d911017c592",
		Backend:   "docker",
		Inventory: inv,
		BuiltAt:   time.Date(2024, 5, 1, 12, 0, 0, 500, time.FixedZone("PDT", -7*3600)),
		Metadata:  map[string]interface{}{"session_id": "676909_2023-12-13"},
	})
	require.NoError(t, err)
	return l
}

func TestNew(t *testing.T) {
	l := newLock(t)

	_, err := uuid.Parse(l.BuildID)
	assert.NoError(t, err)
	assert.Equal(t, "1.0.0", l.SchemaVersion)
	assert.NoError(t, l.ManifestDigest.Validate())
	assert.Equal(t, time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC), l.BuiltAt)

	names := make([]string, len(l.Packages))
	for i, p := range l.Packages {
		names[i] = p.Name
	}
	assert.Equal(t, []string{
		"aind-data-schema-models", "dynamic_routing_analysis", "numpy", "pydantic", "build-essential",
	}, names)

	declared := l.Declared()
	require.Len(t, declared, 3)
	assert.Equal(t, "aind-data-schema-models", declared[0].Name)
	assert.True(t, l.Packages[4].OS)
	assert.True(t, l.Packages[4].Declared)
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Build{})
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestMarshalParse(t *testing.T) {
	l := newLock(t)
	data, err := l.Marshal()
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, l.BuildID, got.BuildID)
	assert.Equal(t, l.ManifestDigest, got.ManifestDigest)
	assert.True(t, l.BuiltAt.Equal(got.BuiltAt))
	assert.Equal(t, l.Packages, got.Packages)
	assert.Equal(t, "676909_2023-12-13", got.Metadata["session_id"])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not yaml", "packages: [\n"},
		{"missing fields", "schema_version: \"1.0.0\"\n"},
		{"bad digest", `schema_version: "1.0.0"
build_id: x
manifest_digest: md5:abc
base_image: img
packages: []
`},
		{"incompatible", `schema_version: "2.0.0"
build_id: x
manifest_digest: sha256:2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae
base_image: img
packages: []
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestWriteRead(t *testing.T) {
	l := newLock(t)
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultName)

	require.NoError(t, Write(path, l))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	got, err := Read(billy.NewBaseOSFS(), path)
	require.NoError(t, err)
	assert.Equal(t, l.Packages, got.Packages)

	// Overwrite in place.
	l.ImageID = "sha256:other"
	require.NoError(t, Write(path, l))
	got, err = Read(billy.NewBaseOSFS(), path)
	require.NoError(t, err)
	assert.Equal(t, "sha256:other", got.ImageID)
}

func TestWriteFS_ReadMissing(t *testing.T) {
	fsys := billy.NewInMemoryFS()
	l := newLock(t)
	require.NoError(t, WriteFS(fsys, "/env/envbuild.lock", l))

	got, err := Read(fsys, "/env/envbuild.lock")
	require.NoError(t, err)
	assert.Equal(t, l.BuildID, got.BuildID)

	_, err = Read(fsys, "/env/missing.lock")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestDiff(t *testing.T) {
	a := newLock(t)
	b := newLock(t)
	assert.NotEqual(t, a.BuildID, b.BuildID)

	r := Diff(a, b)
	assert.True(t, r.OK(), r.String())
	assert.Empty(t, r.Notes)

	b.Packages[3].Version = "2.8.0"
	b.BaseImage = "other"
	r = Diff(a, b)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, verify.KindVersion, r.Findings[0].Kind)
	assert.Equal(t, "pydantic", r.Findings[0].Package)
	assert.Len(t, r.Notes, 1)
}

func TestInventory(t *testing.T) {
	inv := newLock(t).Inventory()
	assert.Equal(t, 4, inv.Len())
	assert.Equal(t, "0.5.7", inv.Python["aind-data-schema-models"].Version)
	assert.NotNil(t, inv.Python["dynamic-routing-analysis"].Source)
	assert.Equal(t, "12.9ubuntu3", inv.OS["build-essential"].Version)
}

func TestMergeParams(t *testing.T) {
	params := map[string]interface{}{
		"session_id": "676909_2023-12-13",
		"model":      map[string]interface{}{"features": []interface{}{"licks"}, "folds": 5},
	}
	overrides := map[string]interface{}{
		"model": map[string]interface{}{"folds": 10},
		"test":  true,
	}

	got := MergeParams(params, overrides)
	assert.Equal(t, "676909_2023-12-13", got["session_id"])
	assert.Equal(t, map[string]interface{}{"folds": 10}, got["model"])
	assert.Equal(t, true, got["test"])
	assert.Len(t, params, 2)

	assert.Nil(t, MergeParams(nil, nil))
}
