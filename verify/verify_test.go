package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

const (
	draURL = "https://github.com/AllenInstitute/dynamic_routing_analysis"
	draRev = "4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a"
)

const testManifest = `
schema_version: "1.0.0"
base:
  image: codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04
args:
  - name: GIT_ASKPASS
  - name: GIT_ACCESS_TOKEN
    secret: true
credential_helper:
  source: git-askpass
  dest: /git-askpass
os:
  packages:
    - build-essential
    - git=1:2.34.1-1ubuntu1.11
  allow_unpinned:
    - build-essential
python:
  packages:
    - aind-data-schema-models==0.5.7
    - numpy==1.26.4
    - dynamic_routing_analysis @ git+https://github.com/AllenInstitute/dynamic_routing_analysis@4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a
`

func loadManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(testManifest))
	require.NoError(t, err)
	return m
}

// builtInventory is what a correct build of testManifest reports.
func builtInventory() *inventory.Inventory {
	inv := inventory.New()
	inv.Python["aind-data-schema-models"] = inventory.Installed{Name: "aind-data-schema-models", Version: "0.5.7"}
	inv.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.4"}
	inv.Python["pydantic"] = inventory.Installed{Name: "pydantic", Version: "2.7.1"}
	inv.Python["dynamic-routing-analysis"] = inventory.Installed{
		Name:    "dynamic_routing_analysis",
		Version: "0.1.0",
		Source:  &pin.Source{URL: draURL + ".git", Revision: draRev},
	}
	inv.OS["build-essential"] = inventory.Installed{Name: "build-essential", Version: "12.9ubuntu3"}
	inv.OS["git"] = inventory.Installed{Name: "git", Version: "1:2.34.1-1ubuntu1.11"}
	return inv
}

func TestPins(t *testing.T) {
	m := loadManifest(t)

	t.Run("exact", func(t *testing.T) {
		r, err := Pins(m, builtInventory())
		require.NoError(t, err)
		assert.True(t, r.OK(), r.String())
		assert.NoError(t, r.Err())
	})

	t.Run("scenario aind-data-schema-models 0.5.7", func(t *testing.T) {
		inv := builtInventory()
		got, ok := inv.Lookup(pin.Spec{Name: "aind-data-schema-models"})
		require.True(t, ok)
		assert.Equal(t, "0.5.7", got.Version)

		inv.Python["aind-data-schema-models"] = inventory.Installed{Name: "aind-data-schema-models", Version: "0.5.8"}
		r, err := Pins(m, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 1)
		f := r.Findings[0]
		assert.Equal(t, KindVersion, f.Kind)
		assert.Equal(t, "0.5.7", f.Expected)
		assert.Equal(t, "0.5.8", f.Actual)
		assert.Equal(t, pin.DirectionUpgrade, f.Direction)
	})

	t.Run("downgrade and missing", func(t *testing.T) {
		inv := builtInventory()
		inv.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.0"}
		delete(inv.Python, "aind-data-schema-models")

		r, err := Pins(m, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 2)
		assert.Equal(t, KindMissing, r.Findings[0].Kind)
		assert.Equal(t, "aind-data-schema-models", r.Findings[0].Package)
		assert.Equal(t, pin.DirectionDowngrade, r.Findings[1].Direction)
	})

	t.Run("source at other commit", func(t *testing.T) {
		inv := builtInventory()
		inv.Python["dynamic-routing-analysis"] = inventory.Installed{
			Name:   "dynamic_routing_analysis",
			Source: &pin.Source{URL: draURL, Revision: "0000000000000000000000000000000000000000"},
		}
		r, err := Pins(m, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 1)
		assert.Equal(t, KindSource, r.Findings[0].Kind)
	})

	t.Run("source installed from index", func(t *testing.T) {
		inv := builtInventory()
		inv.Python["dynamic-routing-analysis"] = inventory.Installed{Name: "dynamic_routing_analysis", Version: "0.1.0"}
		r, err := Pins(m, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 1)
		assert.Equal(t, KindSource, r.Findings[0].Kind)
	})

	t.Run("os version drift", func(t *testing.T) {
		inv := builtInventory()
		inv.OS["git"] = inventory.Installed{Name: "git", Version: "1:2.34.1-1ubuntu1.12"}
		r, err := Pins(m, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 1)
		assert.True(t, r.Findings[0].OS)
		assert.Contains(t, r.String(), "os:git")
	})

	t.Run("arbitrary equality is literal", func(t *testing.T) {
		arb, err := m.WithPin("numpy", "1.26.4")
		require.NoError(t, err)
		arb.Python.Packages[1] = "numpy===1.26.4"

		r, err := Pins(arb, builtInventory())
		require.NoError(t, err)
		assert.True(t, r.OK(), r.String())

		inv := builtInventory()
		inv.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.4.0"}
		r, err = Pins(arb, inv)
		require.NoError(t, err)
		require.Len(t, r.Findings, 1)
		assert.Equal(t, KindVersion, r.Findings[0].Kind)

		r, err = Pins(m, inv)
		require.NoError(t, err)
		assert.True(t, r.OK(), r.String())
	})

	t.Run("no os inventory", func(t *testing.T) {
		inv := builtInventory()
		inv.OS = nil
		r, err := Pins(m, inv)
		require.NoError(t, err)
		assert.True(t, r.OK())
		assert.Len(t, r.Notes, 1)
	})
}

func TestReport_Err(t *testing.T) {
	r := Report{Check: CheckPins, Findings: []Finding{{Kind: KindVersion, Package: "numpy", Expected: "1.26.4", Actual: "2.0.0"}}}
	err := r.Err()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.GetCode(err))
	assert.Contains(t, err.Error(), "numpy: expected 1.26.4, got 2.0.0")
}

func TestReproducible(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		r := Reproducible(builtInventory(), builtInventory())
		assert.True(t, r.OK(), r.String())
	})

	t.Run("drift", func(t *testing.T) {
		b := builtInventory()
		b.Python["pydantic"] = inventory.Installed{Name: "pydantic", Version: "2.8.0"}
		b.Python["typing-extensions"] = inventory.Installed{Name: "typing_extensions", Version: "4.12.2"}
		delete(b.Python, "numpy")
		b.OS["git"] = inventory.Installed{Name: "git", Version: "1:2.34.1-1ubuntu1.12"}

		r := Reproducible(builtInventory(), b)
		require.Len(t, r.Findings, 4)
		kinds := map[string]FindingKind{}
		for _, f := range r.Findings {
			kinds[f.Package] = f.Kind
		}
		assert.Equal(t, KindRemoved, kinds["numpy"])
		assert.Equal(t, KindVersion, kinds["pydantic"])
		assert.Equal(t, KindAdded, kinds["typing_extensions"])
		assert.Equal(t, KindVersion, kinds["git"])
		assert.True(t, r.Findings[3].OS)
	})

	t.Run("one side without os", func(t *testing.T) {
		b := builtInventory()
		b.OS = nil
		r := Reproducible(builtInventory(), b)
		assert.True(t, r.OK())
		assert.Len(t, r.Notes, 1)
	})
}

func TestIsolation(t *testing.T) {
	before := builtInventory()

	after := builtInventory()
	after.Python["numpy"] = inventory.Installed{Name: "numpy", Version: "1.26.3"}
	r := Isolation(before, after, "numpy")
	assert.True(t, r.OK(), r.String())

	after.Python["pydantic"] = inventory.Installed{Name: "pydantic", Version: "2.6.0"}
	r = Isolation(before, after, "NumPy")
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "pydantic", r.Findings[0].Package)
	assert.Equal(t, pin.DirectionDowngrade, r.Findings[0].Direction)
}

func TestSameURL(t *testing.T) {
	assert.True(t, sameURL(draURL, draURL+".git"))
	assert.True(t, sameURL(draURL+"/", "https://GitHub.com/AllenInstitute/dynamic_routing_analysis"))
	assert.True(t, sameURL("https://x-access-token@github.com/org/repo", "https://github.com/org/repo"))
	assert.False(t, sameURL("https://github.com/org/repo", "https://github.com/org/other"))
}
