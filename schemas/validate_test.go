package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

func decode(t *testing.T, src string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))
	return doc
}

func TestValidate_Manifest(t *testing.T) {
	valid := `
schema_version: "1.0.0"
name: dynamicrouting-encoding
base:
  registry: ${REGISTRY_HOST}
  image: codeocean/mambaforge3:23.1.0-4-python3.10.12-ubuntu22.04
args:
  - name: GIT_ACCESS_TOKEN
    secret: true
credential_helper:
  source: git-askpass
  dest: /git-askpass
os:
  manager: apt
  packages: [build-essential]
  allow_unpinned: [build-essential]
python:
  installer: pip
  options: [--no-cache-dir]
  packages:
    - aind-data-schema-models==0.5.7
`
	require.NoError(t, Validate(KindManifest, decode(t, valid)))

	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{
			name:  "missing base",
			doc:   "schema_version: \"1.0.0\"\npython: {packages: [a==1]}\n",
			field: "(root)",
		},
		{
			name:  "empty packages",
			doc:   "schema_version: \"1.0.0\"\nbase: {image: x}\npython: {packages: []}\n",
			field: "python.packages",
		},
		{
			name:  "relative helper dest",
			doc:   "schema_version: \"1.0.0\"\nbase: {image: x}\ncredential_helper: {source: a, dest: rel}\npython: {packages: [a==1]}\n",
			field: "credential_helper.dest",
		},
		{
			name:  "unknown key",
			doc:   "schema_version: \"1.0.0\"\nbase: {image: x}\npython: {packages: [a==1]}\nextra: true\n",
			field: "(root)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fieldErrs, err := Check(KindManifest, decode(t, tt.doc))
			require.NoError(t, err)
			require.NotEmpty(t, fieldErrs)

			var fields []string
			for _, fe := range fieldErrs {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)

			err = Validate(KindManifest, decode(t, tt.doc))
			require.Error(t, err)
			assert.Equal(t, errors.CodeSchemaFailed, errors.GetCode(err))
		})
	}
}

func TestValidate_Config(t *testing.T) {
	doc := decode(t, `
version: "1.0.0"
backend: docker
secrets:
  git_access_token:
    provider: env
    path: GIT_ACCESS_TOKEN
`)
	require.NoError(t, Validate(KindConfig, doc))

	bad := decode(t, "version: \"1.0.0\"\nbackend: podman\n")
	assert.Error(t, Validate(KindConfig, bad))
}

func TestValidate_UnknownKind(t *testing.T) {
	err := Validate(Kind("nope"), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.GetCode(err))
}
