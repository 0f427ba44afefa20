// Package manifest defines the declarative description of a build
// environment: the base image, build arguments, the credential helper and
// the ordered OS and Python package pins. A manifest is the single input to
// the environment builder.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
	"oras.land/oras-go/v2/registry"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
	schema "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/schemas"
)

// Well-known build arguments.
const (
	ArgRegistryHost   = "REGISTRY_HOST"
	ArgGitAskpass     = "GIT_ASKPASS"
	ArgGitAccessToken = "GIT_ACCESS_TOKEN"
)

// Supported Python installers.
const (
	InstallerPip = "pip"
	InstallerUV  = "uv"
)

// Manifest describes one build environment.
type Manifest struct {
	SchemaVersion    string            `yaml:"schema_version"`
	Name             string            `yaml:"name,omitempty"`
	Base             Base              `yaml:"base"`
	Args             []Arg             `yaml:"args,omitempty"`
	Env              map[string]string `yaml:"env,omitempty"`
	CredentialHelper *CredentialHelper `yaml:"credential_helper,omitempty"`
	OS               OSSection         `yaml:"os,omitempty"`
	Python           PythonSection     `yaml:"python"`
}

// Base is the base image reference. Registry may reference build arguments.
type Base struct {
	Registry string `yaml:"registry,omitempty"`
	Image    string `yaml:"image"`
}

// Arg is a declared build argument.
type Arg struct {
	Name    string `yaml:"name"`
	Default string `yaml:"default,omitempty"`
	Secret  bool   `yaml:"secret,omitempty"`
}

// CredentialHelper is the script copied into the image and consulted by git
// when fetching source packages.
type CredentialHelper struct {
	// Source is the helper path relative to the build context.
	Source string `yaml:"source"`
	// Dest is the absolute path of the helper inside the image.
	Dest string `yaml:"dest"`
}

// OSSection lists distribution packages installed before anything else.
type OSSection struct {
	Manager       string   `yaml:"manager,omitempty"`
	Packages      []string `yaml:"packages,omitempty"`
	AllowUnpinned []string `yaml:"allow_unpinned,omitempty"`
}

// PythonSection lists the Python packages in install order.
type PythonSection struct {
	Installer string   `yaml:"installer,omitempty"`
	Options   []string `yaml:"options,omitempty"`
	Packages  []string `yaml:"packages"`
}

// Load reads and parses a manifest from fsys.
func Load(fsys fs.Filesystem, path string) (*Manifest, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNotFound, "failed to read manifest",
			map[string]interface{}{"path": path})
	}
	m, err := Parse(data)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.GetCode(err), "failed to load manifest",
			map[string]interface{}{"path": path})
	}
	return m, nil
}

// Parse decodes a YAML manifest and validates it against the manifest schema.
// Semantic checks are left to Validate.
func Parse(data []byte) (*Manifest, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "manifest is not valid YAML")
	}
	if doc == nil {
		return nil, errors.New(errors.CodeInvalidInput, "manifest is empty")
	}
	if err := schema.Validate(schema.KindManifest, doc); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to decode manifest")
	}

	ok, err := schema.IsCompatible(m.SchemaVersion)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid schema_version")
	}
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"schema_version %s is not compatible with %s", m.SchemaVersion, schema.SchemaVersion)
	}

	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.OS.Manager == "" && len(m.OS.Packages) > 0 {
		m.OS.Manager = "apt"
	}
	if m.Python.Installer == "" {
		m.Python.Installer = InstallerPip
	}
}

// Marshal encodes the manifest as YAML. Output is deterministic.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode manifest")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode manifest")
	}
	return buf.Bytes(), nil
}

// Digest returns the sha256 digest of the canonical manifest encoding. Two
// manifests with the same digest declare the same build inputs.
func (m *Manifest) Digest() (digest.Digest, error) {
	data, err := m.Marshal()
	if err != nil {
		return "", err
	}
	return digest.FromBytes(data), nil
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	cp := *m
	cp.Args = append([]Arg(nil), m.Args...)
	if m.Env != nil {
		cp.Env = make(map[string]string, len(m.Env))
		for k, v := range m.Env {
			cp.Env[k] = v
		}
	}
	if m.CredentialHelper != nil {
		h := *m.CredentialHelper
		cp.CredentialHelper = &h
	}
	cp.OS.Packages = append([]string(nil), m.OS.Packages...)
	cp.OS.AllowUnpinned = append([]string(nil), m.OS.AllowUnpinned...)
	cp.Python.Options = append([]string(nil), m.Python.Options...)
	cp.Python.Packages = append([]string(nil), m.Python.Packages...)
	return &cp
}

// PythonPackages parses the declared Python packages in install order.
func (m *Manifest) PythonPackages() ([]pin.Spec, error) {
	specs := make([]pin.Spec, 0, len(m.Python.Packages))
	for _, raw := range m.Python.Packages {
		spec, err := pin.Parse(raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// OSPackages parses the declared OS packages in install order.
func (m *Manifest) OSPackages() ([]pin.Spec, error) {
	specs := make([]pin.Spec, 0, len(m.OS.Packages))
	for _, raw := range m.OS.Packages {
		spec, err := pin.ParseOS(raw)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// SourcePackages returns the Python packages fetched from source repositories.
func (m *Manifest) SourcePackages() ([]pin.Spec, error) {
	specs, err := m.PythonPackages()
	if err != nil {
		return nil, err
	}
	var out []pin.Spec
	for _, s := range specs {
		if s.Kind == pin.KindSource {
			out = append(out, s)
		}
	}
	return out, nil
}

// Arg returns the declared argument with the given name.
func (m *Manifest) Arg(name string) (Arg, bool) {
	for _, a := range m.Args {
		if a.Name == name {
			return a, true
		}
	}
	return Arg{}, false
}

// SecretArgs returns the names of arguments marked secret.
func (m *Manifest) SecretArgs() []string {
	var out []string
	for _, a := range m.Args {
		if a.Secret {
			out = append(out, a.Name)
		}
	}
	return out
}

// ResolveArgs merges the declared defaults with values. Only declared
// arguments are returned; undeclared values are ignored.
func (m *Manifest) ResolveArgs(values map[string]string) map[string]string {
	out := make(map[string]string, len(m.Args))
	for _, a := range m.Args {
		if v, ok := values[a.Name]; ok {
			out[a.Name] = v
			continue
		}
		if a.Default != "" {
			out[a.Name] = a.Default
		}
	}
	if m.CredentialHelper != nil {
		if _, declared := m.Arg(ArgGitAskpass); declared && out[ArgGitAskpass] == "" {
			out[ArgGitAskpass] = m.CredentialHelper.Dest
		}
	}
	return out
}

// BaseImage returns the fully expanded base image reference. Build argument
// references in the registry or image are substituted from args.
func (m *Manifest) BaseImage(args map[string]string) (string, error) {
	var missing []string
	expand := func(s string) string {
		return os.Expand(s, func(key string) string {
			v, ok := args[key]
			if !ok || v == "" {
				missing = append(missing, key)
			}
			return v
		})
	}

	image := expand(m.Base.Image)
	reg := strings.TrimSuffix(expand(m.Base.Registry), "/")
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", errors.Newf(errors.CodeInvalidInput,
			"base image references unset build arguments: %s", strings.Join(missing, ", "))
	}

	if reg == "" {
		return image, nil
	}
	ref := reg + "/" + image
	if _, err := registry.ParseReference(ref); err != nil {
		return "", errors.Wrapf(err, errors.CodeInvalidInput, "invalid base image reference %q", ref)
	}
	return ref, nil
}

// BaseImageTemplate returns the unexpanded base image reference as written
// in a FROM line.
func (m *Manifest) BaseImageTemplate() string {
	if m.Base.Registry == "" {
		return m.Base.Image
	}
	return strings.TrimSuffix(m.Base.Registry, "/") + "/" + m.Base.Image
}

// WithPin returns a copy of the manifest with the named Python package pinned
// to version. Only index packages can be re-pinned this way.
func (m *Manifest) WithPin(name, version string) (*Manifest, error) {
	cp := m.Clone()
	key := pin.Normalize(name)
	for i, raw := range cp.Python.Packages {
		spec, err := pin.Parse(raw)
		if err != nil {
			return nil, err
		}
		if spec.Key() != key {
			continue
		}
		if spec.Kind != pin.KindIndex {
			return nil, errors.Newf(errors.CodeInvalidInput, "%s is a source package; change its revision instead", name)
		}
		spec.Version = version
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		cp.Python.Packages[i] = spec.String()
		return cp, nil
	}
	return nil, errors.Newf(errors.CodeNotFound, "package %s is not declared", name)
}

// String returns a short description of the manifest.
func (m *Manifest) String() string {
	name := m.Name
	if name == "" {
		name = "environment"
	}
	return fmt.Sprintf("%s (%s, %d python packages)", name, m.BaseImageTemplate(), len(m.Python.Packages))
}
