// Package lockfile records what a build actually produced: the manifest
// digest it was built from, the base image, and every installed package at
// its resolved version. Two lockfiles from identical inputs should compare
// equal.
package lockfile

import (
	"bytes"
	"maps"
	"sort"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
	schema "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/schemas"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/verify"
)

// DefaultName is the conventional lockfile name.
const DefaultName = "envbuild.lock"

// Lock is the record of one build.
type Lock struct {
	SchemaVersion  string                 `yaml:"schema_version" json:"schema_version"`
	BuildID        string                 `yaml:"build_id" json:"build_id"`
	ManifestDigest digest.Digest          `yaml:"manifest_digest" json:"manifest_digest"`
	BaseImage      string                 `yaml:"base_image" json:"base_image"`
	ImageID        string                 `yaml:"image_id,omitempty" json:"image_id,omitempty"`
	Backend        string                 `yaml:"backend,omitempty" json:"backend,omitempty"`
	BuiltAt        time.Time              `yaml:"built_at" json:"built_at"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Packages       []LockedPackage        `yaml:"packages" json:"packages"`
}

// LockedPackage is one installed package.
type LockedPackage struct {
	Name    string      `yaml:"name" json:"name"`
	Version string      `yaml:"version" json:"version"`
	Source  *pin.Source `yaml:"source,omitempty" json:"source,omitempty"`
	// Declared is true for packages named in the manifest, false for
	// dependencies the installer resolved.
	Declared bool `yaml:"declared,omitempty" json:"declared,omitempty"`
	OS       bool `yaml:"os,omitempty" json:"os,omitempty"`
}

// Build carries what New needs from a finished build.
type Build struct {
	Manifest  *manifest.Manifest
	BaseImage string
	ImageID   string
	Backend   string
	Inventory *inventory.Inventory
	BuiltAt   time.Time
	Metadata  map[string]interface{}
}

// New creates a lock for b with a fresh build ID. Python packages are
// listed before OS packages, each sorted by name.
func New(b Build) (*Lock, error) {
	if b.Manifest == nil || b.Inventory == nil {
		return nil, errors.New(errors.CodeInvalidInput, "lock requires a manifest and an inventory")
	}
	d, err := b.Manifest.Digest()
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool)
	py, err := b.Manifest.PythonPackages()
	if err != nil {
		return nil, err
	}
	for _, s := range py {
		declared[s.Key()] = true
	}
	osDeclared := make(map[string]bool)
	osSpecs, err := b.Manifest.OSPackages()
	if err != nil {
		return nil, err
	}
	for _, s := range osSpecs {
		osDeclared[s.Key()] = true
	}

	builtAt := b.BuiltAt
	if builtAt.IsZero() {
		builtAt = time.Now()
	}

	l := &Lock{
		SchemaVersion:  schema.SchemaVersion,
		BuildID:        uuid.NewString(),
		ManifestDigest: d,
		BaseImage:      b.BaseImage,
		ImageID:        b.ImageID,
		Backend:        b.Backend,
		BuiltAt:        builtAt.UTC().Truncate(time.Second),
		Metadata:       b.Metadata,
	}
	for _, key := range b.Inventory.Keys() {
		p := b.Inventory.Python[key]
		l.Packages = append(l.Packages, LockedPackage{
			Name:     p.Name,
			Version:  p.Version,
			Source:   p.Source,
			Declared: declared[key],
		})
	}
	for _, key := range b.Inventory.OSKeys() {
		p := b.Inventory.OS[key]
		l.Packages = append(l.Packages, LockedPackage{
			Name:     p.Name,
			Version:  p.Version,
			Declared: osDeclared[key],
			OS:       true,
		})
	}
	return l, nil
}

// Inventory converts the lock back into an installed-package set.
func (l *Lock) Inventory() *inventory.Inventory {
	inv := inventory.New()
	for _, p := range l.Packages {
		installed := inventory.Installed{Name: p.Name, Version: p.Version, Source: p.Source}
		if p.OS {
			inv.OS[pin.Spec{Name: p.Name, Kind: pin.KindOS}.Key()] = installed
			continue
		}
		inv.Python[pin.Normalize(p.Name)] = installed
	}
	return inv
}

// Declared returns the packages named in the manifest.
func (l *Lock) Declared() []LockedPackage {
	var out []LockedPackage
	for _, p := range l.Packages {
		if p.Declared {
			out = append(out, p)
		}
	}
	return out
}

// Marshal encodes the lock as YAML.
func (l *Lock) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode lock")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode lock")
	}
	return buf.Bytes(), nil
}

// Parse decodes a YAML lock and validates it against the lock schema.
func Parse(data []byte) (*Lock, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "lock is not valid YAML")
	}
	if doc == nil {
		return nil, errors.New(errors.CodeInvalidInput, "lock is empty")
	}
	if err := schema.Validate(schema.KindLock, doc); err != nil {
		return nil, err
	}

	var l Lock
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to decode lock")
	}
	if err := l.ManifestDigest.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid manifest_digest")
	}
	ok, err := schema.IsCompatible(l.SchemaVersion)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid schema_version")
	}
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"lock schema_version %s is not compatible with %s", l.SchemaVersion, schema.SchemaVersion)
	}
	return &l, nil
}

// Read loads a lock from fsys.
func Read(fsys fs.Filesystem, path string) (*Lock, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNotFound, "failed to read lock",
			map[string]interface{}{"path": path})
	}
	l, err := Parse(data)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.GetCode(err), "failed to load lock",
			map[string]interface{}{"path": path})
	}
	return l, nil
}

// Write atomically replaces the lock at path on the local disk, so a
// crashed build never leaves a truncated lock behind.
func Write(path string, l *Lock) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to write lock",
			map[string]interface{}{"path": path})
	}
	return nil
}

// WriteFS writes the lock to fsys. Unlike Write it is not atomic.
func WriteFS(fsys fs.Filesystem, path string, l *Lock) error {
	data, err := l.Marshal()
	if err != nil {
		return err
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithContext(err, errors.CodeInternal, "failed to write lock",
			map[string]interface{}{"path": path})
	}
	return nil
}

// Diff compares two locks package by package. Build IDs, timestamps and
// metadata are ignored.
func Diff(a, b *Lock) verify.Report {
	r := verify.Reproducible(a.Inventory(), b.Inventory())
	if a.ManifestDigest != b.ManifestDigest {
		r.Notes = append(r.Notes, "locks were built from different manifests ("+
			short(a.ManifestDigest)+" vs "+short(b.ManifestDigest)+")")
	}
	if a.BaseImage != b.BaseImage {
		r.Notes = append(r.Notes, "base images differ: "+a.BaseImage+" vs "+b.BaseImage)
	}
	return r
}

func short(d digest.Digest) string {
	e := d.Encoded()
	if len(e) > 12 {
		return e[:12]
	}
	return e
}

// MergeParams returns params with every top-level key of overrides
// replaced. Nested objects are replaced, not merged.
func MergeParams(params, overrides map[string]interface{}) map[string]interface{} {
	if params == nil && overrides == nil {
		return nil
	}
	out := make(map[string]interface{}, len(params)+len(overrides))
	maps.Copy(out, params)
	maps.Copy(out, overrides)
	return out
}

// MetadataKeys returns the metadata keys in sorted order.
func (l *Lock) MetadataKeys() []string {
	keys := make([]string, 0, len(l.Metadata))
	for k := range l.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
