// Package pin models exact package pins: index packages pinned to a version,
// source packages pinned to a commit, and OS packages pinned to a distribution
// version. Ranges, wildcards and floating refs are rejected.
package pin

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// Kind identifies where a pinned package comes from.
type Kind int

const (
	// KindIndex is a Python package resolved from a package index.
	KindIndex Kind = iota
	// KindSource is a Python package built from a version-controlled source.
	KindSource
	// KindOS is an operating system package installed by the distribution package manager.
	KindOS
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindIndex:
		return "index"
	case KindSource:
		return "source"
	case KindOS:
		return "os"
	default:
		return "unknown"
	}
}

var (
	// ErrNotExact is returned for specifications that allow more than one version.
	ErrNotExact = stderrors.New("specification is not an exact pin")
	// ErrInvalidName is returned for malformed package names.
	ErrInvalidName = stderrors.New("invalid package name")
	// ErrInvalidVersion is returned for malformed versions.
	ErrInvalidVersion = stderrors.New("invalid version")
	// ErrInvalidRevision is returned when a source revision is not a full commit hash.
	ErrInvalidRevision = stderrors.New("revision must be a full SHA-1 commit hash")
	// ErrInvalidSource is returned for malformed source URLs.
	ErrInvalidSource = stderrors.New("invalid source URL")
)

var (
	pyNameRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?(\[[A-Za-z0-9._,-]+\])?$`)
	// PEP 440 public versions with optional local label. Wildcards never match.
	pyVersionRe = regexp.MustCompile(
		`^v?([0-9]+!)?[0-9]+(\.[0-9]+)*([-_.]?(a|b|c|rc|alpha|beta|pre|preview)[-_.]?[0-9]*)?` +
			`([-_.]?(post|rev|r)[-_.]?[0-9]*)?([-_.]?dev[-_.]?[0-9]*)?(\+[A-Za-z0-9]+([-_.][A-Za-z0-9]+)*)?$`)
	osNameRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)
	osVersionRe = regexp.MustCompile(`^[A-Za-z0-9.+~:-]+$`)
	revisionRe  = regexp.MustCompile(`^[0-9a-f]{40}$`)
	normalizeRe = regexp.MustCompile(`[-_.]+`)
	rangeOps    = []string{">=", "<=", "~=", "!=", ">", "<", "^", "~", "*", ","}
)

// Source is a version-controlled source pinned to an exact revision.
type Source struct {
	URL      string `json:"url" yaml:"url"`
	Revision string `json:"revision" yaml:"revision"`
}

// String renders the pip VCS reference for the source.
func (s Source) String() string {
	return "git+" + s.URL + "@" + s.Revision
}

// Host returns the host portion of the source URL.
func (s Source) Host() string {
	rest := s.URL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	return rest
}

// Spec is a single package specification.
type Spec struct {
	Name    string  `json:"name" yaml:"name"`
	Version string  `json:"version,omitempty" yaml:"version,omitempty"`
	Source  *Source `json:"source,omitempty" yaml:"source,omitempty"`
	Kind    Kind    `json:"-" yaml:"-"`

	// Arbitrary marks an index pin written with ===, which matches the
	// version string literally instead of by version semantics.
	Arbitrary bool `json:"-" yaml:"-"`
}

// Key returns the normalized name used to compare specifications.
func (s Spec) Key() string {
	if s.Kind == KindOS {
		return strings.ToLower(s.Name)
	}
	return Normalize(s.Name)
}

// Pinned reports whether the specification names a single version or commit.
func (s Spec) Pinned() bool {
	switch s.Kind {
	case KindSource:
		return s.Source != nil && s.Source.Revision != ""
	default:
		return s.Version != ""
	}
}

// String renders the argument passed to the installer for this specification.
func (s Spec) String() string {
	switch s.Kind {
	case KindSource:
		if s.Source == nil {
			return s.Name
		}
		return s.Name + " @ " + s.Source.String()
	case KindOS:
		if s.Version == "" {
			return s.Name
		}
		return s.Name + "=" + s.Version
	default:
		if s.Arbitrary {
			return s.Name + "===" + s.Version
		}
		return s.Name + "==" + s.Version
	}
}

// Matches reports whether an installed version satisfies an index or OS pin.
func (s Spec) Matches(version string) bool {
	if s.Arbitrary || s.Kind == KindOS {
		return s.Version == version
	}
	return Equal(s.Version, version)
}

// Validate checks that the specification is well formed and exact.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindIndex:
		if err := validatePyName(s.Name); err != nil {
			return err
		}
		return validatePyVersion(s.Name, s.Version)
	case KindSource:
		if err := validatePyName(s.Name); err != nil {
			return err
		}
		if s.Source == nil {
			return invalid(ErrNotExact, "%s: source package has no source", s.Name)
		}
		return validateSource(s.Name, *s.Source)
	case KindOS:
		if !osNameRe.MatchString(s.Name) {
			return invalid(ErrInvalidName, "%q", s.Name)
		}
		if s.Version == "" {
			return invalid(ErrNotExact, "%s: no version", s.Name)
		}
		if !osVersionRe.MatchString(s.Version) {
			return invalid(ErrInvalidVersion, "%s=%s", s.Name, s.Version)
		}
		return nil
	default:
		return invalid(ErrInvalidName, "%s: unknown kind %d", s.Name, s.Kind)
	}
}

// IsRevision reports whether rev is a full lower-case SHA-1 commit hash.
// SHA-256 object names are rejected because revisions are verified with a
// SHA-1 object store.
func IsRevision(rev string) bool {
	return revisionRe.MatchString(rev)
}

// Normalize returns the canonical form of a Python distribution name:
// lower case with runs of '-', '_' and '.' collapsed to '-'. Extras are dropped.
func Normalize(name string) string {
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return normalizeRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Parse parses a Python requirement, dispatching on its form: a VCS
// reference yields a source spec, anything else must be name==version.
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "git+") {
		return ParseSource(s)
	}
	return ParseRequirement(s)
}

// ParseRequirement parses an index requirement of the form name==version.
// The arbitrary-equality operator === is accepted as exact.
func ParseRequirement(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, invalid(ErrInvalidName, "empty requirement")
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		return Spec{}, invalid(ErrNotExact, "%q: environment markers are not supported", s)
	}

	var name, version string
	arbitrary := false
	switch {
	case strings.Contains(s, "==="):
		name, version, _ = strings.Cut(s, "===")
		arbitrary = true
	case strings.Contains(s, "=="):
		name, version, _ = strings.Cut(s, "==")
	default:
		return Spec{}, invalid(ErrNotExact, "%q: expected name==version", s)
	}

	spec := Spec{
		Name:    strings.TrimSpace(name),
		Version:   strings.TrimSpace(version),
		Kind:      KindIndex,
		Arbitrary: arbitrary,
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ParseSource parses a source requirement. Accepted forms:
//
//	git+https://host/org/repo@<commit>
//	git+https://host/org/repo@<commit>#egg=name
//	name @ git+https://host/org/repo@<commit>
func ParseSource(s string) (Spec, error) {
	s = strings.TrimSpace(s)

	var name string
	if before, after, ok := strings.Cut(s, " @ "); ok {
		name = strings.TrimSpace(before)
		s = strings.TrimSpace(after)
	}
	if !strings.HasPrefix(s, "git+") {
		return Spec{}, invalid(ErrInvalidSource, "%q: expected git+ URL", s)
	}
	s = strings.TrimPrefix(s, "git+")

	if ref, fragment, ok := strings.Cut(s, "#"); ok {
		s = ref
		for _, part := range strings.Split(fragment, "&") {
			if v, found := strings.CutPrefix(part, "egg="); found && name == "" {
				name = v
			}
		}
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd < 0 {
		return Spec{}, invalid(ErrInvalidSource, "%q: missing scheme", s)
	}
	at := strings.LastIndex(s, "@")
	if at < schemeEnd || strings.Contains(s[at:], "/") {
		return Spec{}, invalid(ErrNotExact, "%q: no revision", s)
	}
	src := Source{URL: s[:at], Revision: s[at+1:]}

	if name == "" {
		name = repoName(src.URL)
	}

	spec := Spec{Name: name, Source: &src, Kind: KindSource}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ParseOS parses an OS package of the form name=version. A bare name parses
// successfully but is not Pinned; callers decide whether it is allowed.
func ParseOS(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	name, version, hasVersion := strings.Cut(s, "=")
	spec := Spec{Name: strings.TrimSpace(name), Version: strings.TrimSpace(version), Kind: KindOS}

	if !osNameRe.MatchString(spec.Name) {
		return Spec{}, invalid(ErrInvalidName, "%q", s)
	}
	if hasVersion {
		if err := spec.Validate(); err != nil {
			return Spec{}, err
		}
	}
	return spec, nil
}

func validatePyName(name string) error {
	if !pyNameRe.MatchString(name) {
		return invalid(ErrInvalidName, "%q", name)
	}
	return nil
}

func validatePyVersion(name, version string) error {
	if version == "" {
		return invalid(ErrNotExact, "%s: no version", name)
	}
	for _, op := range rangeOps {
		if strings.Contains(version, op) {
			return invalid(ErrNotExact, "%s: %q contains %q", name, version, op)
		}
	}
	if !pyVersionRe.MatchString(version) {
		return invalid(ErrInvalidVersion, "%s==%s", name, version)
	}
	return nil
}

func validateSource(name string, src Source) error {
	if !strings.HasPrefix(src.URL, "https://") && !strings.HasPrefix(src.URL, "http://") &&
		!strings.HasPrefix(src.URL, "ssh://") && !strings.HasPrefix(src.URL, "file://") {
		return invalid(ErrInvalidSource, "%s: unsupported URL %q", name, src.URL)
	}
	if src.Revision == "" {
		return invalid(ErrNotExact, "%s: no revision", name)
	}
	if !IsRevision(src.Revision) {
		return invalid(ErrInvalidRevision, "%s@%s", name, src.Revision)
	}
	return nil
}

func repoName(url string) string {
	url = strings.TrimSuffix(strings.TrimSuffix(url, "/"), ".git")
	if i := strings.LastIndex(url, "/"); i >= 0 {
		return url[i+1:]
	}
	return url
}

func invalid(sentinel error, format string, args ...interface{}) error {
	return errors.Wrap(sentinel, errors.CodeInvalidInput, fmt.Sprintf(format, args...))
}
