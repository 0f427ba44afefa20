// Package verify checks built environments against their manifest and
// against each other: exact pins, reproducibility between two builds, and
// isolation when a single pin changes.
package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// Check names.
const (
	CheckPins         = "pins"
	CheckReproducible = "reproducible"
	CheckIsolation    = "isolation"
)

// FindingKind classifies a finding.
type FindingKind string

const (
	// KindMissing means a declared package is not installed.
	KindMissing FindingKind = "missing"
	// KindVersion means a package is installed at a different version.
	KindVersion FindingKind = "version"
	// KindSource means a source package came from a different URL or commit.
	KindSource FindingKind = "source"
	// KindAdded means a package is present in the second set only.
	KindAdded FindingKind = "added"
	// KindRemoved means a package is present in the first set only.
	KindRemoved FindingKind = "removed"
)

// Finding is one discrepancy.
type Finding struct {
	Kind      FindingKind   `json:"kind" yaml:"kind"`
	Package   string        `json:"package" yaml:"package"`
	OS        bool          `json:"os,omitempty" yaml:"os,omitempty"`
	Expected  string        `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual    string        `json:"actual,omitempty" yaml:"actual,omitempty"`
	Direction pin.Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// String renders the finding on one line.
func (f Finding) String() string {
	name := f.Package
	if f.OS {
		name = "os:" + name
	}
	switch f.Kind {
	case KindMissing:
		return fmt.Sprintf("%s: declared %s but not installed", name, f.Expected)
	case KindAdded:
		return fmt.Sprintf("%s: added at %s", name, f.Actual)
	case KindRemoved:
		return fmt.Sprintf("%s: removed (was %s)", name, f.Expected)
	case KindVersion:
		if f.Direction != "" {
			return fmt.Sprintf("%s: expected %s, got %s (%s)", name, f.Expected, f.Actual, f.Direction)
		}
		return fmt.Sprintf("%s: expected %s, got %s", name, f.Expected, f.Actual)
	default:
		return fmt.Sprintf("%s: expected %s, got %s", name, f.Expected, f.Actual)
	}
}

// Report is the outcome of one check.
type Report struct {
	Check    string    `json:"check" yaml:"check"`
	Findings []Finding `json:"findings" yaml:"findings"`
	// Notes records checks that were skipped or limited, e.g. when no OS
	// inventory was collected.
	Notes []string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// OK reports whether the check found no discrepancies.
func (r Report) OK() bool {
	return len(r.Findings) == 0
}

// String renders the report, one finding per line.
func (r Report) String() string {
	var b strings.Builder
	if r.OK() {
		fmt.Fprintf(&b, "%s: ok", r.Check)
	} else {
		fmt.Fprintf(&b, "%s: %d finding(s)", r.Check, len(r.Findings))
	}
	for _, f := range r.Findings {
		b.WriteString("\n  ")
		b.WriteString(f.String())
	}
	for _, n := range r.Notes {
		b.WriteString("\n  note: ")
		b.WriteString(n)
	}
	return b.String()
}

// Err returns nil when the report is OK, otherwise a CodeConflict error
// listing the findings.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	lines := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		lines[i] = f.String()
	}
	return errors.WrapWithContext(
		fmt.Errorf("%s", strings.Join(lines, "; ")),
		errors.CodeConflict,
		fmt.Sprintf("%s check failed", r.Check),
		map[string]interface{}{"findings": r.Findings},
	)
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

func (r *Report) sort() {
	sort.SliceStable(r.Findings, func(i, j int) bool {
		a, b := r.Findings[i], r.Findings[j]
		if a.OS != b.OS {
			return !a.OS
		}
		return a.Package < b.Package
	})
}

// sameURL compares repository URLs ignoring a trailing slash or .git suffix
// and letter case of the host.
func sameURL(a, b string) bool {
	return canonicalURL(a) == canonicalURL(b)
}

func canonicalURL(u string) string {
	u = strings.TrimSuffix(strings.TrimSuffix(u, "/"), ".git")
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return u
	}
	host, path, _ := strings.Cut(rest, "/")
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	return scheme + "://" + strings.ToLower(host) + "/" + path
}
