// Package inventory describes the packages actually installed in a built
// image, as reported by pip and the distribution package manager.
package inventory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// DpkgQueryCommand lists installed Debian packages as name=version lines.
var DpkgQueryCommand = []string{"dpkg-query", "-W", "-f=${Package}=${Version}\\n"}

// Installed is one installed package.
type Installed struct {
	Name    string      `json:"name" yaml:"name"`
	Version string      `json:"version" yaml:"version"`
	Source  *pin.Source `json:"source,omitempty" yaml:"source,omitempty"`
}

// Inventory is the installed-package set of an image. Python packages are
// keyed by their normalized name, OS packages by lower-cased name.
type Inventory struct {
	Python map[string]Installed `json:"python"`
	OS     map[string]Installed `json:"os,omitempty"`
}

// New returns an empty inventory.
func New() *Inventory {
	return &Inventory{
		Python: make(map[string]Installed),
		OS:     make(map[string]Installed),
	}
}

// Lookup finds an installed package matching spec's kind and name.
func (inv *Inventory) Lookup(spec pin.Spec) (Installed, bool) {
	if spec.Kind == pin.KindOS {
		p, ok := inv.OS[spec.Key()]
		return p, ok
	}
	p, ok := inv.Python[spec.Key()]
	return p, ok
}

// Keys returns the Python package keys in sorted order.
func (inv *Inventory) Keys() []string {
	return sortedKeys(inv.Python)
}

// OSKeys returns the OS package keys in sorted order.
func (inv *Inventory) OSKeys() []string {
	return sortedKeys(inv.OS)
}

// Len returns the number of Python packages.
func (inv *Inventory) Len() int {
	return len(inv.Python)
}

type pipReport struct {
	Version   string `json:"version"`
	Installed []struct {
		Metadata struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"metadata"`
		DirectURL *struct {
			URL     string `json:"url"`
			VCSInfo *struct {
				VCS      string `json:"vcs"`
				CommitID string `json:"commit_id"`
			} `json:"vcs_info"`
		} `json:"direct_url"`
	} `json:"installed"`
}

// ParsePipInspect parses the JSON report printed by `pip inspect`. Packages
// installed from a VCS carry their URL and commit as Source.
func ParsePipInspect(data []byte) (*Inventory, error) {
	var report pipReport
	if err := json.Unmarshal(bytes.TrimSpace(data), &report); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "pip inspect output is not valid JSON")
	}
	if report.Version == "" {
		return nil, errors.New(errors.CodeInvalidInput, "pip inspect output has no report version")
	}

	inv := New()
	for _, p := range report.Installed {
		name := p.Metadata.Name
		if name == "" {
			return nil, errors.New(errors.CodeInvalidInput, "pip inspect entry has no name")
		}
		installed := Installed{Name: name, Version: p.Metadata.Version}
		if d := p.DirectURL; d != nil && d.VCSInfo != nil && d.VCSInfo.VCS == "git" {
			installed.Source = &pin.Source{URL: d.URL, Revision: d.VCSInfo.CommitID}
		}
		inv.Python[pin.Normalize(name)] = installed
	}
	return inv, nil
}

// ParseDpkgQuery adds OS packages from DpkgQueryCommand output to inv.
func (inv *Inventory) ParseDpkgQuery(data []byte) error {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		name, version, ok := strings.Cut(text, "=")
		if !ok || name == "" {
			return errors.Newf(errors.CodeInvalidInput, "dpkg-query line %d: expected name=version, got %q", line, text)
		}
		// Multi-arch packages are reported as name:arch.
		name, _, _ = strings.Cut(name, ":")
		inv.OS[strings.ToLower(name)] = Installed{Name: name, Version: version}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "failed to read dpkg-query output")
	}
	return nil
}

func sortedKeys(m map[string]Installed) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
