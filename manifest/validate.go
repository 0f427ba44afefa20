package manifest

import (
	"path"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// Problem is a single semantic validation failure.
type Problem struct {
	Field   string
	Message string
	Err     error
}

func (p Problem) String() string {
	return p.Field + ": " + p.Message
}

// Problems collects every semantic failure found in a manifest.
func (m *Manifest) Problems() []Problem {
	var problems []Problem
	add := func(field, msg string, err error) {
		problems = append(problems, Problem{Field: field, Message: msg, Err: err})
	}

	if m.Base.Image == "" {
		add("base.image", "base image is required", nil)
	}

	seenArgs := make(map[string]bool, len(m.Args))
	for _, a := range m.Args {
		if seenArgs[a.Name] {
			add("args", "duplicate argument "+a.Name, nil)
		}
		seenArgs[a.Name] = true
	}

	allowed := make(map[string]bool, len(m.OS.AllowUnpinned))
	for _, name := range m.OS.AllowUnpinned {
		allowed[strings.ToLower(name)] = true
	}
	seenOS := make(map[string]bool, len(m.OS.Packages))
	for _, raw := range m.OS.Packages {
		spec, err := pin.ParseOS(raw)
		if err != nil {
			add("os.packages", err.Error(), err)
			continue
		}
		if seenOS[spec.Key()] {
			add("os.packages", "duplicate package "+spec.Name, nil)
		}
		seenOS[spec.Key()] = true
		if !spec.Pinned() && !allowed[spec.Key()] {
			add("os.packages", spec.Name+" is not pinned to a version", pin.ErrNotExact)
		}
	}

	seenPy := make(map[string]bool, len(m.Python.Packages))
	hasSource := false
	for _, raw := range m.Python.Packages {
		spec, err := pin.Parse(raw)
		if err != nil {
			add("python.packages", err.Error(), err)
			continue
		}
		if seenPy[spec.Key()] {
			add("python.packages", "duplicate package "+spec.Name, nil)
		}
		seenPy[spec.Key()] = true
		if spec.Kind == pin.KindSource {
			hasSource = true
		}
	}

	for _, opt := range m.Python.Options {
		if opt == "--no-deps" {
			add("python.options", "--no-deps leaves dependencies unresolved", nil)
		}
	}

	if h := m.CredentialHelper; h != nil {
		if !path.IsAbs(h.Dest) {
			add("credential_helper.dest", "destination must be an absolute path", nil)
		}
		if h.Source == "" {
			add("credential_helper.source", "source is required", nil)
		}
	}

	if hasSource {
		if m.CredentialHelper == nil {
			add("credential_helper", "source packages require a credential helper", nil)
		}
		for _, name := range []string{ArgGitAskpass, ArgGitAccessToken} {
			if !seenArgs[name] {
				add("args", name+" must be declared when source packages are present", nil)
			}
		}
	}

	return problems
}

// Validate performs semantic validation: every pin is exact, names are
// unique, and source packages come with a credential helper and the
// arguments it needs.
func (m *Manifest) Validate() error {
	problems := m.Problems()
	if len(problems) == 0 {
		return nil
	}

	msgs := make([]string, len(problems))
	for i, p := range problems {
		msgs[i] = p.String()
	}
	return errors.New(errors.CodeInvalidInput, "invalid manifest: "+strings.Join(msgs, "; ")).
		WithContext("problems", problems)
}
