package manifest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

var argRefRe = regexp.MustCompile(`\$\{?([A-Za-z_][A-Za-z0-9_]*)\}?`)

// Dockerfile renders the manifest as a Dockerfile-style build script. The
// output parses back into an equivalent manifest with buildfile.Parse.
func (m *Manifest) Dockerfile() (string, error) {
	steps, err := m.Steps()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&b, "# %s\n", m.Name)
	}

	// Arguments used in FROM must be declared before it.
	preFrom := make(map[string]bool)
	for _, match := range argRefRe.FindAllStringSubmatch(m.BaseImageTemplate(), -1) {
		preFrom[match[1]] = true
	}
	for _, a := range m.Args {
		if preFrom[a.Name] {
			b.WriteString(argLine(a))
		}
	}
	fmt.Fprintf(&b, "FROM %s\n", m.BaseImageTemplate())

	var postArgs []string
	for _, a := range m.Args {
		if !preFrom[a.Name] {
			postArgs = append(postArgs, argLine(a))
		}
	}
	if len(postArgs) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(postArgs, ""))
	}

	if len(m.Env) > 0 {
		keys := make([]string, 0, len(m.Env))
		for k := range m.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "ENV %s=%s\n", k, shellquote.Join(m.Env[k]))
		}
	}

	for _, step := range steps {
		b.WriteString("\n")
		switch step.Kind {
		case StepCredentialHelper:
			fmt.Fprintf(&b, "COPY %s %s\n", step.Source, step.Dest)
		case StepOSPackages:
			fmt.Fprintf(&b, "RUN %s\n", step.Script())
		case StepPythonPackages:
			head := len(step.Command) - len(step.Packages)
			parts := []string{shellquote.Join(step.Command[:head]...)}
			for _, arg := range step.Command[head:] {
				parts = append(parts, shellquote.Join(arg))
			}
			fmt.Fprintf(&b, "RUN %s\n", joinContinued(parts, "    "))
		}
	}

	return b.String(), nil
}

func argLine(a Arg) string {
	if a.Default != "" {
		return fmt.Sprintf("ARG %s=%s\n", a.Name, a.Default)
	}
	return fmt.Sprintf("ARG %s\n", a.Name)
}
