package buildfile

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
)

// InstallerApt identifies apt-get and apt invocations.
const InstallerApt = "apt"

// Install is one package installer invocation found in a RUN instruction.
type Install struct {
	Installer        string // InstallerApt, manifest.InstallerPip or manifest.InstallerUV
	Options          []string
	Packages         []string
	RequirementFiles []string
}

// pip flags that take a separate value.
var pipValueFlags = map[string]bool{
	"-i": true, "--index-url": true, "--extra-index-url": true,
	"-c": true, "--constraint": true, "--target": true, "-t": true,
	"--find-links": true, "-f": true, "--trusted-host": true,
}

// Installs splits a RUN instruction into shell commands and returns the
// package installs among them. Commands that are neither installs nor apt
// housekeeping are returned as other. Non-RUN instructions have no installs.
func (c *Command) Installs() (installs []Install, other [][]string, err error) {
	if c.Type != CommandTypeRun {
		return nil, nil, nil
	}
	words, err := shellquote.Split(strings.Join(runArgs(c.Args), " "))
	if err != nil {
		line := 0
		if c.Location != nil {
			line = c.Location.StartLine
		}
		return nil, nil, errors.Wrapf(err, errors.CodeInvalidInput, "cannot split RUN at line %d", line)
	}

	for _, seg := range splitCommands(words) {
		if len(seg) == 0 {
			continue
		}
		switch {
		case isApt(seg):
			installs = append(installs, aptInstall(seg[2:]))
		case isHousekeeping(seg):
		default:
			if installer, rest, ok := pipInstall(seg); ok {
				installs = append(installs, pythonInstall(installer, rest))
				continue
			}
			other = append(other, seg)
		}
	}
	return installs, other, nil
}

// runArgs drops leading RUN flags such as --mount. Flags after the first
// word belong to the command itself.
func runArgs(args []string) []string {
	for i, a := range args {
		if !strings.HasPrefix(a, "--") {
			return args[i:]
		}
	}
	return nil
}

func splitCommands(words []string) [][]string {
	var (
		out [][]string
		cur []string
	)
	for _, w := range words {
		switch {
		case w == "&&" || w == ";" || w == "||":
			out = append(out, cur)
			cur = nil
		case strings.HasSuffix(w, ";"):
			cur = append(cur, strings.TrimSuffix(w, ";"))
			out = append(out, cur)
			cur = nil
		default:
			cur = append(cur, w)
		}
	}
	return append(out, cur)
}

func isApt(seg []string) bool {
	return (seg[0] == "apt-get" || seg[0] == "apt") && len(seg) > 1 && seg[1] == "install"
}

func isHousekeeping(seg []string) bool {
	switch seg[0] {
	case "apt-get", "apt":
		return len(seg) > 1 && (seg[1] == "update" || seg[1] == "clean")
	case "rm":
		return strings.Contains(strings.Join(seg, " "), "/var/lib/apt/lists")
	}
	return false
}

func aptInstall(words []string) Install {
	in := Install{Installer: InstallerApt}
	for _, w := range words {
		if strings.HasPrefix(w, "-") {
			in.Options = append(in.Options, w)
			continue
		}
		in.Packages = append(in.Packages, w)
	}
	return in
}

// pipInstall recognizes the install invocations of supported installers and
// returns the installer with the words following "install".
func pipInstall(seg []string) (string, []string, bool) {
	switch {
	case (seg[0] == "pip" || seg[0] == "pip3") && len(seg) > 1 && seg[1] == "install":
		return manifest.InstallerPip, seg[2:], true
	case (seg[0] == "python" || seg[0] == "python3") && len(seg) > 3 &&
		seg[1] == "-m" && seg[2] == "pip" && seg[3] == "install":
		return manifest.InstallerPip, seg[4:], true
	case seg[0] == "uv" && len(seg) > 2 && seg[1] == "pip" && seg[2] == "install":
		return manifest.InstallerUV, seg[3:], true
	}
	return "", nil, false
}

func pythonInstall(installer string, words []string) Install {
	in := Install{Installer: installer}
	for i := 0; i < len(words); i++ {
		w := words[i]
		switch {
		case w == "--system" && installer == manifest.InstallerUV:
		case w == "-r" || w == "--requirement":
			if i+1 < len(words) {
				in.RequirementFiles = append(in.RequirementFiles, words[i+1])
				i++
			}
		case strings.HasPrefix(w, "--requirement="):
			in.RequirementFiles = append(in.RequirementFiles, strings.TrimPrefix(w, "--requirement="))
		case strings.HasPrefix(w, "-"):
			opt := w
			if pipValueFlags[w] && i+1 < len(words) {
				opt = w + "=" + words[i+1]
				i++
			}
			in.Options = append(in.Options, opt)
		case i+2 < len(words) && words[i+1] == "@":
			in.Packages = append(in.Packages, w+" @ "+words[i+2])
			i += 2
		case strings.HasSuffix(w, "@") && i+1 < len(words):
			in.Packages = append(in.Packages, strings.TrimSuffix(w, "@")+" @ "+words[i+1])
			i++
		default:
			in.Packages = append(in.Packages, requirement(w))
		}
	}
	return in
}

// requirement spaces out the compact name@git+url form so it matches the
// way manifests write source packages.
func requirement(w string) string {
	if name, url, ok := strings.Cut(w, "@git+"); ok && name != "" && !strings.ContainsAny(w, " \t") {
		return name + " @ git+" + url
	}
	return w
}
