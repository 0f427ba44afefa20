package buildfile

import (
	"fmt"
	"path"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	schema "github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/schemas"
)

// Warning is an instruction that could not be carried into the manifest.
type Warning struct {
	Location *SourceLocation
	Message  string
}

func (w Warning) String() string {
	if w.Location == nil {
		return w.Message
	}
	return fmt.Sprintf("%s:%d: %s", w.Location.File, w.Location.StartLine, w.Message)
}

// secretMarkers flag argument names that hold credentials.
var secretMarkers = []string{"TOKEN", "PASSWORD", "SECRET"}

// ExtractOption configures manifest extraction.
type ExtractOption func(*extractor)

// WithAllowUnpinned records the named OS packages as explicit exemptions
// when the build script installs them without a version. Unpinned packages
// not named here are kept as they are and fail manifest validation.
func WithAllowUnpinned(names ...string) ExtractOption {
	return func(x *extractor) {
		x.allowUnpinned = append(x.allowUnpinned, names...)
	}
}

type extractor struct {
	m             *manifest.Manifest
	warnings      []Warning
	from          *Command
	allowUnpinned []string
}

// Manifest extracts the environment described by the build script. Anything
// the manifest cannot express is reported as a warning. The returned
// manifest has passed schema validation but not the pin checks; call its
// Validate method for those.
func (f *File) Manifest(name string, opts ...ExtractOption) (*manifest.Manifest, []Warning, error) {
	x := &extractor{m: &manifest.Manifest{
		SchemaVersion: schema.SchemaVersion,
		Name:          name,
	}}
	for _, opt := range opts {
		opt(x)
	}

	for _, cmd := range f.commands {
		if err := x.command(cmd); err != nil {
			return nil, x.warnings, err
		}
	}
	if x.from == nil {
		return nil, x.warnings, errors.Newf(errors.CodeInvalidInput, "%s: no FROM instruction", f.Name)
	}

	// Round-trip through the YAML form so defaults and schema checks apply
	// exactly as they do for a hand written manifest.
	data, err := x.m.Marshal()
	if err != nil {
		return nil, x.warnings, err
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, x.warnings, err
	}
	return m, x.warnings, nil
}

func (x *extractor) warn(cmd *Command, format string, args ...interface{}) {
	x.warnings = append(x.warnings, Warning{Location: cmd.Location, Message: fmt.Sprintf(format, args...)})
}

func (x *extractor) command(cmd *Command) error {
	switch cmd.Type {
	case CommandTypeFrom:
		return x.fromCmd(cmd)
	case CommandTypeArg:
		x.argCmd(cmd)
	case CommandTypeEnv:
		x.envCmd(cmd)
	case CommandTypeCopy, CommandTypeAdd:
		x.copyCmd(cmd)
	case CommandTypeRun:
		return x.runCmd(cmd)
	default:
		x.warn(cmd, "%s is not represented in the manifest and was dropped", cmd.Name)
	}
	return nil
}

func (x *extractor) fromCmd(cmd *Command) error {
	if x.from != nil {
		return errors.Newf(errors.CodeInvalidInput, "multi-stage builds are not supported (second FROM %s)",
			strings.Join(cmd.GetPositionalArgs(), " "))
	}
	x.from = cmd

	args := cmd.GetPositionalArgs()
	if len(args) == 0 {
		return errors.New(errors.CodeInvalidInput, "FROM requires an image")
	}
	if len(args) > 1 {
		x.warn(cmd, "stage name %q ignored", args[len(args)-1])
	}
	if _, ok := cmd.GetFlag("platform"); ok {
		x.warn(cmd, "--platform ignored")
	}

	x.m.Base = splitImage(args[0])
	return nil
}

// splitImage separates a leading registry host from an image reference. A
// leading build argument reference is always treated as a registry.
func splitImage(ref string) manifest.Base {
	i := strings.Index(ref, "/")
	if i < 0 {
		return manifest.Base{Image: ref}
	}
	head := ref[:i]
	if strings.HasPrefix(head, "$") || strings.ContainsAny(head, ".:") || head == "localhost" {
		return manifest.Base{Registry: head, Image: ref[i+1:]}
	}
	return manifest.Base{Image: ref}
}

func (x *extractor) argCmd(cmd *Command) {
	for _, kv := range cmd.Assignments() {
		name, def := kv[0], unquote(kv[1])
		a := manifest.Arg{Name: name, Default: def}
		for _, marker := range secretMarkers {
			if strings.Contains(strings.ToUpper(name), marker) {
				a.Secret = true
			}
		}
		if a.Secret && def != "" {
			x.warn(cmd, "default for secret argument %s dropped", name)
			a.Default = ""
		}
		if _, dup := x.m.Arg(name); dup {
			continue
		}
		x.m.Args = append(x.m.Args, a)
	}
}

func (x *extractor) envCmd(cmd *Command) {
	args := cmd.GetPositionalArgs()
	if x.m.Env == nil {
		x.m.Env = make(map[string]string)
	}
	// Legacy form: ENV KEY value with spaces
	if len(args) > 1 && !strings.Contains(strings.Join(args, " "), "=") {
		x.m.Env[args[0]] = unquote(strings.Join(args[1:], " "))
		return
	}
	for _, kv := range assignments(args) {
		x.m.Env[kv[0]] = unquote(kv[1])
	}
}

// Assignments returns the KEY=VALUE pairs of an ARG or ENV instruction.
// The parser may hand them over as one word or as separate KEY, "=", VALUE
// words; both forms are accepted.
func (c *Command) Assignments() [][2]string {
	return assignments(c.GetPositionalArgs())
}

func assignments(args []string) [][2]string {
	var out [][2]string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case i+1 < len(args) && args[i+1] == "=":
			v := ""
			if i+2 < len(args) {
				v = args[i+2]
			}
			out = append(out, [2]string{a, v})
			i += 2
		case strings.HasSuffix(a, "=") && i+1 < len(args) && !strings.Contains(args[i+1], "="):
			out = append(out, [2]string{strings.TrimSuffix(a, "="), args[i+1]})
			i++
		default:
			k, v, _ := strings.Cut(a, "=")
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

func (x *extractor) copyCmd(cmd *Command) {
	args := cmd.GetPositionalArgs()
	if len(args) == 2 && strings.Contains(path.Base(args[0]), "askpass") {
		if x.m.CredentialHelper != nil {
			x.warn(cmd, "second credential helper ignored")
			return
		}
		x.m.CredentialHelper = &manifest.CredentialHelper{Source: args[0], Dest: args[1]}
		return
	}
	x.warn(cmd, "%s %s is not represented in the manifest and was dropped", cmd.Name, strings.Join(args, " "))
}

func (x *extractor) runCmd(cmd *Command) error {
	installs, other, err := cmd.Installs()
	if err != nil {
		return err
	}
	for _, in := range installs {
		switch in.Installer {
		case InstallerApt:
			x.aptInstall(cmd, in)
		default:
			x.pythonInstall(cmd, in)
		}
	}
	for _, seg := range other {
		x.warn(cmd, "command %q is not represented in the manifest and was dropped", strings.Join(seg, " "))
	}
	return nil
}

func (x *extractor) aptInstall(cmd *Command, in Install) {
	if x.m.OS.Manager == "" {
		x.m.OS.Manager = "apt"
	}
	for _, p := range in.Packages {
		x.m.OS.Packages = append(x.m.OS.Packages, p)
		if strings.Contains(p, "=") {
			continue
		}
		if !contains(x.allowUnpinned, p) {
			x.warn(cmd, "OS package %s is not version pinned", p)
			continue
		}
		if !contains(x.m.OS.AllowUnpinned, p) {
			x.m.OS.AllowUnpinned = append(x.m.OS.AllowUnpinned, p)
		}
		x.warn(cmd, "OS package %s is not version pinned; recorded as an explicit exemption", p)
	}
}

func (x *extractor) pythonInstall(cmd *Command, in Install) {
	if x.m.Python.Installer != "" && x.m.Python.Installer != in.Installer {
		x.warn(cmd, "mixing installers; keeping %s", x.m.Python.Installer)
	} else {
		x.m.Python.Installer = in.Installer
	}
	if len(in.RequirementFiles) > 0 {
		x.warn(cmd, "requirements files are not supported; list packages explicitly")
	}
	for _, opt := range in.Options {
		if !contains(x.m.Python.Options, opt) {
			x.m.Python.Options = append(x.m.Python.Options, opt)
		}
	}
	x.m.Python.Packages = append(x.m.Python.Packages, in.Packages...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	if s == "" {
		return s
	}
	words, err := shellquote.Split(s)
	if err != nil || len(words) != 1 {
		return s
	}
	return words[0]
}
