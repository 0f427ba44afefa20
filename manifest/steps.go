package manifest

import (
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

// StepKind identifies a provisioning step.
type StepKind string

const (
	// StepOSPackages installs the OS-level build prerequisites.
	StepOSPackages StepKind = "os-packages"
	// StepCredentialHelper copies the credential helper into the image.
	StepCredentialHelper StepKind = "credential-helper"
	// StepPythonPackages runs the Python installer over every declared package.
	StepPythonPackages StepKind = "python-packages"
)

// Step is one stage of the provisioning pipeline.
type Step struct {
	Kind StepKind
	// Packages installed by this step, in declared order.
	Packages []pin.Spec
	// Command is the argv run inside the image. Empty for copy steps.
	Command []string
	// Source and Dest are set for StepCredentialHelper.
	Source string
	Dest   string
}

// Script renders Command as a single shell line.
func (s Step) Script() string {
	if len(s.Command) == 3 && s.Command[0] == "sh" && s.Command[1] == "-c" {
		return s.Command[2]
	}
	return shellquote.Join(s.Command...)
}

// Steps returns the provisioning pipeline in execution order: OS
// prerequisites, the credential helper, then the Python packages.
func (m *Manifest) Steps() ([]Step, error) {
	var steps []Step

	osSpecs, err := m.OSPackages()
	if err != nil {
		return nil, err
	}
	if len(osSpecs) > 0 {
		step, err := osStep(m.OS.Manager, osSpecs)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	if h := m.CredentialHelper; h != nil {
		steps = append(steps, Step{Kind: StepCredentialHelper, Source: h.Source, Dest: h.Dest})
	}

	pySpecs, err := m.PythonPackages()
	if err != nil {
		return nil, err
	}
	if len(pySpecs) > 0 {
		step, err := pythonStep(m.Python.Installer, m.Python.Options, pySpecs)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return steps, nil
}

func osStep(manager string, specs []pin.Spec) (Step, error) {
	if manager != "" && manager != "apt" {
		return Step{}, errors.Newf(errors.CodeInvalidInput, "unsupported OS package manager %q", manager)
	}
	args := make([]string, len(specs))
	for i, s := range specs {
		args[i] = s.String()
	}
	script := "apt-get update" +
		" && apt-get install -y --no-install-recommends " + shellquote.Join(args...) +
		" && rm -rf /var/lib/apt/lists/*"
	return Step{
		Kind:     StepOSPackages,
		Packages: specs,
		Command:  []string{"sh", "-c", script},
	}, nil
}

func pythonStep(installer string, options []string, specs []pin.Spec) (Step, error) {
	var argv []string
	switch installer {
	case "", InstallerPip:
		argv = []string{"pip", "install"}
	case InstallerUV:
		argv = []string{"uv", "pip", "install", "--system"}
	default:
		return Step{}, errors.Newf(errors.CodeInvalidInput, "unsupported Python installer %q", installer)
	}
	argv = append(argv, options...)
	for _, s := range specs {
		argv = append(argv, s.String())
	}
	return Step{
		Kind:     StepPythonPackages,
		Packages: specs,
		Command:  argv,
	}, nil
}

// InstallerName returns the program that installs Python packages.
func (m *Manifest) InstallerName() string {
	if m.Python.Installer == InstallerUV {
		return InstallerUV
	}
	return InstallerPip
}

// InspectCommand returns the argv that reports installed Python packages as
// JSON in the built image.
func (m *Manifest) InspectCommand() []string {
	if m.Python.Installer == InstallerUV {
		// uv has no inspect report; pip is present in every conda base image.
		return []string{"python", "-m", "pip", "inspect", "--local"}
	}
	return []string{"pip", "inspect", "--local"}
}

func joinContinued(parts []string, indent string) string {
	return strings.Join(parts, " \\\n"+indent)
}
