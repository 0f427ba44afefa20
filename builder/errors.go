package builder

import (
	"fmt"
	"strings"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// Stage names a phase of Builder.Build.
type Stage string

const (
	StageValidate      Stage = "validate"
	StagePreflight     Stage = "preflight"
	StageVerifySources Stage = "verify-sources"
	StageBuild         Stage = "build"
	StageInspect       Stage = "inspect"
	StageVerifyPins    Stage = "verify-pins"
	StageDone          Stage = "done"
)

// Stages lists the build stages in execution order.
var Stages = []Stage{
	StageValidate,
	StagePreflight,
	StageVerifySources,
	StageBuild,
	StageInspect,
	StageVerifyPins,
	StageDone,
}

// BuildError is the single failure type returned by Builder.Build. It always
// unwraps to an *errors.Error with CodeBuildFailed whose context carries the
// stage and the more specific cause code.
type BuildError struct {
	Stage Stage
	// Cause classifies the failure, e.g. CodeNetwork or CodeConflict.
	Cause errors.ErrorCode
	// Output is the installer output, unchanged. Empty when the failure
	// happened before the backend ran.
	Output string
	Err    error

	wrapped *errors.Error
}

func newBuildError(stage Stage, cause errors.ErrorCode, output string, err error) *BuildError {
	return &BuildError{
		Stage:  stage,
		Cause:  cause,
		Output: output,
		Err:    err,
		wrapped: &errors.Error{
			Code:    errors.CodeBuildFailed,
			Message: fmt.Sprintf("%s failed", stage),
			Context: map[string]interface{}{
				"stage": string(stage),
				"cause": cause,
			},
			Err: err,
		},
	}
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed at %s (%s): %v", e.Stage, e.Cause, e.Err)
}

// Unwrap returns the CodeBuildFailed platform error.
func (e *BuildError) Unwrap() error {
	return e.wrapped
}

// outputRules maps installer output fragments to a cause. Rules are checked
// in order; authentication is first because git prints network-looking
// messages after a credential failure.
var outputRules = []struct {
	cause     errors.ErrorCode
	fragments []string
}{
	{errors.CodeUnauthorized, []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"terminal prompts disabled",
		"http basic: access denied",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
		"permission denied (publickey)",
		"invalid username or password",
	}},
	{errors.CodeConflict, []string{
		"resolutionimpossible",
		"conflicting dependencies",
		"dependency conflict",
		"cannot install",
		"unmet dependencies",
		"no solution found when resolving dependencies",
	}},
	{errors.CodeUnavailable, []string{
		"no matching distribution found",
		"could not find a version that satisfies",
		"unable to locate package",
		"has no installation candidate",
		"' was not found",
		"is not a tree",
		"did not match any file(s) known to git",
		"repository not found",
		"because there is no version of",
	}},
	{errors.CodeNetwork, []string{
		"could not resolve host",
		"temporary failure in name resolution",
		"connection refused",
		"connection timed out",
		"connection reset",
		"network is unreachable",
		"read timed out",
		"newconnectionerror",
		"max retries exceeded",
		"failed to fetch",
		"tls handshake timeout",
	}},
}

// ClassifyOutput returns the cause code suggested by installer output, or
// CodeExecutionFailed when nothing matches.
func ClassifyOutput(output string) errors.ErrorCode {
	lower := strings.ToLower(output)
	for _, rule := range outputRules {
		for _, frag := range rule.fragments {
			if strings.Contains(lower, frag) {
				return rule.cause
			}
		}
	}
	return errors.CodeExecutionFailed
}
