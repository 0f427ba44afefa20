package config

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// Validate checks what the schema cannot: the file version, that the
// registry is complete when set, and that every secret names a path.
// All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if err := validateVersion(c.Version); err != nil {
		problems = append(problems, err.Error())
	}

	switch c.Backend {
	case BackendDocker, BackendDagger, BackendCLI:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Backend))
	}

	if r := c.Registry; r.Host != "" || r.Repository != "" {
		if r.Host == "" || r.Repository == "" {
			problems = append(problems, "registry requires both host and repository")
		}
		if r.PasswordSecret != nil && r.Username == "" {
			problems = append(problems, "registry password_secret requires a username")
		}
	}

	for _, k := range c.SecretKeys() {
		if c.Secrets[k].Path == "" {
			problems = append(problems, fmt.Sprintf("secret %s has no path", k))
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidConfig,
			fmt.Sprintf("configuration validation failed: %s", strings.Join(problems, "; ")))
	}
	return nil
}

// validateVersion accepts any version with the same major as
// SupportedVersion.
func validateVersion(v string) error {
	got, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid version %q", v)
	}
	want := semver.MustParse(SupportedVersion)
	if got.Major() != want.Major() {
		return fmt.Errorf("version %s is not supported (want %d.x)", v, want.Major())
	}
	return nil
}
