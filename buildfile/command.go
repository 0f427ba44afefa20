package buildfile

import (
	"strings"
)

// GetFlag returns the value of the specified flag and whether it was found.
// Flags are expected to start with -- (e.g., --chmod, --platform).
func (c *Command) GetFlag(name string) (string, bool) {
	prefix := "--" + name
	for _, arg := range c.Args {
		if !strings.HasPrefix(arg, "--") {
			continue
		}
		if strings.HasPrefix(arg, prefix+"=") {
			return strings.TrimPrefix(arg, prefix+"="), true
		}
		if arg == prefix {
			return "", true
		}
	}
	return "", false
}

// GetPositionalArgs returns all non-flag arguments.
// Arguments after -- are considered positional even if they start with --.
func (c *Command) GetPositionalArgs() []string {
	var positional []string
	foundDoubleDash := false

	for _, arg := range c.Args {
		if arg == "--" {
			foundDoubleDash = true
			continue
		}
		if foundDoubleDash || !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
		}
	}

	return positional
}

// Line reconstructs the instruction as a single source line.
func (c *Command) Line() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// SourceLocation returns the source location of this command.
func (c *Command) SourceLocation() *SourceLocation {
	return c.Location
}
