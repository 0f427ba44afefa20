package lint

import (
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
)

// CheckFunc represents a function that performs rule checking on a context.
type CheckFunc func(ctx *Context) []Issue

// CommandCheckFunc represents a function that checks a specific command.
type CommandCheckFunc func(ctx *Context, cmd *buildfile.Command) []Issue

// SimpleRule creates a rule that uses a simple check function.
//
//nolint:ireturn // Builder functions should return interfaces
func SimpleRule(name, description string, check CheckFunc) Rule {
	return &simpleRule{
		name:        name,
		description: description,
		check:       check,
	}
}

type simpleRule struct {
	name        string
	description string
	check       CheckFunc
}

func (r *simpleRule) Name() string {
	return r.name
}

func (r *simpleRule) Description() string {
	return r.description
}

func (r *simpleRule) Check(ctx *Context) []Issue {
	return r.check(ctx)
}

// CommandRule creates a rule applied to every command of the given type.
//
//nolint:ireturn // Builder functions should return interfaces
func CommandRule(name, description string, cmdType buildfile.CommandType, check CommandCheckFunc) Rule {
	return &commandRule{
		name:        name,
		description: description,
		cmdType:     cmdType,
		check:       check,
	}
}

type commandRule struct {
	name        string
	description string
	cmdType     buildfile.CommandType
	check       CommandCheckFunc
}

func (r *commandRule) Name() string {
	return r.name
}

func (r *commandRule) Description() string {
	return r.description
}

func (r *commandRule) Check(ctx *Context) []Issue {
	var issues []Issue
	_ = ctx.WalkCommands(func(cmdCtx *Context) error {
		if cmdCtx.Command.Type == r.cmdType {
			issues = append(issues, r.check(cmdCtx, cmdCtx.Command)...)
		}
		return nil
	})
	return issues
}

// Installs returns the installs of every RUN command, keyed by command
// index. Unsplittable commands are skipped. The result is cached on ctx.
func Installs(ctx *Context) map[int][]buildfile.Install {
	const key = "lint.installs"
	if v, ok := ctx.GetCache(key).(map[int][]buildfile.Install); ok {
		return v
	}
	out := make(map[int][]buildfile.Install)
	_ = ctx.WalkCommands(func(cmdCtx *Context) error {
		installs, _, err := cmdCtx.Command.Installs()
		if err == nil && len(installs) > 0 {
			out[cmdCtx.Index] = installs
		}
		return nil
	})
	ctx.SetCache(key, out)
	return out
}
