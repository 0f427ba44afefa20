package lint

import (
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
)

// Context gives rules access to the file being linted and, while walking,
// the current command. Command contexts share their parent's cache.
type Context struct {
	// File is the build script being linted.
	File *buildfile.File

	// Command is the current command (nil for file context).
	Command *buildfile.Command

	// Index is the position of Command in the file.
	Index int

	// Parent is the file context for command contexts.
	Parent *Context

	cache map[string]interface{}
}

// NewContext creates a new root Context for a file.
func NewContext(f *buildfile.File) *Context {
	return &Context{
		File:  f,
		Index: -1,
		cache: make(map[string]interface{}),
	}
}

// NewCommandContext creates a Context for one command of the parent's file.
func NewCommandContext(parent *Context, command *buildfile.Command, index int) *Context {
	return &Context{
		File:    parent.File,
		Command: command,
		Index:   index,
		Parent:  parent,
		cache:   parent.cache,
	}
}

// IsCommandLevel returns true if this context is at the command level.
func (ctx *Context) IsCommandLevel() bool {
	return ctx.Command != nil
}

// GetCache retrieves a cached value by key.
// Returns nil if the key doesn't exist.
func (ctx *Context) GetCache(key string) interface{} {
	return ctx.cache[key]
}

// SetCache stores a value in the cache with the given key.
// Keys should be prefixed with the rule name to avoid conflicts.
func (ctx *Context) SetCache(key string, value interface{}) {
	ctx.cache[key] = value
}

// Preceding returns the commands before the current one.
func (ctx *Context) Preceding() []*buildfile.Command {
	if ctx.File == nil || ctx.Index <= 0 {
		return nil
	}
	return ctx.File.Commands()[:ctx.Index]
}

// WalkCommands executes fn for each command in the file.
// Walking stops if fn returns an error.
func (ctx *Context) WalkCommands(fn func(commandCtx *Context) error) error {
	if ctx.File == nil {
		return nil
	}
	for i, command := range ctx.File.Commands() {
		if err := fn(NewCommandContext(ctx, command, i)); err != nil {
			return err
		}
	}
	return nil
}
