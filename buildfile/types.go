package buildfile

import (
	"strings"

	"github.com/earthly/earthly/ast/spec"
)

// File is a parsed build script: an ordered list of instructions.
type File struct {
	Name     string
	commands []*Command
	ast      *spec.Earthfile
	source   []byte
}

// Lines returns the physical source lines of the file.
func (f *File) Lines() []string {
	if len(f.source) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(f.source), "\n"), "\n")
}

// Commands returns the instructions in source order.
func (f *File) Commands() []*Command {
	return f.commands
}

// CommandsOfType returns the instructions of the given type in source order.
func (f *File) CommandsOfType(t CommandType) []*Command {
	var out []*Command
	for _, c := range f.commands {
		if c.Type == t {
			out = append(out, c)
		}
	}
	return out
}

// AST returns the underlying syntax tree.
func (f *File) AST() *spec.Earthfile {
	return f.ast
}

// Command is a single instruction with its arguments and position.
type Command struct {
	Name     string          // Instruction keyword, e.g. "RUN"
	Type     CommandType     // Enumerated instruction type
	Args     []string        // Instruction arguments as tokenized by the parser
	Location *SourceLocation // Position in the source file, when known
}

// SourceLocation represents a position in the source file.
type SourceLocation struct {
	File        string // Source file path
	StartLine   int    // 1-based line number where the instruction starts
	StartColumn int    // 0-based column where the instruction starts
	EndLine     int    // 1-based line number where the instruction ends
	EndColumn   int    // 0-based column where the instruction ends
}

// CommandType enumerates the instructions of a Dockerfile-style script.
type CommandType int

// Command types enumeration
const (
	CommandTypeUnknown CommandType = iota
	CommandTypeFrom
	CommandTypeRun
	CommandTypeCopy
	CommandTypeAdd
	CommandTypeArg
	CommandTypeEnv
	CommandTypeWorkdir
	CommandTypeUser
	CommandTypeShell
	CommandTypeLabel
	CommandTypeCmd
	CommandTypeEntrypoint
	CommandTypeExpose
	CommandTypeVolume
)

var commandNames = map[CommandType]string{
	CommandTypeFrom:       "FROM",
	CommandTypeRun:        "RUN",
	CommandTypeCopy:       "COPY",
	CommandTypeAdd:        "ADD",
	CommandTypeArg:        "ARG",
	CommandTypeEnv:        "ENV",
	CommandTypeWorkdir:    "WORKDIR",
	CommandTypeUser:       "USER",
	CommandTypeShell:      "SHELL",
	CommandTypeLabel:      "LABEL",
	CommandTypeCmd:        "CMD",
	CommandTypeEntrypoint: "ENTRYPOINT",
	CommandTypeExpose:     "EXPOSE",
	CommandTypeVolume:     "VOLUME",
}

var commandTypes = func() map[string]CommandType {
	m := make(map[string]CommandType, len(commandNames))
	for t, n := range commandNames {
		m[n] = t
	}
	return m
}()

// String returns the instruction keyword.
func (ct CommandType) String() string {
	if name, ok := commandNames[ct]; ok {
		return name
	}
	return "UNKNOWN"
}

func getCommandType(name string) CommandType {
	if t, ok := commandTypes[name]; ok {
		return t
	}
	return CommandTypeUnknown
}
