package buildfile

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/earthly/earthly/ast"
	"github.com/earthly/earthly/ast/spec"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
)

// DefaultName is the file name used when parsing from a string.
const DefaultName = "Dockerfile"

// ParseOptions provides options for parsing build scripts.
type ParseOptions struct {
	// Filesystem allows injecting a custom filesystem implementation.
	// If nil, defaults to billy.NewBaseOSFS()
	Filesystem fs.Filesystem
}

// ParseFile parses the build script at path.
func ParseFile(ctx context.Context, path string, opts *ParseOptions) (*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCanceled, "parse canceled")
	}
	if opts == nil {
		opts = &ParseOptions{}
	}

	filesystem := opts.Filesystem
	if filesystem == nil {
		filesystem = billy.NewBaseOSFS()
	}

	content, err := filesystem.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "failed to read %s", path)
	}
	return parse(ctx, content, path)
}

// ParseString parses a build script held in memory.
func ParseString(content string) (*File, error) {
	return parse(context.Background(), []byte(content), DefaultName)
}

// ParseReader parses a build script from an io.Reader.
func ParseReader(reader io.Reader, name string) (*File, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to read from reader")
	}
	return parse(context.Background(), content, name)
}

func parse(ctx context.Context, content []byte, name string) (*File, error) {
	tree, err := ast.ParseOpts(ctx, ast.FromReader(newNamedReader(content, name)))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "failed to parse %s", name)
	}
	if len(tree.Targets) > 0 {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"%s: targets are not supported (found %q)", name, tree.Targets[0].Name)
	}
	if len(tree.Functions) > 0 {
		return nil, errors.Newf(errors.CodeInvalidInput,
			"%s: functions are not supported (found %q)", name, tree.Functions[0].Name)
	}

	f := &File{Name: name, ast: &tree, source: content}
	for _, stmt := range tree.BaseRecipe {
		if stmt.Command == nil {
			return nil, errors.Newf(errors.CodeInvalidInput,
				"%s: control flow statements are not supported", name)
		}
		f.commands = append(f.commands, convertCommand(stmt.Command))
	}

	locate(f, content)
	return f, nil
}

func convertCommand(c *spec.Command) *Command {
	cmd := &Command{
		Name: c.Name,
		Args: c.Args,
		Type: getCommandType(c.Name),
	}
	if c.SourceLocation != nil {
		cmd.Location = &SourceLocation{
			File:        c.SourceLocation.File,
			StartLine:   c.SourceLocation.StartLine,
			StartColumn: c.SourceLocation.StartColumn,
			EndLine:     c.SourceLocation.EndLine,
			EndColumn:   c.SourceLocation.EndColumn,
		}
	}
	return cmd
}

// locate fills in missing source locations by matching commands against the
// logical lines of content in order. The parser only tracks locations when
// reading from disk.
func locate(f *File, content []byte) {
	lines := logicalLines(content)
	next := 0
	for _, cmd := range f.commands {
		if cmd.Location != nil {
			continue
		}
		for next < len(lines) {
			l := lines[next]
			next++
			if strings.EqualFold(firstWord(l.text), cmd.Name) {
				cmd.Location = &SourceLocation{
					File:      f.Name,
					StartLine: l.start,
					EndLine:   l.end,
					EndColumn: l.width,
				}
				break
			}
		}
	}
}

type logicalLine struct {
	text       string
	start, end int
	width      int
}

func logicalLines(content []byte) []logicalLine {
	var (
		out     []logicalLine
		current *logicalLine
		n       int
	)
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		n++
		raw := sc.Text()
		trimmed := strings.TrimSpace(raw)
		if current == nil {
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			current = &logicalLine{start: n}
		} else if strings.HasPrefix(trimmed, "#") {
			continue
		}
		current.end = n
		current.width = len(raw)
		if strings.HasSuffix(trimmed, "\\") {
			current.text += strings.TrimSuffix(trimmed, "\\") + " "
			continue
		}
		current.text += trimmed
		out = append(out, *current)
		current = nil
	}
	if current != nil {
		out = append(out, *current)
	}
	return out
}

func firstWord(s string) string {
	if i := strings.IndexFunc(s, func(r rune) bool { return r == ' ' || r == '\t' }); i >= 0 {
		return s[:i]
	}
	return s
}

// String renders the file back as source, one instruction per line.
func (f *File) String() string {
	var b strings.Builder
	for _, c := range f.commands {
		fmt.Fprintln(&b, c.Line())
	}
	return b.String()
}
