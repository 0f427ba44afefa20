package lint

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Format represents the output format for reporting issues.
type Format int

const (
	// FormatText outputs issues in a human-readable text format.
	FormatText Format = iota
	// FormatJSON outputs issues in JSON format.
	FormatJSON
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unsupported format: %s", s)
	}
}

// Reporter handles formatting and outputting linting issues.
type Reporter struct {
	writer io.Writer
	format Format
	color  bool
}

// NewReporter creates a new Reporter with the specified output writer and format.
func NewReporter(writer io.Writer, format Format) *Reporter {
	return &Reporter{
		writer: writer,
		format: format,
	}
}

// WithColor enables colored severities in text output.
func (r *Reporter) WithColor(enabled bool) *Reporter {
	r.color = enabled
	return r
}

// Report writes the issues in the configured format. Text output is empty
// when there are no issues; JSON output always contains an issues array.
func (r *Reporter) Report(issues []Issue) error {
	switch r.format {
	case FormatText:
		return r.reportText(issues)
	case FormatJSON:
		return r.reportJSON(issues)
	default:
		return fmt.Errorf("unsupported format: %s", r.format)
	}
}

func (r *Reporter) reportText(issues []Issue) error {
	for _, issue := range issues {
		line := issue.String()
		if r.color {
			line = issue.format(severityColor(issue.Severity).Sprint(issue.Severity.String()))
		}
		if _, err := fmt.Fprintln(r.writer, line); err != nil {
			return fmt.Errorf("failed to write text output: %w", err)
		}
	}
	return nil
}

func (r *Reporter) reportJSON(issues []Issue) error {
	if issues == nil {
		issues = []Issue{}
	}
	output := struct {
		Issues []Issue `json:"issues"`
	}{
		Issues: issues,
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	return nil
}

func severityColor(s Severity) *color.Color {
	c := color.New(color.FgCyan)
	switch s {
	case SeverityError:
		c = color.New(color.FgRed, color.Bold)
	case SeverityWarning:
		c = color.New(color.FgYellow)
	}
	c.EnableColor()
	return c
}
