package lint

import (
	"fmt"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/buildfile"
)

// Severity represents the severity level of a linting issue.
type Severity int

const (
	// SeverityError indicates a critical issue that should block builds.
	SeverityError Severity = iota
	// SeverityWarning indicates a potential issue that should be addressed.
	SeverityWarning
	// SeverityInfo indicates a suggestion or style improvement.
	SeverityInfo
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SourceLocation represents a position in the source file.
type SourceLocation = buildfile.SourceLocation

// Issue represents a single linting issue.
type Issue struct {
	// Rule is the identifier of the rule that found this issue.
	Rule string `json:"rule"`
	// Severity indicates the importance level of the issue.
	Severity Severity `json:"severity"`
	// Message is a human-readable description of the issue.
	Message string `json:"message"`
	// Location specifies where in the source file the issue occurs.
	Location *SourceLocation `json:"location,omitempty"`
	// Context provides additional metadata about the issue.
	Context map[string]interface{} `json:"context,omitempty"`
}

// String returns a formatted string representation of the issue.
func (i Issue) String() string {
	return i.format(i.Severity.String())
}

func (i Issue) format(severity string) string {
	if i.Location != nil {
		return fmt.Sprintf("%s:%d: %s [%s] %s",
			i.Location.File,
			i.Location.StartLine,
			severity,
			i.Rule,
			i.Message)
	}
	return fmt.Sprintf("%s [%s] %s", severity, i.Rule, i.Message)
}

// NewIssue creates a new Issue with the given parameters.
func NewIssue(rule string, severity Severity, message string, location *SourceLocation) Issue {
	return Issue{
		Rule:     rule,
		Severity: severity,
		Message:  message,
		Location: location,
	}
}

// WithContext adds context metadata to an issue and returns the modified issue.
func (i Issue) WithContext(key string, value interface{}) Issue {
	ctx := make(map[string]interface{}, len(i.Context)+1)
	for k, v := range i.Context {
		ctx[k] = v
	}
	ctx[key] = value
	i.Context = ctx
	return i
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
