package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// Kind selects which embedded schema a document is validated against.
type Kind string

const (
	// KindManifest is the environment manifest.
	KindManifest Kind = "manifest"
	// KindLock is the build lockfile.
	KindLock Kind = "lock"
	// KindConfig is the project configuration.
	KindConfig Kind = "config"
)

// FieldError describes a single schema violation.
type FieldError struct {
	Field       string
	Description string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Description
}

var (
	compiledMu sync.Mutex
	compiled   = map[Kind]*gojsonschema.Schema{}
)

func load(kind Kind) (*gojsonschema.Schema, error) {
	compiledMu.Lock()
	defer compiledMu.Unlock()

	if s, ok := compiled[kind]; ok {
		return s, nil
	}

	raw, err := Files.ReadFile(string(kind) + ".schema.json")
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "unknown schema kind %q", kind)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "compile %s schema", kind)
	}
	compiled[kind] = s
	return s, nil
}

// Check validates a decoded document (maps, slices and scalars as produced by
// a YAML or JSON decoder) and returns every violation found.
func Check(kind Kind, document interface{}) ([]FieldError, error) {
	s, err := load(kind)
	if err != nil {
		return nil, err
	}

	result, err := s.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeSchemaFailed, "validate %s", kind)
	}
	if result.Valid() {
		return nil, nil
	}

	out := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		out = append(out, FieldError{Field: re.Field(), Description: re.Description()})
	}
	return out, nil
}

// Validate is like Check but folds violations into a single
// CodeSchemaFailed error.
func Validate(kind Kind, document interface{}) error {
	fieldErrs, err := Check(kind, document)
	if err != nil {
		return err
	}
	if len(fieldErrs) == 0 {
		return nil
	}

	lines := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		lines[i] = fe.String()
	}
	return errors.New(errors.CodeSchemaFailed,
		fmt.Sprintf("%s does not match schema: %s", kind, strings.Join(lines, "; "))).
		WithContext("violations", fieldErrs)
}
