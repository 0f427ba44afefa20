package buildfile

import (
	"bytes"
	"fmt"
	"io"
)

// namedReader implements the ast.NamedReader interface required by the AST parser.
type namedReader struct {
	*bytes.Reader
	name string
}

func newNamedReader(content []byte, name string) *namedReader {
	return &namedReader{
		Reader: bytes.NewReader(content),
		name:   name,
	}
}

// Name returns the name of the reader (typically the file path).
func (r *namedReader) Name() string {
	return r.name
}

// Seek implements io.Seeker for the NamedReader interface.
func (r *namedReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := r.Reader.Seek(offset, whence)
	if err != nil {
		return 0, fmt.Errorf("seek error: %w", err)
	}
	return pos, nil
}

var (
	_ io.Reader = (*namedReader)(nil)
	_ io.Seeker = (*namedReader)(nil)
)
