package builder

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/manifest"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// DockerfileName is the name of the rendered build script inside the build
// context.
const DockerfileName = "Dockerfile"

// ContextFile is a file shipped to the backend as part of the build context.
type ContextFile struct {
	Data []byte
	Mode os.FileMode
}

// Plan is everything a backend needs to produce one image.
type Plan struct {
	Manifest *manifest.Manifest
	// Tag names the resulting image.
	Tag string
	// BaseImage is the expanded FROM reference.
	BaseImage string
	// Dockerfile is the rendered build script.
	Dockerfile string
	// Steps is the provisioning pipeline in execution order.
	Steps []manifest.Step
	// Args holds the non-secret build arguments.
	Args map[string]string
	// Secrets holds secret build arguments. Backends must not log them.
	Secrets map[string]*secrets.Secret
	// Context maps build-context relative paths to file contents.
	Context map[string]ContextFile
	// Log receives the backend's build output as it is produced. May be nil.
	Log io.Writer
}

// Image identifies a built image.
type Image struct {
	// Ref is the tag the image was built under.
	Ref string
	// ID is the backend specific image identifier.
	ID string
	// Backend names the backend that built the image.
	Backend string
}

// String returns the most specific identifier available.
func (i *Image) String() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Ref
}

// ArgNames returns every build argument name, secret or not, sorted.
func (p *Plan) ArgNames() []string {
	names := make([]string, 0, len(p.Args)+len(p.Secrets))
	for k := range p.Args {
		names = append(names, k)
	}
	for k := range p.Secrets {
		if _, dup := p.Args[k]; !dup {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func (p *Plan) lookup(name string) string {
	if s, ok := p.Secrets[name]; ok && s != nil {
		return string(s.Value)
	}
	return p.Args[name]
}

// BuildArgs returns the build arguments with secret values inlined. The
// returned map must not be logged.
func (p *Plan) BuildArgs() map[string]*string {
	out := make(map[string]*string, len(p.Args)+len(p.Secrets))
	for k, v := range p.Args {
		out[k] = &v
	}
	for k, s := range p.Secrets {
		v := string(s.Value)
		out[k] = &v
	}
	return out
}

// ContextTar archives the rendered Dockerfile and the context files into an
// uncompressed tar stream. Entries are written in sorted order with a fixed
// modification time so identical plans produce identical archives.
func (p *Plan) ContextTar() ([]byte, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	files := map[string]ContextFile{
		DockerfileName: {Data: []byte(p.Dockerfile), Mode: 0o644},
	}
	for name, f := range p.Context {
		clean := path.Clean(strings.TrimPrefix(name, "./"))
		if clean == DockerfileName {
			return nil, fmt.Errorf("context file %q collides with the rendered Dockerfile", name)
		}
		if strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
			return nil, fmt.Errorf("context file %q is outside the build context", name)
		}
		files[clean] = f
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	epoch := time.Unix(0, 0).UTC()
	for _, name := range names {
		f := files[name]
		mode := f.Mode.Perm()
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{
			Name:     name,
			Mode:     int64(mode),
			Size:     int64(len(f.Data)),
			ModTime:  epoch,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing %s header: %w", name, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("writing %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing context archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ExecError is returned by backends when a provisioning step ran and
// failed. Output is the step's output exactly as the installer wrote it.
type ExecError struct {
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	msg := "build step failed"
	if e.Step != "" {
		msg = fmt.Sprintf("build step %q failed", e.Step)
	}
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
