// Package buildertest provides an in-memory builder.Backend for tests.
package buildertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/builder"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/inventory"
)

// Backend records builds and answers inspection commands from canned
// output. Its zero value builds successfully and reports an empty
// inventory.
type Backend struct {
	// BackendName is returned by Name. Defaults to "fake".
	BackendName string
	// BuildErr, when set, is returned by Build.
	BuildErr error
	// PipInspect is returned for the pip inspect command.
	PipInspect []byte
	// DpkgQuery is returned for the dpkg-query command.
	DpkgQuery []byte
	// RunErr, when set, is returned by Run.
	RunErr error
	// OnBuild is called with each plan before Build returns. Secret values
	// are still populated at that point.
	OnBuild func(*builder.Plan)

	mu     sync.Mutex
	plans  []*builder.Plan
	runs   [][]string
	images int
}

var _ builder.Backend = (*Backend)(nil)

// Name implements builder.Backend.
func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "fake"
	}
	return b.BackendName
}

// Build implements builder.Backend.
func (b *Backend) Build(_ context.Context, plan *builder.Plan) (*builder.Image, error) {
	b.mu.Lock()
	b.plans = append(b.plans, plan)
	b.images++
	n := b.images
	b.mu.Unlock()

	if b.OnBuild != nil {
		b.OnBuild(plan)
	}
	if b.BuildErr != nil {
		return nil, b.BuildErr
	}
	return &builder.Image{
		Ref:     plan.Tag,
		ID:      fmt.Sprintf("sha256:%064d", n),
		Backend: b.Name(),
	}, nil
}

// Run implements builder.Backend.
func (b *Backend) Run(_ context.Context, _ *builder.Image, argv []string) ([]byte, error) {
	b.mu.Lock()
	b.runs = append(b.runs, append([]string(nil), argv...))
	b.mu.Unlock()

	if b.RunErr != nil {
		return nil, b.RunErr
	}
	switch {
	case strings.Join(argv, " ") == strings.Join(inventory.DpkgQueryCommand, " "):
		return b.DpkgQuery, nil
	case contains(argv, "inspect"):
		if b.PipInspect == nil {
			return []byte(`{"version": "1", "installed": []}`), nil
		}
		return b.PipInspect, nil
	}
	return nil, fmt.Errorf("unexpected command %q", argv)
}

// Plans returns the plans passed to Build.
func (b *Backend) Plans() []*builder.Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*builder.Plan(nil), b.plans...)
}

// Runs returns the commands passed to Run.
func (b *Backend) Runs() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.runs...)
}

// PipInspectReport renders a minimal pip inspect report. Each package is
// "name==version" or "name==version @ git+url@commit" for a source install.
func PipInspectReport(packages ...string) []byte {
	var items []string
	for _, p := range packages {
		req, src, hasSource := strings.Cut(p, " @ ")
		name, version, _ := strings.Cut(req, "==")
		item := fmt.Sprintf(`{"metadata": {"name": %q, "version": %q}`, name, version)
		if hasSource {
			url, commit, _ := strings.Cut(strings.TrimPrefix(src, "git+"), "@")
			item += fmt.Sprintf(`, "direct_url": {"url": %q, "vcs_info": {"vcs": "git", "commit_id": %q}}`, url, commit)
		}
		items = append(items, item+"}")
	}
	return []byte(`{"version": "1", "installed": [` + strings.Join(items, ", ") + `]}`)
}

func contains(argv []string, s string) bool {
	for _, a := range argv {
		if a == s {
			return true
		}
	}
	return false
}
