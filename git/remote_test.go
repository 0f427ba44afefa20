package git

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/file"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/git/auth"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

const testURL = "file:///dynamic_routing_analysis"

// serveRepo builds an in-memory repository with two commits on master and
// a v0.1.0 tag on the first, and serves it for testURL. It returns the
// first and second commit hashes.
func serveRepo(t *testing.T) (first, second plumbing.Hash) {
	t.Helper()

	st := memory.NewStorage()
	wt := memfs.New()
	repo, err := gogit.Init(st, wt)
	require.NoError(t, err)
	w, err := repo.Worktree()
	require.NoError(t, err)

	commit := func(content, msg string) plumbing.Hash {
		f, err := wt.Create("pyproject.toml")
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, f.Close())
		_, err = w.Add("pyproject.toml")
		require.NoError(t, err)
		h, err := w.Commit(msg, &gogit.CommitOptions{
			Author: &object.Signature{Name: "Analyst", Email: "analyst@example.org", When: time.Unix(1700000000, 0)},
		})
		require.NoError(t, err)
		return h
	}

	first = commit("[project]\nversion = \"0.1.0\"\n", "initial")
	_, err = repo.CreateTag("v0.1.0", first, nil)
	require.NoError(t, err)
	second = commit("[project]\nversion = \"0.2.0\"\n", "bump version")

	ep, err := transport.NewEndpoint(testURL)
	require.NoError(t, err)
	client.InstallProtocol("file", server.NewClient(server.MapLoader{ep.String(): st}))
	t.Cleanup(func() {
		client.InstallProtocol("file", file.DefaultClient)
	})
	return first, second
}

func TestRemote_VerifyRevision(t *testing.T) {
	first, second := serveRepo(t)
	ctx := context.Background()

	t.Run("branch tip", func(t *testing.T) {
		c, err := NewRemote().VerifyRevision(ctx, pin.Source{URL: testURL, Revision: second.String()})
		require.NoError(t, err)
		assert.Equal(t, second.String(), c.Hash)
		assert.Equal(t, "refs/heads/master", c.Ref)
		assert.Equal(t, "bump version", c.Message)
		assert.Equal(t, "Analyst", c.Author)
	})

	t.Run("tagged commit", func(t *testing.T) {
		c, err := NewRemote().VerifyRevision(ctx, pin.Source{URL: testURL, Revision: first.String()})
		require.NoError(t, err)
		assert.Equal(t, first.String(), c.Hash)
		assert.Equal(t, "refs/tags/v0.1.0", c.Ref)
	})

	t.Run("unknown commit", func(t *testing.T) {
		_, err := NewRemote().VerifyRevision(ctx, pin.Source{
			URL:      testURL,
			Revision: "4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRevisionNotFound)
	})

	t.Run("cached", func(t *testing.T) {
		cache := billy.NewInMemoryFS()
		r := NewRemote(WithCache(cache))

		_, err := r.VerifyRevision(ctx, pin.Source{URL: testURL, Revision: second.String()})
		require.NoError(t, err)
		exists, err := cache.Exists("dynamic_routing_analysis.git/objects")
		require.NoError(t, err)
		assert.True(t, exists)

		c, err := r.VerifyRevision(ctx, pin.Source{URL: testURL, Revision: first.String()})
		require.NoError(t, err)
		assert.Equal(t, first.String(), c.Hash)
	})

	t.Run("missing repository", func(t *testing.T) {
		_, err := NewRemote().VerifyRevision(ctx, pin.Source{
			URL:      "file:///nowhere",
			Revision: second.String(),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRepositoryNotFound)
	})
}

func TestRemote_VerifyRevision_InvalidRevision(t *testing.T) {
	tests := []string{
		"main",
		"4b0c3d8",
		"4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a4b0c3d8f6f1e4f1a9c7c2b8d",
		"4B0C3D8F6F1E4F1A9C7C2B8D0E5A6B7C8D9E0F1A",
	}
	for _, rev := range tests {
		t.Run(rev, func(t *testing.T) {
			_, err := NewRemote().VerifyRevision(context.Background(), pin.Source{URL: testURL, Revision: rev})
			assert.ErrorIs(t, err, ErrInvalidRevision)

			_, err = pin.ParseSource("git+https://github.com/org/repo@" + rev)
			assert.ErrorIs(t, err, pin.ErrInvalidRevision, "manifest pins must reject what cannot be verified")
		})
	}
}

type stubProvider struct {
	err error
}

func (s stubProvider) Method(context.Context, string) (transport.AuthMethod, error) {
	return nil, s.err
}

func TestRemote_VerifyRevision_Credentials(t *testing.T) {
	src := pin.Source{
		URL:      "https://github.com/AllenInstitute/dynamic_routing_analysis",
		Revision: "4b0c3d8f6f1e4f1a9c7c2b8d0e5a6b7c8d9e0f1a",
	}

	t.Run("helper missing", func(t *testing.T) {
		r := NewRemote(WithAuth(stubProvider{err: auth.ErrHelperMissing}))
		_, err := r.VerifyRevision(context.Background(), src)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthRequired)
	})

	t.Run("helper failed", func(t *testing.T) {
		r := NewRemote(WithAuth(stubProvider{err: errors.New("exit status 1")}))
		_, err := r.VerifyRevision(context.Background(), src)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{transport.ErrAuthenticationRequired, ErrAuthRequired},
		{transport.ErrAuthorizationFailed, ErrAuthFailed},
		{transport.ErrRepositoryNotFound, ErrRepositoryNotFound},
		{transport.ErrEmptyRemoteRepository, ErrRevisionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.in.Error(), func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.in, testURL), tt.want)
		})
	}

	other := errors.New("connection reset")
	assert.ErrorIs(t, classify(other, testURL), other)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "github.com/AllenInstitute/dynamic_routing_analysis.git",
		cacheKey("https://github.com/AllenInstitute/dynamic_routing_analysis"))
	assert.Equal(t, "github.com/org/repo.git", cacheKey("https://github.com/org/repo.git"))
	assert.Equal(t, "dynamic_routing_analysis.git", cacheKey(testURL))
}
