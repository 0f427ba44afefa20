// Package git verifies that pinned source revisions exist at their
// remotes. Verification lists the remote's refs and fetches its branches
// and tags into in-memory (or cached) storage; no worktree is checked out.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/git/auth"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/git/internal/fsbridge"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/pin"
)

const (
	// DefaultRemoteName is the name given to the remote being verified.
	DefaultRemoteName = "origin"

	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000
)

// fetchSpecs fetch every branch and tag.
var fetchSpecs = []config.RefSpec{
	"+refs/heads/*:refs/remotes/origin/*",
	"+refs/tags/*:refs/tags/*",
}

// AuthProvider resolves authentication methods for git operations.
type AuthProvider = auth.Provider

// Commit describes a verified revision.
type Commit struct {
	URL  string
	Hash string
	// Ref is the branch or tag whose tip is the commit, if any.
	Ref     string
	Author  string
	Message string
	When    time.Time
}

// Remote verifies revisions against remote repositories.
type Remote struct {
	auth      AuthProvider
	cache     fs.Filesystem
	cacheSize int
	logger    *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithAuth sets the credential provider. Without one, remotes are accessed
// anonymously.
func WithAuth(p AuthProvider) RemoteOption {
	return func(r *Remote) {
		r.auth = p
	}
}

// WithCache stores fetched objects in fsys, one directory per repository,
// so repeated verifications only fetch new objects. fsys must come from
// the fs/billy package.
func WithCache(fsys fs.Filesystem) RemoteOption {
	return func(r *Remote) {
		r.cache = fsys
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) {
		r.logger = l
	}
}

// NewRemote creates a Remote.
func NewRemote(opts ...RemoteOption) *Remote {
	r := &Remote{
		cacheSize: DefaultStorerCacheSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifyRevision checks that src.Revision is a commit in the repository at
// src.URL. It never falls back to anonymous access when credentials cannot
// be produced.
func (r *Remote) VerifyRevision(ctx context.Context, src pin.Source) (*Commit, error) {
	if !pin.IsRevision(src.Revision) {
		return nil, WrapErrorf(ErrInvalidRevision, "%q is not a full SHA-1 commit", src.Revision)
	}
	hash := plumbing.NewHash(src.Revision)
	log := r.logger.With("url", src.URL, "revision", src.Revision)

	method, err := r.authMethod(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	st, err := r.storage(src.URL)
	if err != nil {
		return nil, err
	}

	remote := gogit.NewRemote(st, &config.RemoteConfig{Name: DefaultRemoteName, URLs: []string{src.URL}})

	log.Debug("listing remote refs")
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: method})
	if err != nil {
		return nil, classify(err, src.URL)
	}
	tip := tipRef(refs, hash)

	if c, err := object.GetCommit(st, hash); err == nil {
		log.Debug("revision found in cache")
		return newCommit(src.URL, tip, c), nil
	}

	log.Debug("fetching remote branches and tags")
	err = remote.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   fetchSpecs,
		Auth:       method,
		Tags:       gogit.NoTags,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil, classify(err, src.URL)
	}

	c, err := object.GetCommit(st, hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, WrapErrorf(ErrRevisionNotFound, "%s has no commit %s", src.URL, src.Revision)
		}
		return nil, WrapErrorf(err, "failed to read commit %s", src.Revision)
	}
	return newCommit(src.URL, tip, c), nil
}

func (r *Remote) authMethod(ctx context.Context, remoteURL string) (transport.AuthMethod, error) {
	if r.auth == nil {
		return nil, nil
	}
	method, err := r.auth.Method(ctx, remoteURL)
	if err != nil {
		if errors.Is(err, auth.ErrHelperMissing) {
			return nil, WrapErrorf(ErrAuthRequired, "no credentials for %s: %v", remoteURL, err)
		}
		return nil, WrapErrorf(ErrAuthFailed, "resolving credentials for %s: %v", remoteURL, err)
	}
	return method, nil
}

func (r *Remote) storage(remoteURL string) (storage.Storer, error) {
	if r.cache == nil {
		return memory.NewStorage(), nil
	}
	billyFS, err := fsbridge.ToBillyFilesystem(r.cache)
	if err != nil {
		return nil, fmt.Errorf("filesystem conversion failed: %w", err)
	}
	scoped, err := billyFS.Chroot(cacheKey(remoteURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache for %s: %w", remoteURL, err)
	}
	return fsbridge.NewStorage(scoped, r.cacheSize), nil
}

// cacheKey maps a remote URL to a relative directory such as
// github.com/org/repo.git.
func cacheKey(remoteURL string) string {
	key := remoteURL
	if u, err := url.Parse(remoteURL); err == nil && u.Host != "" {
		key = u.Host + u.Path
	}
	key = strings.TrimPrefix(key, "file://")
	key = strings.Trim(strings.ReplaceAll(key, ":", "_"), "/")
	if !strings.HasSuffix(key, ".git") {
		key += ".git"
	}
	return key
}

func tipRef(refs []*plumbing.Reference, hash plumbing.Hash) string {
	for _, ref := range refs {
		if ref.Type() == plumbing.HashReference && ref.Hash() == hash && ref.Name() != plumbing.HEAD {
			return ref.Name().String()
		}
	}
	return ""
}

func newCommit(remoteURL, ref string, c *object.Commit) *Commit {
	return &Commit{
		URL:     remoteURL,
		Hash:    c.Hash.String(),
		Ref:     ref,
		Author:  c.Author.Name,
		Message: strings.TrimSpace(c.Message),
		When:    c.Author.When,
	}
}

// classify maps transport errors onto the package sentinels.
func classify(err error, remoteURL string) error {
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return WrapErrorf(ErrAuthRequired, "%s", remoteURL)
	case errors.Is(err, transport.ErrAuthorizationFailed):
		return WrapErrorf(ErrAuthFailed, "%s", remoteURL)
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return WrapErrorf(ErrRepositoryNotFound, "%s", remoteURL)
	case errors.Is(err, transport.ErrEmptyRemoteRepository):
		return WrapErrorf(ErrRevisionNotFound, "%s is empty", remoteURL)
	default:
		return WrapErrorf(err, "failed to contact %s", remoteURL)
	}
}
