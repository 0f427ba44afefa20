// Package oci publishes build lockfiles to OCI registries as artifacts, so
// the record of what an image contains lives next to the image itself.
package oci

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/lockfile"
)

// Media types of a published lock.
const (
	ArtifactType  = "application/vnd.envbuild.lock.v1"
	LockMediaType = "application/vnd.envbuild.lock.v1+yaml"
)

// Annotations set on the lock manifest.
const (
	AnnotationBuildID        = "org.alleninstitute.envbuild.build-id"
	AnnotationManifestDigest = "org.alleninstitute.envbuild.manifest-digest"
	AnnotationBaseImage      = "org.alleninstitute.envbuild.base-image"
)

// Client pushes and pulls lockfiles.
type Client struct {
	options *ClientOptions
	logger  *slog.Logger
}

// New creates a Client. Without options it uses the docker credential chain
// (~/.docker/config.json and its credential helpers).
func New(opts ...ClientOption) (*Client, error) {
	options := &ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.StaticRegistry != "" && (options.StaticUsername == "" || options.StaticPassword == "") {
		return nil, errors.New(errors.CodeInvalidConfig,
			"static username and password required when static registry is specified")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{options: options, logger: logger}, nil
}

// PushLock publishes l as an artifact tagged at ref and returns the
// manifest descriptor.
func (c *Client) PushLock(ctx context.Context, ref string, l *lockfile.Lock) (ocispec.Descriptor, error) {
	parsed, target, err := c.target(ctx, ref)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	tag := parsed.Reference
	if tag == "" {
		return ocispec.Descriptor{}, errors.Newf(errors.CodeInvalidInput, "reference %q must include a tag", ref)
	}

	data, err := l.Marshal()
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	layer, err := oras.PushBytes(ctx, target, LockMediaType, data)
	if err != nil {
		return ocispec.Descriptor{}, mapError("push", ref, err)
	}

	manDesc, err := oras.PackManifest(ctx, target, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{layer},
		ManifestAnnotations: map[string]string{
			ocispec.AnnotationCreated: l.BuiltAt.UTC().Format(time.RFC3339),
			AnnotationBuildID:         l.BuildID,
			AnnotationManifestDigest:  l.ManifestDigest.String(),
			AnnotationBaseImage:       l.BaseImage,
		},
	})
	if err != nil {
		return ocispec.Descriptor{}, mapError("push", ref, err)
	}

	if err := target.Tag(ctx, manDesc, tag); err != nil {
		return ocispec.Descriptor{}, mapError("push", ref, err)
	}
	// Registries resolve manifests by digest. Local stores only resolve
	// tags, so the digest is tagged too.
	if _, remoteRepo := target.(*remote.Repository); !remoteRepo {
		if err := target.Tag(ctx, manDesc, manDesc.Digest.String()); err != nil {
			return ocispec.Descriptor{}, mapError("push", ref, err)
		}
	}

	c.logger.Info("published lock", "ref", ref, "digest", manDesc.Digest.String(), "build_id", l.BuildID)
	return manDesc, nil
}

// PullLock fetches the lock published at ref, which may be a tag or digest.
func (c *Client) PullLock(ctx context.Context, ref string) (*lockfile.Lock, error) {
	parsed, target, err := c.target(ctx, ref)
	if err != nil {
		return nil, err
	}
	if parsed.Reference == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "reference %q must include a tag or digest", ref)
	}

	desc, manifestBytes, err := oras.FetchBytes(ctx, target, parsed.Reference, oras.DefaultFetchBytesOptions)
	if err != nil {
		return nil, mapError("pull", ref, err)
	}
	if desc.MediaType != ocispec.MediaTypeImageManifest {
		return nil, errors.Newf(errors.CodeInvalidInput, "%s is a %s, not an image manifest", ref, desc.MediaType)
	}

	var man ocispec.Manifest
	if err := json.Unmarshal(manifestBytes, &man); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidInput, "%s has an unreadable manifest", ref)
	}
	if man.ArtifactType != ArtifactType {
		return nil, errors.Newf(errors.CodeInvalidInput, "%s is not an envbuild lock (artifact type %q)", ref, man.ArtifactType)
	}

	var layer *ocispec.Descriptor
	for i := range man.Layers {
		if man.Layers[i].MediaType == LockMediaType {
			layer = &man.Layers[i]
			break
		}
	}
	if layer == nil {
		return nil, errors.Newf(errors.CodeInvalidInput, "%s has no %s layer", ref, LockMediaType)
	}

	data, err := content.FetchAll(ctx, target, *layer)
	if err != nil {
		return nil, mapError("pull", ref, err)
	}
	l, err := lockfile.Parse(bytes.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	c.logger.Debug("pulled lock", "ref", ref, "digest", desc.Digest.String())
	return l, nil
}

func (c *Client) target(ctx context.Context, ref string) (registry.Reference, oras.Target, error) {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return registry.Reference{}, nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid reference %q", ref)
	}
	if c.options.Target != nil {
		return parsed, c.options.Target, nil
	}

	repo, err := remote.NewRepository(parsed.Registry + "/" + parsed.Repository)
	if err != nil {
		return registry.Reference{}, nil, errors.Wrapf(err, errors.CodeInvalidInput, "invalid repository in %q", ref)
	}
	repo.PlainHTTP = c.options.PlainHTTP

	cred, err := c.credential(ctx)
	if err != nil {
		return registry.Reference{}, nil, err
	}
	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: cred,
	}
	return parsed, repo, nil
}

func (c *Client) credential(_ context.Context) (auth.CredentialFunc, error) {
	switch {
	case c.options.CredentialFunc != nil:
		return c.options.CredentialFunc, nil
	case c.options.StaticRegistry != "":
		static := auth.StaticCredential(c.options.StaticRegistry, auth.Credential{
			Username: c.options.StaticUsername,
			Password: c.options.StaticPassword,
		})
		fallback, err := dockerCredential()
		if err != nil {
			return static, nil
		}
		return func(ctx context.Context, hostport string) (auth.Credential, error) {
			if hostport == c.options.StaticRegistry {
				return static(ctx, hostport)
			}
			return fallback(ctx, hostport)
		}, nil
	default:
		cred, err := dockerCredential()
		if err != nil {
			c.logger.Warn("docker credential store unavailable, using anonymous access", "error", err)
			return auth.StaticCredential("", auth.EmptyCredential), nil
		}
		return cred, nil
	}
}

func dockerCredential() (auth.CredentialFunc, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, err
	}
	return credentials.Credential(store), nil
}

// mapError classifies registry errors with platform codes.
func mapError(op, ref string, err error) error {
	var respErr *errcode.ErrorResponse
	switch {
	case stderrors.Is(err, errdef.ErrNotFound):
		return errors.Wrapf(err, errors.CodeNotFound, "%s %s", op, ref)
	case stderrors.As(err, &respErr) && respErr.StatusCode == http.StatusUnauthorized:
		return errors.Wrapf(err, errors.CodeUnauthorized, "%s %s", op, ref)
	case stderrors.As(err, &respErr) && respErr.StatusCode == http.StatusForbidden:
		return errors.Wrapf(err, errors.CodeForbidden, "%s %s", op, ref)
	case stderrors.Is(err, context.Canceled):
		return errors.Wrapf(err, errors.CodeCanceled, "%s %s", op, ref)
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.Wrapf(err, errors.CodeTimeout, "%s %s", op, ref)
	default:
		return errors.Wrap(err, errors.CodeNetwork, op+" "+ref)
	}
}
