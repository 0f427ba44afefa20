package oci

import (
	"context"
	"log/slog"

	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// ClientOptions contains configuration options for the Client.
type ClientOptions struct {
	// StaticRegistry, StaticUsername and StaticPassword override the docker
	// credential chain for one registry.
	StaticRegistry string
	StaticUsername string
	StaticPassword string

	// CredentialFunc replaces the docker credential chain entirely.
	CredentialFunc auth.CredentialFunc

	// PlainHTTP talks to registries over HTTP, e.g. a local registry:2.
	PlainHTTP bool

	// Target replaces the remote repository for every reference. Used with
	// an in-memory store in tests and for writing to OCI layouts.
	Target oras.Target

	Logger *slog.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*ClientOptions)

// WithStaticAuth configures static credentials for a specific registry.
// Other registries still use the docker credential chain.
func WithStaticAuth(registry, username, password string) ClientOption {
	return func(opts *ClientOptions) {
		opts.StaticRegistry = registry
		opts.StaticUsername = username
		opts.StaticPassword = password
	}
}

// WithCredentialFunc configures a custom credential callback for all
// registries.
func WithCredentialFunc(fn func(ctx context.Context, registry string) (auth.Credential, error)) ClientOption {
	return func(opts *ClientOptions) {
		opts.CredentialFunc = fn
	}
}

// WithPlainHTTP enables HTTP instead of HTTPS.
func WithPlainHTTP(plain bool) ClientOption {
	return func(opts *ClientOptions) {
		opts.PlainHTTP = plain
	}
}

// WithTarget pushes to and pulls from target instead of a remote registry.
func WithTarget(target oras.Target) ClientOption {
	return func(opts *ClientOptions) {
		opts.Target = target
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(opts *ClientOptions) {
		opts.Logger = l
	}
}
