// Package env resolves secrets from process environment variables.
package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// Provider treats SecretRef.Path as an environment variable name.
// Versions are not supported.
type Provider struct {
	lookup LookupFunc
}

var _ secrets.Provider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLookup replaces os.LookupEnv, e.g. with values loaded from a .env file.
func WithLookup(fn LookupFunc) Option {
	return func(p *Provider) {
		p.lookup = fn
	}
}

// New creates an environment provider.
func New(opts ...Option) *Provider {
	p := &Provider{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "env"
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// Resolve reads the variable named by ref.Path. Unset and empty variables
// are both reported as not found.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Version != "" {
		return nil, fmt.Errorf("environment secrets are not versioned: %w", secrets.ErrInvalidRef)
	}

	v, ok := p.lookup(ref.Path)
	if !ok || v == "" {
		return nil, fmt.Errorf("environment variable %s: %w", ref.Path, secrets.ErrSecretNotFound)
	}
	return &secrets.Secret{Value: []byte(v), CreatedAt: time.Now()}, nil
}

// Exists reports whether the variable is set to a non-empty value.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, ok := p.lookup(ref.Path)
	return ok && v != "", nil
}
