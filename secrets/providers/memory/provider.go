// Package memory provides an in-memory secret provider for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// latestVersion is the version used when none is requested.
const latestVersion = "latest"

// Provider stores secrets in memory, keyed by path and version.
type Provider struct {
	store map[string]map[string]*secrets.Secret
	mu    sync.RWMutex
}

var _ secrets.WriteableProvider = (*Provider)(nil)

// New creates an empty memory provider.
func New() *Provider {
	return &Provider{
		store: make(map[string]map[string]*secrets.Secret),
	}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "memory"
}

// Close clears all stored secrets.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for path, versions := range p.store {
		for version, secret := range versions {
			secret.Clear()
			delete(versions, version)
		}
		delete(p.store, path)
	}

	return nil
}

// Resolve returns a copy of the stored secret.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("resolve operation cancelled: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	secret, err := p.lookup(ref)
	if err != nil {
		return nil, err
	}

	return &secrets.Secret{
		Value:     append([]byte(nil), secret.Value...),
		Version:   secret.Version,
		CreatedAt: secret.CreatedAt,
	}, nil
}

// Exists reports whether the referenced secret is stored.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists operation cancelled: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	_, err := p.lookup(ref)
	return err == nil, nil
}

// Store saves a copy of value under ref. The stored copy is also the
// latest version.
func (p *Provider) Store(ctx context.Context, ref secrets.SecretRef, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store operation cancelled: %w", err)
	}
	if ref.Path == "" {
		return fmt.Errorf("secret path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.store[ref.Path]
	if !ok {
		versions = make(map[string]*secrets.Secret)
		p.store[ref.Path] = versions
	}

	version := ref.Version
	if version == "" {
		version = latestVersion
	}
	secret := &secrets.Secret{
		Value:     append([]byte(nil), value...),
		Version:   version,
		CreatedAt: time.Now(),
	}
	versions[version] = secret
	if version != latestVersion {
		versions[latestVersion] = &secrets.Secret{
			Value:     append([]byte(nil), value...),
			Version:   version,
			CreatedAt: secret.CreatedAt,
		}
	}
	return nil
}

// Delete removes every version of the secret at ref.Path.
func (p *Provider) Delete(ctx context.Context, ref secrets.SecretRef) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete operation cancelled: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.store[ref.Path]
	if !ok {
		return fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}
	for _, s := range versions {
		s.Clear()
	}
	delete(p.store, ref.Path)
	return nil
}

func (p *Provider) lookup(ref secrets.SecretRef) (*secrets.Secret, error) {
	versions, ok := p.store[ref.Path]
	if !ok {
		return nil, fmt.Errorf("secret %q: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	version := ref.Version
	if version == "" {
		version = latestVersion
	}

	secret, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("secret version %s@%s: %w", ref.Path, version, secrets.ErrSecretNotFound)
	}
	return secret, nil
}
