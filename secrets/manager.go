package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Config holds the configuration for the Manager.
type Config struct {
	// DefaultProvider is used for references that do not name a provider.
	DefaultProvider string

	// AutoClear controls whether resolved secrets clear their memory after
	// String or Bytes is called.
	AutoClear bool

	// Logger receives access events. Secret values are never logged.
	Logger *slog.Logger
}

// Manager orchestrates secret resolution across multiple providers.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	autoClear       bool
	logger          *slog.Logger

	mu sync.RWMutex
}

var _ Resolver = (*Manager)(nil)

// NewManager creates a new Manager with the provided configuration.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Manager{
		providers:       make(map[string]Provider),
		defaultProvider: config.DefaultProvider,
		autoClear:       config.AutoClear,
		logger:          logger,
	}
}

// RegisterProvider adds a provider to the manager's registry.
// Returns an error if a provider with the same name already exists.
func (m *Manager) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider with name %q already registered", name)
	}

	m.providers[name] = provider
	return nil
}

// Providers returns the registered provider names in sorted order.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve resolves a secret from the provider named by ref.Provider, or the
// default provider when none is named.
func (m *Manager) Resolve(ctx context.Context, ref SecretRef) (*Secret, error) {
	name, provider, err := m.provider(ref)
	if err != nil {
		m.logger.WarnContext(ctx, "secret resolution failed", "ref", ref.String(), "error", err)
		return nil, err
	}

	secret, err := provider.Resolve(ctx, ref)
	if err != nil {
		m.logger.WarnContext(ctx, "secret resolution failed", "ref", ref.String(), "error", err)
		return nil, WrapProviderError(name, ref, err, "failed to resolve secret")
	}
	m.logger.DebugContext(ctx, "secret resolved", "ref", ref.String())

	secret.AutoClear = m.autoClear
	return secret, nil
}

// ResolveAll resolves every reference in refs, keyed the same way. On error
// any secrets already resolved are cleared and nothing is returned.
func (m *Manager) ResolveAll(ctx context.Context, refs map[string]SecretRef) (map[string]*Secret, error) {
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]*Secret, len(refs))
	for _, k := range keys {
		s, err := m.Resolve(ctx, refs[k])
		if err != nil {
			for _, resolved := range out {
				resolved.Clear()
			}
			return nil, fmt.Errorf("resolving %s: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

// Exists checks if a secret exists.
func (m *Manager) Exists(ctx context.Context, ref SecretRef) (bool, error) {
	name, provider, err := m.provider(ref)
	if err != nil {
		return false, err
	}

	exists, err := provider.Exists(ctx, ref)
	if err != nil {
		return false, WrapProviderError(name, ref, err, "failed to check existence")
	}

	return exists, nil
}

func (m *Manager) provider(ref SecretRef) (string, Provider, error) {
	if ref.Path == "" {
		return "", nil, fmt.Errorf("secret reference path cannot be empty: %w", ErrInvalidRef)
	}

	name := ref.Provider
	if name == "" {
		name = m.defaultProvider
	}
	if name == "" {
		return "", nil, fmt.Errorf("no default provider configured")
	}

	m.mu.RLock()
	provider, exists := m.providers[name]
	m.mu.RUnlock()

	if !exists {
		return "", nil, fmt.Errorf("provider %q not found", name)
	}
	return name, provider, nil
}

// Close shuts down all registered providers and aggregates their errors.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, provider := range m.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", name, err))
		}
	}

	m.providers = make(map[string]Provider)

	return errors.Join(errs...)
}
