package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ProviderConfig configures a provider with URL pattern matching.
type ProviderConfig struct {
	// Provider is the authentication provider to use.
	Provider Provider

	// URLPatterns restrict the provider to matching URLs, e.g.
	// "https://*.github.com". If empty the provider is tried for all URLs.
	URLPatterns []string
}

// CompositeProvider tries providers in order until one returns credentials.
type CompositeProvider struct {
	Providers []ProviderConfig

	// ContinueOnError determines whether to continue trying other providers
	// if a provider returns an error, or stop immediately.
	ContinueOnError bool
}

// NewCompositeProvider creates a new composite authentication provider.
func NewCompositeProvider() *CompositeProvider {
	return &CompositeProvider{
		ContinueOnError: true,
	}
}

// AddProvider adds a provider to the fallback chain.
func (c *CompositeProvider) AddProvider(provider Provider, urlPatterns ...string) *CompositeProvider {
	c.Providers = append(c.Providers, ProviderConfig{
		Provider:    provider,
		URLPatterns: urlPatterns,
	})
	return c
}

// SetContinueOnError configures error handling strategy.
func (c *CompositeProvider) SetContinueOnError(continueOnError bool) *CompositeProvider {
	c.ContinueOnError = continueOnError
	return c
}

// Method returns the first credentials produced for remoteURL. If no
// provider produced credentials the last provider error is returned.
//
//nolint:ireturn // transport.AuthMethod is an interface required by go-git
func (c *CompositeProvider) Method(ctx context.Context, remoteURL string) (transport.AuthMethod, error) {
	if len(c.Providers) == 0 {
		return nil, fmt.Errorf("no authentication providers configured")
	}

	parsedURL, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var lastError error
	for i, config := range c.Providers {
		if !shouldTryProvider(parsedURL, config.URLPatterns) {
			continue
		}

		method, err := config.Provider.Method(ctx, remoteURL)
		if err != nil {
			lastError = fmt.Errorf("provider %d failed: %w", i, err)
			if !c.ContinueOnError {
				return nil, lastError
			}
			continue
		}
		if method != nil {
			return method, nil
		}
	}

	return nil, lastError
}

func shouldTryProvider(parsedURL *url.URL, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matchesURLPattern(parsedURL, pattern) {
			return true
		}
	}
	return false
}

func matchesURLPattern(parsedURL *url.URL, pattern string) bool {
	patternURL, err := url.Parse(pattern)
	if err != nil {
		return strings.Contains(parsedURL.String(), pattern)
	}
	if patternURL.Scheme != "" && patternURL.Scheme != parsedURL.Scheme {
		return false
	}
	if patternURL.Host != "" && !matchesPattern(parsedURL.Host, patternURL.Host) {
		return false
	}
	return true
}
