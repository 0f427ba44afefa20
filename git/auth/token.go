package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// DefaultTokenUsername is sent with token credentials. Hosts that accept
// tokens ignore the username but require it to be non-empty.
const DefaultTokenUsername = "x-access-token"

// TokenProvider provides HTTPS basic authentication from static
// credentials, optionally restricted to a set of hosts.
type TokenProvider struct {
	auth *http.BasicAuth

	// AllowedHosts restricts authentication to specific host patterns.
	// If empty, authentication is allowed for all HTTPS URLs.
	// Supports patterns like "*.github.com" or "gitlab.*".
	AllowedHosts []string
}

// NewBasicProvider creates a provider for a username and password.
func NewBasicProvider(username, password string) *TokenProvider {
	return &TokenProvider{
		auth: &http.BasicAuth{
			Username: username,
			Password: password,
		},
	}
}

// NewTokenProvider creates a provider that sends token as the password.
func NewTokenProvider(token string) *TokenProvider {
	return NewBasicProvider(DefaultTokenUsername, token)
}

// WithAllowedHosts sets the allowed hosts for this provider.
func (p *TokenProvider) WithAllowedHosts(hosts ...string) *TokenProvider {
	p.AllowedHosts = hosts
	return p
}

// Method returns the credentials for HTTPS URLs on an allowed host.
//
//nolint:ireturn // go-git requires returning transport.AuthMethod interface
func (p *TokenProvider) Method(_ context.Context, remoteURL string) (transport.AuthMethod, error) {
	host, err := httpsHost(remoteURL)
	if err != nil {
		return nil, err
	}
	if !hostAllowed(host, p.AllowedHosts) {
		return nil, nil
	}
	if p.auth.Password == "" {
		return nil, fmt.Errorf("no token configured for %s", host)
	}
	return p.auth, nil
}

func httpsHost(remoteURL string) (string, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("only http(s) URLs are supported, got %s", u.Scheme)
	}
	return u.Host, nil
}

func hostAllowed(host string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if matchesPattern(host, pattern) {
			return true
		}
	}
	return false
}

// matchesPattern checks if a host matches a pattern with one "*" wildcard
// as the first or last label.
func matchesPattern(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if strings.Count(pattern, "*") != 1 {
		return false
	}
	if strings.HasPrefix(pattern, "*.") {
		suffix := strings.TrimPrefix(pattern, "*.")
		return strings.HasSuffix(host, "."+suffix) || host == suffix
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(host, prefix+".")
	}
	return false
}
