// Package auth provides credential providers for git remotes. Providers
// resolve a go-git transport.AuthMethod per remote URL: a static token, the
// image's askpass helper, or a composite that tries several in order.
package auth

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Provider interface that all auth providers must implement.
type Provider interface {
	// Method returns the transport.AuthMethod for the given remote URL.
	// It returns nil when the provider does not handle the URL and an error
	// when it handles the URL but cannot produce credentials.
	Method(ctx context.Context, remoteURL string) (transport.AuthMethod, error)
}
