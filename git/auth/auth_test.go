package auth

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/executor"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/fs/billy"
)

const repoURL = "https://github.com/AllenInstitute/dynamic_routing_analysis"

func TestTokenProvider_Method(t *testing.T) {
	tests := []struct {
		name      string
		provider  *TokenProvider
		remoteURL string
		wantAuth  bool
		wantError bool
	}{
		{
			name:      "token for any host",
			provider:  NewTokenProvider("secret"),
			remoteURL: repoURL,
			wantAuth:  true,
		},
		{
			name:      "allowed wildcard host",
			provider:  NewTokenProvider("secret").WithAllowedHosts("*.github.com", "github.com"),
			remoteURL: repoURL,
			wantAuth:  true,
		},
		{
			name:      "host not allowed returns nil",
			provider:  NewTokenProvider("secret").WithAllowedHosts("gitlab.com"),
			remoteURL: repoURL,
		},
		{
			name:      "ssh URL is an error",
			provider:  NewTokenProvider("secret"),
			remoteURL: "ssh://git@github.com/org/repo.git",
			wantError: true,
		},
		{
			name:      "empty token is an error",
			provider:  NewTokenProvider(""),
			remoteURL: repoURL,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := tt.provider.Method(context.Background(), tt.remoteURL)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if !tt.wantAuth {
				assert.Nil(t, method)
				return
			}
			basic, ok := method.(*http.BasicAuth)
			require.True(t, ok)
			assert.Equal(t, DefaultTokenUsername, basic.Username)
			assert.Equal(t, "secret", basic.Password)
		})
	}
}

func TestMatchesPattern(t *testing.T) {
	assert.True(t, matchesPattern("github.com", "github.com"))
	assert.True(t, matchesPattern("api.github.com", "*.github.com"))
	assert.False(t, matchesPattern("evilgithub.com", "*.github.com"))
	assert.True(t, matchesPattern("gitlab.example", "gitlab.*"))
	assert.False(t, matchesPattern("a.b", "*.*"))
}

func helperFS(t *testing.T, mode os.FileMode) *billy.FS {
	t.Helper()
	fsys := billy.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("/git-askpass", []byte("#!/bin/sh\n"), mode))
	return fsys
}

func TestAskpassProvider_Method(t *testing.T) {
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, call executor.Call) (*executor.Result, error) {
			switch call.Args[0] {
			case "Username for 'https://github.com': ":
				return &executor.Result{Stdout: "x-access-token\n"}, nil
			case "Password for 'https://x-access-token@github.com': ":
				return &executor.Result{Stdout: "ghp_secret\n"}, nil
			}
			return nil, fmt.Errorf("unexpected prompt %q", call.Args[0])
		},
	}

	p := NewAskpassProvider("/git-askpass", "ghp_secret",
		WithExecutor(mock), WithFilesystem(helperFS(t, 0o755)))

	method, err := p.Method(context.Background(), repoURL)
	require.NoError(t, err)
	assert.Equal(t, &http.BasicAuth{Username: "x-access-token", Password: "ghp_secret"}, method)

	calls := mock.Calls()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Equal(t, "/git-askpass", c.Program)
		assert.Equal(t, "ghp_secret", c.Options.Env[TokenEnv])
	}
}

func TestAskpassProvider_MissingHelper(t *testing.T) {
	tests := []struct {
		name   string
		helper string
		fs     *billy.FS
	}{
		{name: "not configured", helper: "", fs: billy.NewInMemoryFS()},
		{name: "absent", helper: "/git-askpass", fs: billy.NewInMemoryFS()},
		{name: "not executable", helper: "/git-askpass", fs: helperFS(t, 0o644)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &executor.MockExecutor{}
			p := NewAskpassProvider(tt.helper, "tok", WithExecutor(mock), WithFilesystem(tt.fs))

			_, err := p.Method(context.Background(), repoURL)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrHelperMissing)
			assert.Empty(t, mock.Calls(), "helper must not run")
		})
	}
}

func TestAskpassProvider_HelperFails(t *testing.T) {
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, call executor.Call) (*executor.Result, error) {
			return nil, &executor.ExitError{Program: call.Program, ExitCode: 1, Stderr: "no token"}
		},
	}
	p := NewAskpassProvider("/git-askpass", "", WithExecutor(mock), WithFilesystem(helperFS(t, 0o755)))

	_, err := p.Method(context.Background(), repoURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestAskpassProvider_EmptyPassword(t *testing.T) {
	mock := &executor.MockExecutor{
		ExecuteFunc: func(_ context.Context, _ executor.Call) (*executor.Result, error) {
			return &executor.Result{Stdout: "\n"}, nil
		},
	}
	p := NewAskpassProvider("/git-askpass", "", WithExecutor(mock), WithFilesystem(helperFS(t, 0o755)))

	_, err := p.Method(context.Background(), repoURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty password")
}

type stubProvider struct {
	auth   transport.AuthMethod
	err    error
	called bool
}

//nolint:ireturn // test stub returns interface as required by Provider
func (s *stubProvider) Method(context.Context, string) (transport.AuthMethod, error) {
	s.called = true
	return s.auth, s.err
}

func TestCompositeProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("no providers configured", func(t *testing.T) {
		_, err := NewCompositeProvider().Method(ctx, repoURL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no authentication providers configured")
	})

	t.Run("falls through nil and errors", func(t *testing.T) {
		want := &http.BasicAuth{Username: "u", Password: "p"}
		declines := &stubProvider{}
		fails := &stubProvider{err: fmt.Errorf("boom")}
		succeeds := &stubProvider{auth: want}

		got, err := NewCompositeProvider().
			AddProvider(declines).
			AddProvider(fails).
			AddProvider(succeeds).
			Method(ctx, repoURL)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.True(t, declines.called)
		assert.True(t, fails.called)
	})

	t.Run("stop on error", func(t *testing.T) {
		fails := &stubProvider{err: fmt.Errorf("boom")}
		next := &stubProvider{auth: &http.BasicAuth{}}

		_, err := NewCompositeProvider().
			SetContinueOnError(false).
			AddProvider(fails).
			AddProvider(next).
			Method(ctx, repoURL)
		require.Error(t, err)
		assert.False(t, next.called)
	})

	t.Run("url patterns", func(t *testing.T) {
		gitlab := &stubProvider{auth: &http.BasicAuth{Username: "gitlab"}}
		github := &stubProvider{auth: &http.BasicAuth{Username: "github"}}

		got, err := NewCompositeProvider().
			AddProvider(gitlab, "https://gitlab.com").
			AddProvider(github, "https://*.github.com", "https://github.com").
			Method(ctx, repoURL)
		require.NoError(t, err)
		assert.Equal(t, "github", got.(*http.BasicAuth).Username)
		assert.False(t, gitlab.called)
	})

	t.Run("last error surfaces when nothing matched", func(t *testing.T) {
		_, err := NewCompositeProvider().
			AddProvider(&stubProvider{err: fmt.Errorf("helper missing")}).
			Method(ctx, repoURL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "helper missing")
	})
}
