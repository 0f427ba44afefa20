package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

func TestProvider_StoreResolve(t *testing.T) {
	ctx := context.Background()
	p := New()

	ref := secrets.SecretRef{Path: "GIT_ACCESS_TOKEN"}
	require.NoError(t, p.Store(ctx, ref, []byte("ghp_first")))
	require.NoError(t, p.Store(ctx, secrets.SecretRef{Path: ref.Path, Version: "v2"}, []byte("ghp_second")))

	latest, err := p.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "ghp_second", latest.String())
	assert.Equal(t, "v2", latest.Version)

	v2, err := p.Resolve(ctx, secrets.SecretRef{Path: ref.Path, Version: "v2"})
	require.NoError(t, err)
	assert.Equal(t, "ghp_second", v2.String())

	_, err = p.Resolve(ctx, secrets.SecretRef{Path: ref.Path, Version: "v9"})
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestProvider_ResolveReturnsCopy(t *testing.T) {
	ctx := context.Background()
	p := New()
	ref := secrets.SecretRef{Path: "token"}
	require.NoError(t, p.Store(ctx, ref, []byte("abc")))

	s, err := p.Resolve(ctx, ref)
	require.NoError(t, err)
	s.Clear()

	again, err := p.Resolve(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "abc", again.String())
}

func TestProvider_ExistsDelete(t *testing.T) {
	ctx := context.Background()
	p := New()
	ref := secrets.SecretRef{Path: "token"}

	ok, err := p.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Store(ctx, ref, []byte("abc")))
	ok, err = p.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.Delete(ctx, ref))
	assert.ErrorIs(t, p.Delete(ctx, ref), secrets.ErrSecretNotFound)
}

func TestProvider_Errors(t *testing.T) {
	p := New()
	assert.ErrorIs(t, p.Store(context.Background(), secrets.SecretRef{}, []byte("x")), secrets.ErrInvalidRef)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Resolve(ctx, secrets.SecretRef{Path: "token"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvider_Close(t *testing.T) {
	ctx := context.Background()
	p := New()
	ref := secrets.SecretRef{Path: "token"}
	require.NoError(t, p.Store(ctx, ref, []byte("abc")))
	require.NoError(t, p.Close())

	_, err := p.Resolve(ctx, ref)
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}
