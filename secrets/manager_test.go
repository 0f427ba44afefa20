package secrets_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets/providers/env"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets/providers/memory"
)

func newManager(t *testing.T, autoClear bool) (*secrets.Manager, *memory.Provider) {
	t.Helper()
	m := secrets.NewManager(&secrets.Config{DefaultProvider: "memory", AutoClear: autoClear})
	mem := memory.New()
	require.NoError(t, m.RegisterProvider("memory", mem))
	require.NoError(t, m.RegisterProvider("env", env.New(env.WithLookup(func(k string) (string, bool) {
		if k == "GIT_ACCESS_TOKEN" {
			return "from-env", true
		}
		return "", false
	}))))
	return m, mem
}

func TestManager_RegisterProvider(t *testing.T) {
	m := secrets.NewManager(nil)
	require.NoError(t, m.RegisterProvider("memory", memory.New()))
	assert.Error(t, m.RegisterProvider("memory", memory.New()))
	assert.Error(t, m.RegisterProvider("", memory.New()))
	assert.Error(t, m.RegisterProvider("nil", nil))
	assert.Equal(t, []string{"memory"}, m.Providers())
}

func TestManager_Resolve(t *testing.T) {
	ctx := context.Background()
	m, mem := newManager(t, false)
	require.NoError(t, mem.Store(ctx, secrets.SecretRef{Path: "token"}, []byte("from-memory")))

	t.Run("default provider", func(t *testing.T) {
		s, err := m.Resolve(ctx, secrets.SecretRef{Path: "token"})
		require.NoError(t, err)
		assert.Equal(t, "from-memory", s.String())
	})

	t.Run("named provider", func(t *testing.T) {
		s, err := m.Resolve(ctx, secrets.SecretRef{Provider: "env", Path: "GIT_ACCESS_TOKEN"})
		require.NoError(t, err)
		assert.Equal(t, "from-env", s.String())
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := m.Resolve(ctx, secrets.SecretRef{Provider: "vault", Path: "token"})
		assert.ErrorContains(t, err, `provider "vault" not found`)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := m.Resolve(ctx, secrets.SecretRef{Path: "absent"})
		require.Error(t, err)
		assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
		assert.True(t, secrets.IsProviderError(err))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := m.Resolve(ctx, secrets.SecretRef{})
		assert.ErrorIs(t, err, secrets.ErrInvalidRef)
	})
}

func TestManager_NoDefault(t *testing.T) {
	m := secrets.NewManager(&secrets.Config{})
	_, err := m.Resolve(context.Background(), secrets.SecretRef{Path: "token"})
	assert.ErrorContains(t, err, "no default provider configured")
}

func TestManager_AutoClear(t *testing.T) {
	ctx := context.Background()
	m, mem := newManager(t, true)
	require.NoError(t, mem.Store(ctx, secrets.SecretRef{Path: "token"}, []byte("abc")))

	s, err := m.Resolve(ctx, secrets.SecretRef{Path: "token"})
	require.NoError(t, err)
	assert.Equal(t, "abc", s.String())
	assert.Nil(t, s.Value)
	assert.Equal(t, "", s.String())
}

func TestManager_ResolveAll(t *testing.T) {
	ctx := context.Background()
	m, mem := newManager(t, false)
	require.NoError(t, mem.Store(ctx, secrets.SecretRef{Path: "token"}, []byte("abc")))

	got, err := m.ResolveAll(ctx, map[string]secrets.SecretRef{
		"GIT_ACCESS_TOKEN": {Provider: "env", Path: "GIT_ACCESS_TOKEN"},
		"OTHER":            {Path: "token"},
	})
	require.NoError(t, err)
	assert.Equal(t, "from-env", got["GIT_ACCESS_TOKEN"].String())
	assert.Equal(t, "abc", got["OTHER"].String())

	_, err = m.ResolveAll(ctx, map[string]secrets.SecretRef{
		"A": {Path: "token"},
		"B": {Path: "absent"},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "resolving B")
}

func TestManager_Exists(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, false)

	ok, err := m.Exists(ctx, secrets.SecretRef{Provider: "env", Path: "GIT_ACCESS_TOKEN"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Exists(ctx, secrets.SecretRef{Path: "absent"})
	require.NoError(t, err)
	assert.False(t, ok)
}

type failingCloser struct{ *memory.Provider }

func (failingCloser) Close() error { return errors.New("close failed") }

func TestManager_Close(t *testing.T) {
	m := secrets.NewManager(nil)
	require.NoError(t, m.RegisterProvider("memory", memory.New()))
	require.NoError(t, m.RegisterProvider("bad", failingCloser{memory.New()}))

	err := m.Close()
	require.Error(t, err)
	assert.ErrorContains(t, err, `failed to close provider "bad"`)
	assert.Empty(t, m.Providers())
}

func TestSecret_Clear(t *testing.T) {
	value := []byte("secret")
	s := &secrets.Secret{Value: value}

	b := s.Bytes()
	s.Clear()

	assert.Equal(t, []byte("secret"), b)
	assert.Nil(t, s.Value)
	assert.Equal(t, make([]byte, 6), value)
}

func TestSecretRef_String(t *testing.T) {
	assert.Equal(t, "GIT_ACCESS_TOKEN", secrets.SecretRef{Path: "GIT_ACCESS_TOKEN"}.String())
	assert.Equal(t, "aws:envbuild/token@AWSCURRENT",
		secrets.SecretRef{Provider: "aws", Path: "envbuild/token", Version: "AWSCURRENT"}.String())
}
