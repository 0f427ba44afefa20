// Package secrets resolves credentials such as the source-host access token
// just in time for a build. Values are held as byte slices so they can be
// zeroed once passed to the build backend.
//
// A Manager routes each SecretRef to a registered provider:
//
//	m := secrets.NewManager(&secrets.Config{DefaultProvider: "env"})
//	_ = m.RegisterProvider("env", env.New())
//	s, err := m.Resolve(ctx, secrets.SecretRef{Path: "GIT_ACCESS_TOKEN"})
//	defer s.Clear()
package secrets

import (
	"time"
)

// Secret represents a resolved secret value with metadata.
type Secret struct {
	// Value contains the secret data as bytes. This should never be logged or exposed.
	Value []byte
	// Version indicates the version of this secret, if the provider tracks one.
	Version string
	// CreatedAt records when this secret was created.
	CreatedAt time.Time
	// AutoClear controls whether String and Bytes clear the value after use.
	AutoClear bool
}

// SecretRef points at a secret without containing its value.
type SecretRef struct {
	// Provider names the provider to resolve from. Empty means the manager default.
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
	// Path identifies the secret within the provider, e.g. an environment
	// variable name or a Secrets Manager secret ID.
	Path string `yaml:"path" json:"path"`
	// Version selects a specific version. Empty means latest.
	Version string `yaml:"version,omitempty" json:"version,omitempty"`
}

// String returns a log-safe description of the reference.
func (r SecretRef) String() string {
	s := r.Path
	if r.Provider != "" {
		s = r.Provider + ":" + s
	}
	if r.Version != "" {
		s += "@" + r.Version
	}
	return s
}

// String returns the secret value as a string.
// If AutoClear is enabled, the secret value is cleared after use.
func (s *Secret) String() string {
	if s.Value == nil {
		return ""
	}

	value := string(s.Value)

	if s.AutoClear {
		s.Clear()
	}

	return value
}

// Bytes returns a copy of the secret value.
// If AutoClear is enabled, the secret value is cleared after use.
func (s *Secret) Bytes() []byte {
	if s.Value == nil {
		return nil
	}

	value := make([]byte, len(s.Value))
	copy(value, s.Value)

	if s.AutoClear {
		s.Clear()
	}

	return value
}

// Clear zeroes the secret value in memory.
func (s *Secret) Clear() {
	if s.Value != nil {
		for i := range s.Value {
			s.Value[i] = 0
		}
		s.Value = nil
	}
}
