package cli

import (
	"context"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets/providers/aws"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets/providers/env"
	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets/providers/memory"
)

// secretManager builds a manager with the env and memory providers. The
// AWS provider is only registered when a reference asks for it, so builds
// that never touch Secrets Manager do not need AWS credentials.
func (a *App) secretManager(ctx context.Context, refs ...secrets.SecretRef) (*secrets.Manager, error) {
	m := secrets.NewManager(&secrets.Config{
		DefaultProvider: "env",
		Logger:          a.logger,
	})
	if err := m.RegisterProvider("env", env.New(env.WithLookup(a.lookupEnv))); err != nil {
		return nil, err
	}
	if err := m.RegisterProvider("memory", memory.New()); err != nil {
		return nil, err
	}

	for _, ref := range refs {
		if ref.Provider != "aws" {
			continue
		}
		p, err := aws.New(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeUnavailable, "failed to configure AWS Secrets Manager")
		}
		if err := m.RegisterProvider("aws", p); err != nil {
			return nil, err
		}
		break
	}
	return m, nil
}

func refsOf(m map[string]secrets.SecretRef) []secrets.SecretRef {
	out := make([]secrets.SecretRef, 0, len(m))
	for _, ref := range m {
		out = append(out, ref)
	}
	return out
}

// lookupEnv reads the process environment, then the project .env file.
func (a *App) lookupEnv(key string) (string, bool) {
	if v, ok := a.LookupEnv(key); ok {
		return v, true
	}
	if a.cfg == nil {
		return "", false
	}
	v, ok := a.cfg.DotEnv()[key]
	return v, ok
}
