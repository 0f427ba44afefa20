// Package aws resolves secrets from AWS Secrets Manager.
//
// Credentials are loaded with the SDK default chain when the provider is
// created. For tests against LocalStack, use WithEndpoint:
//
//	p, err := aws.New(ctx, aws.WithEndpoint("http://localhost:4566"))
package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/secrets"
)

// AWS error codes that are not modeled as typed exceptions.
const (
	accessDeniedException = "AccessDeniedException"
	localstackRegion      = "us-east-1"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the
// provider uses.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
}

// Provider resolves SecretRef.Path as a secret ID or ARN.
// It is safe for concurrent use.
type Provider struct {
	client SecretsManagerAPI
	config *Config
}

var _ secrets.Provider = (*Provider)(nil)

// Config holds the configuration for the provider.
type Config struct {
	// Region overrides the SDK default region resolution.
	Region string
	// Endpoint overrides the service endpoint and switches to anonymous
	// credentials.
	Endpoint string
	// Client replaces the SDK client entirely.
	Client SecretsManagerAPI
}

// Option configures the provider.
type Option func(*Config)

// WithRegion sets the AWS region.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom endpoint, such as LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithClient injects a Secrets Manager client, typically a test double.
func WithClient(client SecretsManagerAPI) Option {
	return func(c *Config) {
		c.Client = client
	}
}

// New creates a provider. Unless WithClient is given, the AWS configuration
// is loaded from the environment.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Client != nil {
		return &Provider{client: cfg.Client, config: cfg}, nil
	}

	if cfg.Endpoint != "" {
		region := cfg.Region
		if region == "" {
			region = localstackRegion
		}
		awsCfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithCredentialsProvider(aws.AnonymousCredentials{}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
		return &Provider{client: client, config: cfg}, nil
	}

	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{client: secretsmanager.NewFromConfig(awsCfg), config: cfg}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "aws"
}

// Close is a no-op; SDK clients hold no resources that need releasing.
func (p *Provider) Close() error {
	return nil
}

// Resolve fetches the secret value. ref.Version may name a version stage
// (AWSCURRENT, AWSPREVIOUS, AWSPENDING) or a version ID.
func (p *Provider) Resolve(ctx context.Context, ref secrets.SecretRef) (*secrets.Secret, error) {
	if ref.Path == "" {
		return nil, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	}
	switch ref.Version {
	case "":
	case "AWSCURRENT", "AWSPREVIOUS", "AWSPENDING":
		input.VersionStage = aws.String(ref.Version)
	default:
		input.VersionId = aws.String(ref.Version)
	}

	output, err := p.client.GetSecretValue(ctx, input)
	if err != nil {
		return nil, mapError(ref, err)
	}

	var value []byte
	switch {
	case output.SecretString != nil:
		value = []byte(*output.SecretString)
	case output.SecretBinary != nil:
		value = output.SecretBinary
	default:
		return nil, fmt.Errorf("secret %q has no value: %w", ref.Path, secrets.ErrSecretNotFound)
	}
	if len(value) == 0 {
		return nil, fmt.Errorf("secret %q is empty: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	secret := &secrets.Secret{
		Value:   value,
		Version: aws.ToString(output.VersionId),
	}
	if output.CreatedDate != nil {
		secret.CreatedAt = *output.CreatedDate
	} else {
		secret.CreatedAt = time.Now()
	}
	return secret, nil
}

// Exists describes the secret without reading its value.
func (p *Provider) Exists(ctx context.Context, ref secrets.SecretRef) (bool, error) {
	if ref.Path == "" {
		return false, fmt.Errorf("secret reference path cannot be empty: %w", secrets.ErrInvalidRef)
	}

	_, err := p.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(ref.Path),
	})
	if err != nil {
		mapped := mapError(ref, err)
		if errors.Is(mapped, secrets.ErrSecretNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// mapError maps SDK errors onto the secrets sentinels.
func mapError(ref secrets.SecretRef, err error) error {
	var rnf *types.ResourceNotFoundException
	if errors.As(err, &rnf) {
		return fmt.Errorf("secret %q not found: %w", ref.Path, secrets.ErrSecretNotFound)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == accessDeniedException {
			return fmt.Errorf("access denied for secret %q: %w", ref.Path, secrets.ErrAccessDenied)
		}
		return fmt.Errorf("failed to resolve secret %q: %s: %s: %w",
			ref.Path, apiErr.ErrorCode(), apiErr.ErrorMessage(), secrets.ErrProviderError)
	}

	return fmt.Errorf("failed to resolve secret %q: %w",
		ref.Path, errors.Join(secrets.ErrProviderError, err))
}
