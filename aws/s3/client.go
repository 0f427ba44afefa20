// Package s3 archives lockfiles in Amazon S3 or any S3-compatible store.
//
// Locks are stored as YAML objects. A location is written as an s3:// URI:
//
//	client, err := s3.New(ctx, s3.WithRegion("us-west-2"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	loc, _ := s3.ParseURI("s3://aind-envs/dynamicrouting/envbuild.lock")
//	stored, err := client.PutLock(ctx, loc, lock)
package s3

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// API is the subset of the S3 client used here. Tests supply a mock.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(
		ctx context.Context,
		params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options),
	) (*s3.ListObjectsV2Output, error)
}

// Client reads and writes lockfiles in S3.
type Client struct {
	api    API
	logger *slog.Logger
}

type options struct {
	region         string
	endpoint       string
	forcePathStyle bool
	api            API
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithRegion sets the AWS region. Defaults to the SDK's resolved region,
// then us-east-1.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithEndpoint sets a custom endpoint, e.g. a MinIO server.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithForcePathStyle addresses buckets by path instead of by host.
func WithForcePathStyle(force bool) Option {
	return func(o *options) {
		o.forcePathStyle = force
	}
}

// WithAPI replaces the SDK client.
func WithAPI(api API) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a Client. Credentials come from the default AWS chain unless
// WithAPI is given.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if o.api != nil {
		return &Client{api: o.api, logger: logger}, nil
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to load AWS configuration")
	}
	if o.region != "" {
		cfg.Region = o.region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var s3Opts []func(*s3.Options)
	if o.forcePathStyle {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.UsePathStyle = true
		})
	}
	if o.endpoint != "" {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(o.endpoint)
		})
	}

	return &Client{api: s3.NewFromConfig(cfg, s3Opts...), logger: logger}, nil
}
