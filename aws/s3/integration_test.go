//go:build integration

// Integration tests run against LocalStack and need a Docker daemon:
//
//	go test -tags=integration ./aws/s3/...
package s3

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/localstack"

	"github.com/AllenNeuralDynamics/dynamicrouting-encoding-io/errors"
)

// startLocalStack runs a LocalStack container for the test and returns its
// endpoint.
func startLocalStack(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := localstack.Run(ctx, "localstack/localstack:latest")
	require.NoError(t, err, "failed to start LocalStack")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate LocalStack: %v", err)
		}
	})

	port, err := nat.NewPort("tcp", "4566")
	require.NoError(t, err)
	endpoint, err := container.PortEndpoint(ctx, port, "")
	require.NoError(t, err)
	if !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}
	return endpoint
}

func TestIntegration_Locks(t *testing.T) {
	endpoint := startLocalStack(t)
	ctx := context.Background()
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err)
	admin := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})
	_, err = admin.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String("aind-envs")})
	require.NoError(t, err)

	c, err := New(ctx, WithRegion("us-east-1"), WithEndpoint(endpoint), WithForcePathStyle(true))
	require.NoError(t, err)

	l := testLock(t)
	loc, err := c.PutLock(ctx, Location{Bucket: "aind-envs", Key: "dynamicrouting/"}, l)
	require.NoError(t, err)

	head, err := admin.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(loc.Bucket), Key: aws.String(loc.Key)})
	require.NoError(t, err)
	assert.Equal(t, ContentType, aws.ToString(head.ContentType))
	assert.Equal(t, l.BuildID, head.Metadata[MetaBuildID])

	got, err := c.GetLock(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, l.BuildID, got.BuildID)
	assert.Equal(t, l.Packages, got.Packages)

	found, err := c.ListLocks(ctx, Location{Bucket: "aind-envs", Key: "dynamicrouting/"})
	require.NoError(t, err)
	assert.Equal(t, []Location{loc}, found)

	_, err = c.GetLock(ctx, Location{Bucket: "aind-envs", Key: "missing.lock"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = c.GetLock(ctx, Location{Bucket: "no-such-bucket", Key: "envbuild.lock"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}
